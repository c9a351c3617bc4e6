// SPDX-License-Identifier: MPL-2.0

// Package projectlock serializes installs and removals within one project.
// The lock is a file created with O_EXCL that records its owner; a lock
// whose owner is no longer running is reclaimed once.
package projectlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// ErrLockContention is wrapped by *LockContentionError.
var ErrLockContention = errors.New("project is locked by another kaven process")

type (
	// Owner identifies the process holding a lock. StartTime is the process
	// creation time in Unix milliseconds; together with PID it survives PID
	// reuse.
	Owner struct {
		PID       int    `json:"pid"`
		StartTime int64  `json:"start_time"`
		Host      string `json:"host"`
	}

	// LockContentionError reports a lock held by a live process.
	LockContentionError struct {
		Path  string
		Owner Owner
	}

	// Lock is a held project lock.
	Lock struct {
		path   string
		owner  Owner
		logger *log.Logger
	}

	// Option configures Acquire.
	Option func(*options)

	options struct {
		self   func() (Owner, error)
		alive  func(Owner) bool
		logger *log.Logger
	}
)

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("%s is held by pid %d on %s", e.Path, e.Owner.PID, e.Owner.Host)
}

func (e *LockContentionError) Unwrap() error { return ErrLockContention }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLiveness replaces the process liveness probe.
func WithLiveness(alive func(Owner) bool) Option {
	return func(o *options) { o.alive = alive }
}

// WithOwner replaces the identity written into the lock.
func WithOwner(self func() (Owner, error)) Option {
	return func(o *options) { o.self = self }
}

// Acquire takes the lock at path. A stale lock is force-released and
// acquisition is retried once.
func Acquire(path string, opts ...Option) (*Lock, error) {
	o := options{self: CurrentOwner, alive: Alive}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}

	self, err := o.self()
	if err != nil {
		return nil, fmt.Errorf("identify lock owner: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err := create(path, self)
		if err == nil {
			return &Lock{path: path, owner: self, logger: o.logger}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}

		holder, readErr := readOwner(path)
		if errors.Is(readErr, fs.ErrNotExist) && attempt == 0 {
			continue
		}
		if readErr == nil && o.alive(holder) {
			return nil, &LockContentionError{Path: path, Owner: holder}
		}
		if attempt > 0 {
			return nil, &LockContentionError{Path: path, Owner: holder}
		}

		o.logger.Warn("removing stale project lock", "path", path, "pid", holder.PID, "host", holder.Host)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
}

// Release removes the lock file if this process still owns it. It is safe
// to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	defer func() { l.path = "" }()

	holder, err := readOwner(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && holder != l.owner {
		l.logger.Warn("project lock was taken over, leaving it in place", "path", l.path, "pid", holder.PID)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func create(path string, self Owner) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path) // Best-effort cleanup of a half-written lock
		}
	}()
	return json.NewEncoder(f).Encode(self)
}

// readOwner decodes the lock file. An unreadable body is reported as a
// zero Owner, which no liveness probe considers alive.
func readOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		return Owner{}, nil //nolint:nilerr // A corrupt lock is treated as stale.
	}
	return o, nil
}
