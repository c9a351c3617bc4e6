// SPDX-License-Identifier: MPL-2.0

package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/bychrisr/kaven-cli/pkg/fspath"
)

const (
	fallbackFile    = "credentials.json"
	fallbackKeyFile = "credentials.key"
	envelopeVersion = 1

	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// ErrCorruptFallback reports a fallback file that cannot be opened.
var ErrCorruptFallback = errors.New("fallback credentials file is unreadable")

type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (v *Vault) fallbackPath() string { return filepath.Join(v.dir, fallbackFile) }
func (v *Vault) keyPath() string      { return filepath.Join(v.dir, fallbackKeyFile) }

func (v *Vault) writeFallback(plain []byte) error {
	if err := os.MkdirAll(v.dir, dirPerm); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	if err := os.Chmod(v.dir, dirPerm); err != nil {
		return fmt.Errorf("restrict credentials directory: %w", err)
	}

	key, err := v.loadOrCreateKey()
	if err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, plain, &nonce, key)

	data, err := json.MarshalIndent(envelope{
		Version:    envelopeVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
	if err != nil {
		return err
	}
	return writePrivate(v.fallbackPath(), data)
}

// readFallback returns nil, nil when no fallback file exists.
func (v *Vault) readFallback() ([]byte, error) {
	data, err := os.ReadFile(v.fallbackPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fallback credentials: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: %s", ErrCorruptFallback, v.fallbackPath())
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, fmt.Errorf("%w: bad nonce", ErrCorruptFallback)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrCorruptFallback)
	}

	key, err := v.readKey()
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	plain, ok := secretbox.Open(nil, sealed, &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ErrCorruptFallback)
	}
	return plain, nil
}

// removeFallback deletes the fallback file and its key. Missing files are
// not an error.
func (v *Vault) removeFallback() error {
	var errs []error
	for _, p := range []string{v.fallbackPath(), v.keyPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Vault) loadOrCreateKey() (*[32]byte, error) {
	key, err := v.readKey()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var fresh [32]byte
	if _, err := rand.Read(fresh[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := writePrivate(v.keyPath(), fresh[:]); err != nil {
		return nil, err
	}
	return &fresh, nil
}

func (v *Vault) readKey() (*[32]byte, error) {
	raw, err := os.ReadFile(v.keyPath())
	if err != nil {
		return nil, fmt.Errorf("read credentials key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: key file has %d bytes", ErrCorruptFallback, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func writePrivate(path string, data []byte) error {
	if err := fspath.WriteFileAtomic(path, data, filePerm); err != nil {
		return err
	}
	return os.Chmod(path, filePerm)
}
