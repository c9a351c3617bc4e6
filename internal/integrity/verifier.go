// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

var (
	// ErrIntegrity is wrapped by every *IntegrityError.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrNoTrustedKey is returned by NewVerifier when no publisher key is configured.
	ErrNoTrustedKey = errors.New("no trusted publisher key configured")
)

type (
	// Artifact is a downloaded file together with its declared checksum and
	// detached signature.
	Artifact struct {
		// Name identifies the artifact in messages, e.g. "payments@1.0.0 package".
		Name      string
		Path      string
		Checksum  string
		Signature string
	}

	// IntegrityError reports an artifact that failed verification.
	IntegrityError struct {
		Artifact string
		Reason   string
		Err      error
	}

	// Verifier checks artifacts against a pinned publisher key.
	Verifier struct {
		key    ed25519.PublicKey
		logger *log.Logger
	}
)

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Artifact, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Artifact, e.Reason)
}

func (e *IntegrityError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrIntegrity, e.Err}
	}
	return []error{ErrIntegrity}
}

// NewVerifier pins publisherKeyHex. An empty key is a configuration error,
// never a way to skip verification.
func NewVerifier(publisherKeyHex string, logger *log.Logger) (*Verifier, error) {
	if publisherKeyHex == "" {
		return nil, ErrNoTrustedKey
	}
	key, err := DecodePublicKey(publisherKeyHex)
	if err != nil {
		return nil, fmt.Errorf("trust.publisher_key: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Verifier{key: key, logger: logger}, nil
}

// VerifyArtifact requires both a matching checksum and a valid signature.
func (v *Verifier) VerifyArtifact(a Artifact) error {
	name := a.Name
	if name == "" {
		name = a.Path
	}

	if err := VerifyChecksum(a.Path, a.Checksum); err != nil {
		return &IntegrityError{Artifact: name, Reason: "checksum mismatch", Err: err}
	}

	ok, err := verifyWithKey(a.Path, a.Signature, v.key)
	if err != nil {
		return &IntegrityError{Artifact: name, Reason: "unusable signature", Err: err}
	}
	if !ok {
		return &IntegrityError{Artifact: name, Reason: "signature does not verify against the pinned publisher key"}
	}

	v.logger.Debug("artifact verified", "artifact", name)
	return nil
}
