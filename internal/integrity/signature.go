// SPDX-License-Identifier: MPL-2.0

package integrity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidLength is wrapped by *LengthError.
var ErrInvalidLength = errors.New("invalid key or signature length")

// LengthError reports a decoded signature or key of the wrong size.
type LengthError struct {
	What     string
	Expected int
	Got      int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s must be %d bytes, got %d", e.What, e.Expected, e.Got)
}

func (e *LengthError) Unwrap() error { return ErrInvalidLength }

// DecodePublicKey decodes a hex Ed25519 public key.
func DecodePublicKey(keyHex string) (ed25519.PublicKey, error) {
	raw, err := decodeHex("public key", keyHex, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSignature decodes a hex Ed25519 signature without verifying it.
func DecodeSignature(sigHex string) ([]byte, error) {
	return decodeHex("signature", sigHex, ed25519.SignatureSize)
}

// VerifySignature reports whether sigHex is a valid Ed25519 signature of the
// bytes of the file at path under keyHex. A well-formed signature that does
// not verify returns false and a nil error.
func VerifySignature(path, sigHex, keyHex string) (bool, error) {
	key, err := DecodePublicKey(keyHex)
	if err != nil {
		return false, err
	}
	return verifyWithKey(path, sigHex, key)
}

func verifyWithKey(path, sigHex string, key ed25519.PublicKey) (bool, error) {
	sig, err := decodeHex("signature", sigHex, ed25519.SignatureSize)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return ed25519.Verify(key, data, sig), nil
}

func decodeHex(what, s string, size int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", what, err)
	}
	if len(raw) != size {
		return nil, &LengthError{What: what, Expected: size, Got: len(raw)}
	}
	return raw, nil
}
