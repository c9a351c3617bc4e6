// SPDX-License-Identifier: MPL-2.0

package vault

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "kaven-cli"
	keyringAccount = "credentials"
)

// ErrSecretNotFound is returned by a SecretStore that holds no secret.
var ErrSecretNotFound = errors.New("secret not found")

type (
	// SecretStore is a platform secret store keyed by service and account.
	SecretStore interface {
		Set(service, account, secret string) error
		Get(service, account string) (string, error)
		Delete(service, account string) error
	}

	keyringStore struct{}

	// MemoryStore is an in-process SecretStore.
	MemoryStore struct {
		mu      sync.Mutex
		secrets map[string]string
	}
)

// NativeStore returns the OS secret store.
func NativeStore() SecretStore { return keyringStore{} }

func (keyringStore) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

func (keyringStore) Get(service, account string) (string, error) {
	s, err := keyring.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	return s, err
}

func (keyringStore) Delete(service, account string) error {
	err := keyring.Delete(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrSecretNotFound
	}
	return err
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (m *MemoryStore) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[service+"/"+account] = secret
	return nil
}

func (m *MemoryStore) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return s, nil
}

func (m *MemoryStore) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := service + "/" + account
	if _, ok := m.secrets[key]; !ok {
		return ErrSecretNotFound
	}
	delete(m.secrets, key)
	return nil
}
