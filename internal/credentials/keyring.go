package credentials

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringKV stores credentials in the operating system keychain via the
// 99designs/keyring abstraction (Keychain on macOS, Secret Service on
// Linux, Credential Manager on Windows).
type KeyringKV struct {
	ring keyring.Keyring
}

// NewKeyringKV opens the OS keychain under the given service name.
func NewKeyringKV(serviceName string) (*KeyringKV, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &KeyringKV{ring: ring}, nil
}

func (k *KeyringKV) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return string(item.Data), nil
}

func (k *KeyringKV) Set(key, value string) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Label: "patientcore " + key,
		Data:  []byte(value),
	})
	if err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (k *KeyringKV) Delete(key string) error {
	err := k.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}
