package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "snsgrab"

// keyringIndex holds the list of stored keys; the keychain cannot enumerate
const keyringIndex = "_index"

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring store after checking the keychain works
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("%w: keyring: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves a session to the system keychain
func (k *KeyringStore) Store(session *Session) error {
	if session == nil || session.Platform == "" || session.Account == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(keyringService, session.Key(), string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(session.Key(), true)
}

// Retrieve gets a session from the system keychain
func (k *KeyringStore) Retrieve(platform, account string) (*Session, error) {
	if platform == "" || account == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, Key(platform, account))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// List returns the sessions named in the index
func (k *KeyringStore) List() ([]*Session, error) {
	keys, err := k.index()
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		data, err := keyring.Get(keyringService, key)
		if err != nil {
			continue
		}
		var s Session
		if json.Unmarshal([]byte(data), &s) == nil {
			sessions = append(sessions, &s)
		}
	}
	return sessions, nil
}

// Delete removes a session from the system keychain
func (k *KeyringStore) Delete(platform, account string) error {
	if platform == "" || account == "" {
		return ErrInvalidCredentials
	}

	key := Key(platform, account)
	if err := keyring.Delete(keyringService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(key, false)
}

// Exists checks if a session exists in the keychain
func (k *KeyringStore) Exists(platform, account string) bool {
	if platform == "" || account == "" {
		return false
	}
	_, err := keyring.Get(keyringService, Key(platform, account))
	return err == nil
}

func (k *KeyringStore) index() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return keys, nil
}

func (k *KeyringStore) updateIndex(key string, add bool) error {
	keys, err := k.index()
	if err != nil {
		return err
	}

	out := keys[:0]
	for _, existing := range keys {
		if existing != key {
			out = append(out, existing)
		}
	}
	if add {
		out = append(out, key)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, keyringIndex, string(data))
}
