package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lmi-cli/lmi/internal/auth"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// KeyringService is the fixed application identifier the SSO record is
// stored under in the OS credential facility.
const KeyringService = "lmi-cli-sso"

// KeyringStore persists the interactive session token through the operating
// system's secure credential facility. There is no plaintext fallback: when
// the facility is unavailable the operation fails with a StorageError
// instead of silently degrading to file storage.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a store under the default service identifier.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: KeyringService}
}

// Get reads the record for key; an absent entry returns (nil, nil).
func (s *KeyringStore) Get(ctx context.Context, key string) (*auth.Token, error) {
	secret, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, &auth.StorageError{Op: "get", Key: key, Err: err}
	}
	var token auth.Token
	if err = json.Unmarshal([]byte(secret), &token); err != nil {
		return nil, &auth.StorageError{Op: "get", Key: key, Err: err}
	}
	return &token, nil
}

// Put replaces the record for key in full.
func (s *KeyringStore) Put(ctx context.Context, key string, token *auth.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	if err = keyring.Set(s.service, key, string(data)); err != nil {
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	log.Debugf("saved %q record to the system keyring", key)
	return nil
}

// Delete removes the record for key; deleting an absent record is not an
// error.
func (s *KeyringStore) Delete(ctx context.Context, key string) error {
	if err := keyring.Delete(s.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return &auth.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}
