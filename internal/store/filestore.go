// Package store provides the two credential sub-stores behind the
// auth.TokenStore interface: a file-backed cache for service tokens and an
// OS-keyring record for the interactive SSO session.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmi-cli/lmi/internal/auth"
	log "github.com/sirupsen/logrus"
)

// FileStore persists one JSON token record per environment under a cache
// directory. Writes are atomic (temp file then rename), so a crash mid-write
// never leaves a corrupt record; a missing or malformed record reads as
// absent rather than failing the caller.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultDir returns the per-user token cache directory.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("lmi store: resolve cache dir: %w", err)
	}
	return filepath.Join(base, "lmi", "tokens"), nil
}

// Get reads the record for key. Missing and malformed records are absent.
func (s *FileStore) Get(ctx context.Context, key string) (*auth.Token, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &auth.StorageError{Op: "get", Key: key, Err: err}
	}
	var token auth.Token
	if err = json.Unmarshal(data, &token); err != nil {
		log.Warnf("discarding malformed token record for %q: %v", key, err)
		return nil, nil
	}
	return &token, nil
}

// Put replaces the record for key in full. The record is written to a
// temporary file in the same directory and renamed into place.
func (s *FileStore) Put(ctx context.Context, key string, token *auth.Token) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(s.dir, 0o700); err != nil {
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}

	data, err := json.Marshal(token)
	if err != nil {
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &auth.StorageError{Op: "put", Key: key, Err: err}
	}
	log.Debugf("saved token record for %q", key)
	return nil
}

// Delete removes the record for key; deleting an absent record is not an
// error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &auth.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", &auth.StorageError{Op: "resolve", Key: key, Err: errors.New("invalid environment name")}
	}
	return filepath.Join(s.dir, key+".json"), nil
}
