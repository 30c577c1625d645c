package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/lmi-cli/lmi/internal/auth"
)

// The in-memory mock keyring is global, so these tests share one backend and
// must not run in parallel with each other.

func TestKeyringStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()
	ctx := context.Background()

	token := &auth.Token{
		AccessToken:  "tok-sso",
		RefreshToken: "refresh-sso",
		IDToken:      "id-sso",
		TokenType:    "Bearer",
		IssuedAt:     1_700_000_000,
		ExpiresAt:    1_700_003_600,
	}
	if err := s.Put(ctx, "sso", token); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, "sso")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got, token) {
		t.Errorf("Get() = %+v, want %+v", got, token)
	}
}

func TestKeyringStoreGetAbsent(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()

	got, err := s.Get(context.Background(), "sso-absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil for an absent record", got)
	}
}

func TestKeyringStoreDelete(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStore()
	ctx := context.Background()

	if err := s.Put(ctx, "sso", &auth.Token{AccessToken: "tok"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete(ctx, "sso"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := s.Get(ctx, "sso")
	if err != nil || got != nil {
		t.Errorf("Get() after delete = %+v, %v; want nil, nil", got, err)
	}

	// Deleting an absent record is not an error.
	if err := s.Delete(ctx, "sso"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestKeyringStoreMalformedRecord(t *testing.T) {
	keyring.MockInit()
	if err := keyring.Set(KeyringService, "sso", "{corrupt"); err != nil {
		t.Fatal(err)
	}
	s := NewKeyringStore()

	_, err := s.Get(context.Background(), "sso")
	if !isStorageError(err) {
		t.Fatalf("Get() error = %v, want *StorageError for a malformed keyring record", err)
	}
}
