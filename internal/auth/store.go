package auth

import "context"

// TokenStore is the capability the provider needs from a credential store:
// whole-record get/put/delete over an opaque key. The file-backed service
// store and the OS-keyring SSO store both implement it; the caller picks
// which one a provider writes through.
//
// Get returns (nil, nil) when no record exists for the key. Put fully
// replaces any prior record. Implementations report their own failures as
// *StorageError.
type TokenStore interface {
	Get(ctx context.Context, key string) (*Token, error)
	Put(ctx context.Context, key string, token *Token) error
	Delete(ctx context.Context, key string) error
}
