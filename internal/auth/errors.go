package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conditions that carry no payload beyond their identity.
var (
	// ErrStateMismatch indicates the state returned by the authorization
	// callback did not match the one generated for the login request. The
	// login aborts and no code exchange is attempted.
	ErrStateMismatch = errors.New("lmi auth: callback state mismatch, possible CSRF")

	// ErrLoginTimeout indicates no authorization callback arrived within the
	// interactive login window.
	ErrLoginTimeout = errors.New("lmi auth: login timed out waiting for callback")
)

// ConfigError reports a missing or invalid AuthConfig field. It is raised
// during validation, before any network call is made.
type ConfigError struct {
	Environment string
	Missing     []string
	Reason      string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("lmi auth: invalid configuration for environment %q: missing %s",
			e.Environment, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("lmi auth: invalid configuration for environment %q: %s", e.Environment, e.Reason)
}

// NetworkError wraps a transport-level failure reaching the identity provider.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("lmi auth: request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IdpError reports a request the identity provider rejected. It carries the
// HTTP status along with the OAuth error code and description when the
// provider supplied them.
type IdpError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *IdpError) Error() string {
	msg := fmt.Sprintf("lmi auth: identity provider returned status %d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

// RefreshFailedError indicates the identity provider rejected a refresh
// token. The cached record has been deleted and a full login is required.
type RefreshFailedError struct {
	Environment string
	Err         error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("lmi auth: refresh failed for environment %q, full login required: %v", e.Environment, e.Err)
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

// StorageError reports a credential store read or write failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lmi auth: store %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AuthError is the terminal failure surfaced by the authenticated request
// executor. Retried records whether the single 401 recovery attempt already
// happened.
type AuthError struct {
	Environment string
	Retried     bool
	Err         error
}

func (e *AuthError) Error() string {
	if e.Retried {
		return fmt.Sprintf("lmi auth: request for environment %q unauthorized after one retry: %v", e.Environment, e.Err)
	}
	return fmt.Sprintf("lmi auth: request for environment %q unauthorized: %v", e.Environment, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
