package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// newClientFixture returns a Client backed by an in-memory store seeded with
// a valid token, plus the token endpoint hit counter for asserting how many
// reacquisitions happened.
func newClientFixture(t *testing.T, apiHandler http.Handler) (*Client, string, *memStore, *int32) {
	t.Helper()

	var idpHits int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&idpHits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-new",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(idp.Close)

	api := httptest.NewServer(apiHandler)
	t.Cleanup(api.Close)

	st := newMemStore()
	st.tokens["prod"] = &Token{
		AccessToken: "tok-old",
		TokenType:   "Bearer",
		IssuedAt:    1_700_000_000,
		ExpiresAt:   1_700_003_600,
	}
	p := NewTokenProvider(
		map[string]*AuthConfig{"prod": clientCredentialsConfig("prod", idp.URL)},
		st,
		WithClock(fixedClock(1_700_000_000)),
	)
	client := NewClient(p, "prod", api.Client())
	return client, api.URL, st, &idpHits
}

func TestClientAttachesBearerToken(t *testing.T) {
	t.Parallel()

	var apiHits int32
	client, base, _, idpHits := newClientFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiHits, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer tok-old" {
			t.Errorf("Authorization = %q, want \"Bearer tok-old\"", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := client.Get(context.Background(), base+"/resource")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&apiHits); got != 1 {
		t.Errorf("API hits = %d, want 1", got)
	}
	if got := atomic.LoadInt32(idpHits); got != 0 {
		t.Errorf("token endpoint hits = %d, want 0 (cached token was valid)", got)
	}
}

func TestClientRecoversFromSingle401(t *testing.T) {
	t.Parallel()

	var apiHits int32
	client, base, st, idpHits := newClientFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit := atomic.AddInt32(&apiHits, 1)
		if hit == 1 {
			if got := r.Header.Get("Authorization"); got != "Bearer tok-old" {
				t.Errorf("first attempt Authorization = %q, want the cached token", got)
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-new" {
			t.Errorf("retry Authorization = %q, want the reacquired token", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := client.Get(context.Background(), base+"/resource")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after recovery", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&apiHits); got != 2 {
		t.Errorf("API hits = %d, want 2 (original plus one replay)", got)
	}
	if got := atomic.LoadInt32(idpHits); got != 1 {
		t.Errorf("token endpoint hits = %d, want 1", got)
	}
	if cached := st.snapshot("prod"); cached == nil || cached.AccessToken != "tok-new" {
		t.Errorf("cached token = %+v, want the reacquired one", cached)
	}
}

func TestClientFailsAfterSecond401(t *testing.T) {
	t.Parallel()

	var apiHits int32
	client, base, _, _ := newClientFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiHits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Get(context.Background(), base+"/resource")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Get() error = %v, want *AuthError", err)
	}
	if !authErr.Retried {
		t.Error("AuthError.Retried = false, want true after the replay failed")
	}
	if got := atomic.LoadInt32(&apiHits); got != 2 {
		t.Errorf("API hits = %d, want exactly 2 (no second retry)", got)
	}
}

func TestClientPassesThroughNonAuthStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"forbidden", http.StatusForbidden},
		{"not found", http.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var apiHits int32
			client, base, _, idpHits := newClientFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&apiHits, 1)
				w.WriteHeader(tt.status)
			}))

			resp, err := client.Get(context.Background(), base+"/resource")
			if err != nil {
				t.Fatalf("Get() error = %v, want the response passed through", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := atomic.LoadInt32(&apiHits); got != 1 {
				t.Errorf("API hits = %d, want 1 (no retry for non-401)", got)
			}
			if got := atomic.LoadInt32(idpHits); got != 0 {
				t.Errorf("token endpoint hits = %d, want 0", got)
			}
		})
	}
}

func TestClientReplaysRequestBody(t *testing.T) {
	t.Parallel()

	const payload = `{"op":"sync"}`
	var apiHits int32
	client, base, _, _ := newClientFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit := atomic.AddInt32(&apiHits, 1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if string(body) != payload {
			t.Errorf("attempt %d body = %q, want %q", hit, body, payload)
		}
		if hit == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := client.Post(context.Background(), base+"/resource", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&apiHits); got != 2 {
		t.Errorf("API hits = %d, want 2", got)
	}
}

// opaqueReader defeats http.NewRequest's GetBody detection.
type opaqueReader struct{ r io.Reader }

func (o opaqueReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestClientRejectsNonReplayableBody(t *testing.T) {
	t.Parallel()

	client, base, _, _ := newClientFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the API")
	}))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		base+"/resource", opaqueReader{strings.NewReader("data")})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	_, err = client.Do(req)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Do() error = %v, want *AuthError", err)
	}
	if !strings.Contains(authErr.Error(), "not replayable") {
		t.Errorf("error %q does not mention replayability", authErr.Error())
	}
}

func TestClientWrapsAcquireFailure(t *testing.T) {
	t.Parallel()

	p := NewTokenProvider(map[string]*AuthConfig{}, newMemStore())
	client := NewClient(p, "missing", nil)

	_, err := client.Get(context.Background(), "http://127.0.0.1:0/resource")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Get() error = %v, want *AuthError", err)
	}
	if authErr.Retried {
		t.Error("AuthError.Retried = true, want false for a pre-request failure")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("AuthError does not wrap the underlying *ConfigError: %v", err)
	}
}
