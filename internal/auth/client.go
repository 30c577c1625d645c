package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Client executes outbound API calls with a valid bearer token attached,
// masking grant mechanics from callers. Its only recovery behavior is the
// single 401 retry: invalidate the cached token, acquire again (refresh
// first when possible), and replay the request exactly once. Everything
// else — timeouts, transport errors, non-auth statuses — passes through
// unmodified.
type Client struct {
	provider   *TokenProvider
	env        string
	httpClient *http.Client
}

// NewClient wraps the provider for one environment. A nil httpClient gets a
// default with a sane timeout.
func NewClient(provider *TokenProvider, env string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{provider: provider, env: env, httpClient: httpClient}
}

// Do performs the request with a bearer token attached. Requests with a body
// must be built through http.NewRequest (or carry GetBody) so the single
// retry can replay them.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	reqID := strings.Split(uuid.NewString(), "-")[0]
	logger := log.WithField("request_id", reqID)

	token, err := c.provider.Acquire(req.Context(), c.env)
	if err != nil {
		return nil, &AuthError{Environment: c.env, Err: err}
	}

	attempt, err := c.cloneRequest(req)
	if err != nil {
		return nil, err
	}
	attempt.Header.Set("Authorization", token.Type()+" "+token.AccessToken)

	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// One recovery cycle: drop the cached token, acquire a fresh one (the
	// provider prefers refresh over full reacquisition), replay once.
	logger.Warnf("unauthorized response for environment %q, reacquiring token and retrying once", c.env)
	drain(resp)

	if err = c.provider.Invalidate(req.Context(), c.env); err != nil {
		return nil, &AuthError{Environment: c.env, Err: err}
	}
	token, err = c.provider.Acquire(req.Context(), c.env)
	if err != nil {
		return nil, &AuthError{Environment: c.env, Retried: true, Err: err}
	}

	retry, err := c.cloneRequest(req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set("Authorization", token.Type()+" "+token.AccessToken)

	resp, err = c.httpClient.Do(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, &AuthError{
			Environment: c.env,
			Retried:     true,
			Err:         errors.New("request unauthorized again after token reacquisition"),
		}
	}
	return resp, nil
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post issues an authenticated POST.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// cloneRequest produces a sendable copy with a fresh body so the original
// request can be replayed after a 401.
func (c *Client) cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, &AuthError{
			Environment: c.env,
			Err:         errors.New("request body is not replayable"),
		}
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
