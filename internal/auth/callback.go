package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultLoginTimeout bounds the interactive login window: how long the
// callback listener waits for the browser redirect before giving up.
const DefaultLoginTimeout = 120 * time.Second

// callbackPath is the fixed path the authorization redirect must hit.
const callbackPath = "/callback"

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>lmi login</title></head>
<body>
<h1>Authentication successful</h1>
<p>You can close this window and return to the CLI.</p>
</body>
</html>`

// CallbackResult carries the outcome of one authorization redirect: either a
// code/state pair or the error the identity provider reported.
type CallbackResult struct {
	Code  string
	State string
	Err   string
}

// CallbackServer is the short-lived loopback listener that captures exactly
// one authorization redirect. It binds an ephemeral port (or a fixed port
// hint), serves the single callback, and is always torn down before the
// login flow returns, whichever way the wait ends.
type CallbackServer struct {
	srv      *http.Server
	ln       net.Listener
	port     int
	resultCh chan CallbackResult
	errCh    chan error

	mu       sync.Mutex
	running  bool
	captured bool
}

// NewCallbackServer creates a listener for the given port hint. A hint of
// zero picks an available ephemeral port at Start.
func NewCallbackServer(port int) *CallbackServer {
	return &CallbackServer{
		port:     port,
		resultCh: make(chan CallbackResult, 1),
		errCh:    make(chan error, 1),
	}
}

// Start binds the loopback listener and begins serving the callback path in
// a separate goroutine. The bound port is available through Port afterward.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("lmi auth: callback server already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("lmi auth: bind callback listener: %w", err)
	}
	s.ln = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.running = true

	go func() {
		if errServe := srv.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("lmi auth: callback server failed: %w", errServe)
		}
	}()

	log.Debugf("callback listener bound to 127.0.0.1:%d", s.port)
	return nil
}

// Port returns the bound port. Only meaningful after Start.
func (s *CallbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// RedirectURI returns the loopback redirect URI registered with the
// authorization request.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.Port(), callbackPath)
}

// Wait blocks until the first callback arrives, the timeout elapses, or ctx
// is cancelled. Timeout surfaces as ErrLoginTimeout and cancellation as the
// context's error; both are clean, inspectable outcomes rather than crashes.
// The caller still owns teardown via Stop on every path.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.resultCh:
		return &result, nil
	case err := <-s.errCh:
		return nil, err
	case <-timer.C:
		return nil, ErrLoginTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop unbinds the listener. It is safe to call more than once and after a
// failed Start.
func (s *CallbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.srv.Shutdown(shutdownCtx)
	s.running = false
	s.srv = nil
	s.ln = nil

	log.Debug("callback listener stopped")
	return err
}

// handleCallback captures the first redirect and rejects everything after
// it. The browser gets a minimal confirmation page; the waiting login flow
// gets the parsed result.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	first := !s.captured
	s.captured = true
	s.mu.Unlock()
	if !first {
		http.Error(w, "login already completed", http.StatusConflict)
		return
	}

	query := r.URL.Query()
	result := CallbackResult{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Err:   query.Get("error"),
	}

	if result.Err != "" {
		log.Warnf("authorization callback reported error: %s", result.Err)
		http.Error(w, "authorization failed: "+result.Err, http.StatusBadRequest)
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(callbackPage)); err != nil {
			log.Debugf("write callback page: %v", err)
		}
	}

	select {
	case s.resultCh <- result:
	default:
	}
}
