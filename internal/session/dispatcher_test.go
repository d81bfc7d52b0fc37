package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRemote is an httptest-backed stand-in for the remote service. It
// issues "fresh"/"rotated" on refresh and accepts only the fresh access
// token on data calls.
type fakeRemote struct {
	t *testing.T

	refreshCalls int64
	refreshDelay time.Duration
	refreshGate  chan struct{} // when non-nil, refresh blocks until closed
	refreshFail  bool

	dataCalls int64

	mux *http.ServeMux
	srv *httptest.Server
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{t: t, mux: http.NewServeMux()}

	f.mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.refreshCalls, 1)
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}
		if f.refreshFail || r.Header.Get("Authorization") != "Bearer stale-refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "refresh token revoked"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh",
			"refresh_token": "rotated",
			"expires_in":    900,
		})
	})
	f.mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("/v1/data", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.dataCalls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestSession(t *testing.T, f *fakeRemote) (*Dispatcher, *Store, *Controller) {
	t.Helper()
	store := NewStore(nil)
	d := NewDispatcher(f.srv.URL, store, WithRequestTimeout(5*time.Second))
	c := NewController(d, store, nil)
	return d, store, c
}

func seedStale(t *testing.T, store *Store) {
	t.Helper()
	if err := store.Set(Credential{AccessToken: "stale-access", RefreshToken: "stale-refresh"}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func TestSingleFlightRenewalUnderConcurrent401s(t *testing.T) {
	f := newFakeRemote(t)
	f.refreshDelay = 50 * time.Millisecond
	d, store, _ := newTestSession(t, f)
	seedStale(t, store)

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out map[string]bool
			errs[i] = d.Do(context.Background(), http.MethodGet, "/v1/data", nil, &out)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&f.refreshCalls); got != 1 {
		t.Fatalf("refresh called %d times, want exactly 1", got)
	}
	cred, ok := store.Get()
	if !ok || cred.AccessToken != "fresh" || cred.RefreshToken != "rotated" {
		t.Fatalf("store not updated with renewed pair: %+v ok=%v", cred, ok)
	}
}

func TestConcurrentRefreshSharesOneRenewal(t *testing.T) {
	f := newFakeRemote(t)
	f.refreshDelay = 50 * time.Millisecond
	_, store, c := newTestSession(t, f)
	seedStale(t, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("refresh errors: %v, %v", errs[0], errs[1])
	}
	if got := atomic.LoadInt64(&f.refreshCalls); got != 1 {
		t.Fatalf("refresh called %d times, want 1", got)
	}
	cred, _ := store.Get()
	if cred.AccessToken != "fresh" {
		t.Fatalf("unexpected credential after shared refresh: %+v", cred)
	}
}

func TestUnauthorizedWithoutRefreshTokenNoRetry(t *testing.T) {
	f := newFakeRemote(t)
	d, _, _ := newTestSession(t, f)

	err := d.Do(context.Background(), http.MethodGet, "/v1/data", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := atomic.LoadInt64(&f.refreshCalls); got != 0 {
		t.Fatalf("refresh must not be attempted without a refresh token, got %d calls", got)
	}
	if got := atomic.LoadInt64(&f.dataCalls); got != 1 {
		t.Fatalf("request retried without renewal: %d calls", got)
	}
}

func TestFailedRenewalForcesLogout(t *testing.T) {
	f := newFakeRemote(t)
	f.refreshFail = true
	d, store, _ := newTestSession(t, f)
	seedStale(t, store)

	err := d.Do(context.Background(), http.MethodGet, "/v1/data", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("credential store not cleared after failed renewal")
	}
	if got := atomic.LoadInt64(&f.dataCalls); got != 1 {
		t.Fatalf("request must not be replayed after failed renewal: %d calls", got)
	}
}

func TestSecond401AfterRenewalForcesLogout(t *testing.T) {
	f := newFakeRemote(t)
	// Data endpoint rejects even the fresh token.
	f.mux.HandleFunc("/v1/locked", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	d, store, _ := newTestSession(t, f)
	seedStale(t, store)

	err := d.Do(context.Background(), http.MethodGet, "/v1/locked", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := atomic.LoadInt64(&f.refreshCalls); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("session must be torn down after a 401 on the retried request")
	}
}

func TestLogoutDuringInFlightRenewalDiscardsResult(t *testing.T) {
	f := newFakeRemote(t)
	f.refreshGate = make(chan struct{})
	_, store, c := newTestSession(t, f)
	seedStale(t, store)

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- c.Refresh(context.Background()) }()

	// Wait for the renewal to reach the remote, then log out underneath it.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&f.refreshCalls) == 0 {
		select {
		case <-deadline:
			t.Fatal("renewal never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	c.Logout(context.Background())
	close(f.refreshGate)

	if err := <-refreshDone; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("renewal resurrected a logged-out session")
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, ErrValidation},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"server error", http.StatusInternalServerError, ErrServer},
		{"bad gateway", http.StatusBadGateway, ErrServer},
		{"teapot", http.StatusTeapot, ErrUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
			}))
			defer srv.Close()

			d := NewDispatcher(srv.URL, NewStore(nil))
			err := d.Do(context.Background(), http.MethodGet, "/v1/x", nil, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d classified as %v, want %v", tc.status, err, tc.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tc.status {
				t.Fatalf("missing APIError detail for status %d: %v", tc.status, err)
			}
			if !strings.Contains(apiErr.Message, "boom") {
				t.Fatalf("remote message lost: %q", apiErr.Message)
			}
		})
	}
}

func TestNetworkFailureClassifiedWithoutRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable from here on

	d := NewDispatcher(srv.URL, NewStore(nil))
	err := d.Do(context.Background(), http.MethodGet, "/v1/x", nil, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
