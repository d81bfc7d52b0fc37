package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ecotrack.org/internal/obs"
)

const defaultTimeout = 15 * time.Second

// Authority performs the actual credential renewal and forced logout. The
// session Controller is the only implementation; the indirection exists so
// the dispatcher owns the single-flight latch while the controller stays
// the sole writer of session state.
type Authority interface {
	RenewCredential(ctx context.Context) (Credential, error)
	ForceLogout(ctx context.Context)
}

// Dispatcher executes calls against the remote service: it attaches the
// current access token, classifies failures, and on a 401 collapses all
// concurrent callers into a single renewal before replaying each request
// exactly once.
type Dispatcher struct {
	base   string
	client *http.Client
	store  *Store

	authority Authority

	mu       sync.Mutex
	inflight *renewal
}

type renewal struct {
	done chan struct{}
	cred Credential
	err  error
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the transport (useful for tests).
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

// WithRequestTimeout bounds every outbound call, renewals included.
func WithRequestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.client.Timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher for the service at base.
func NewDispatcher(base string, store *Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultTimeout},
		store:  store,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind attaches the renewal authority. Must be called before Do sees a 401.
func (d *Dispatcher) Bind(a Authority) { d.authority = a }

// Do executes an authenticated JSON call. On 401 with a refresh token
// available it renews once through the shared latch and replays the request
// a single time; a second 401 forces logout and surfaces Unauthorized.
func (d *Dispatcher) Do(ctx context.Context, method, path string, body, out any) error {
	payload, err := marshalBody(body)
	if err != nil {
		return err
	}

	cred, ok := d.store.Get()
	token := ""
	if ok {
		token = cred.AccessToken
	}

	status, data, err := d.send(ctx, method, path, payload, token)
	if err != nil {
		return networkError(err)
	}
	if status < 300 {
		return unmarshalBody(data, out)
	}
	if status != http.StatusUnauthorized {
		return apiError(status, remoteMessage(data))
	}

	if !ok || cred.RefreshToken == "" {
		return apiError(status, remoteMessage(data))
	}

	renewed, rerr := d.Renew(ctx)
	if rerr != nil {
		return &APIError{
			Status:  http.StatusUnauthorized,
			Message: "credential renewal failed: " + rerr.Error(),
			kind:    ErrUnauthorized,
		}
	}

	status, data, err = d.send(ctx, method, path, payload, renewed.AccessToken)
	if err != nil {
		return networkError(err)
	}
	if status < 300 {
		return unmarshalBody(data, out)
	}
	if status == http.StatusUnauthorized {
		// Fresh token rejected: the session is dead. Never retried again.
		if d.authority != nil {
			d.authority.ForceLogout(ctx)
		}
	}
	return apiError(status, remoteMessage(data))
}

// DoPublic executes an unauthenticated call (login, registration). No
// bearer token is attached and a 401 is surfaced directly.
func (d *Dispatcher) DoPublic(ctx context.Context, method, path string, body, out any) error {
	return d.doWithToken(ctx, method, path, "", body, out)
}

// DoWithToken executes a call with an explicit bearer token and no retry.
// The controller uses it for renewal (refresh token as bearer) and logout.
func (d *Dispatcher) DoWithToken(ctx context.Context, method, path, token string, body, out any) error {
	return d.doWithToken(ctx, method, path, token, body, out)
}

func (d *Dispatcher) doWithToken(ctx context.Context, method, path, token string, body, out any) error {
	payload, err := marshalBody(body)
	if err != nil {
		return err
	}
	status, data, err := d.send(ctx, method, path, payload, token)
	if err != nil {
		return networkError(err)
	}
	if status >= 300 {
		return apiError(status, remoteMessage(data))
	}
	return unmarshalBody(data, out)
}

// Renew collapses concurrent renewal requests into one call to the bound
// authority. Every waiter observes the same credential or the same failure.
func (d *Dispatcher) Renew(ctx context.Context) (Credential, error) {
	if d.authority == nil {
		return Credential{}, errors.New("session: no renewal authority bound")
	}

	d.mu.Lock()
	if r := d.inflight; r != nil {
		d.mu.Unlock()
		obs.SessionRenewals.WithLabelValues("shared").Inc()
		select {
		case <-r.done:
			return r.cred, r.err
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	r := &renewal{done: make(chan struct{})}
	d.inflight = r
	d.mu.Unlock()

	// The outcome is shared by every waiter, so one caller's cancellation
	// must not poison it. The transport timeout bounds the call instead.
	r.cred, r.err = d.authority.RenewCredential(context.WithoutCancel(ctx))

	d.mu.Lock()
	d.inflight = nil
	d.mu.Unlock()
	close(r.done)

	if r.err != nil {
		obs.SessionRenewals.WithLabelValues("failed").Inc()
	} else {
		obs.SessionRenewals.WithLabelValues("renewed").Inc()
	}
	return r.cred, r.err
}

func (d *Dispatcher) send(ctx context.Context, method, path string, payload []byte, token string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

func unmarshalBody(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func remoteMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return ""
}
