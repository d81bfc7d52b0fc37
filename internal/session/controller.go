package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"ecotrack.org/internal/obs"
)

// User is the identity mirrored from the remote service. The session layer
// never mutates it independently.
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Role       string `json:"role"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
}

// IsAdmin reports whether the user may perform administrative record actions.
func (u User) IsAdmin() bool {
	return u.Role == "admin" || u.Role == "super_admin"
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

// Controller orchestrates login, logout and silent renewal. It is the sole
// writer of the credential Store and is constructed explicitly; there is no
// ambient global session.
type Controller struct {
	store    *Store
	d        *Dispatcher
	ring     Keyring
	notifier Notifier
	now      func() time.Time

	mu      sync.RWMutex
	user    User
	hasUser bool
}

// ControllerOption configures the Controller.
type ControllerOption func(*Controller)

// WithNotifier wires an event transport; default is Nop.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewController wires a controller to its dispatcher and store, and binds
// itself as the dispatcher's renewal authority.
func NewController(d *Dispatcher, store *Store, ring Keyring, opts ...ControllerOption) *Controller {
	if ring == nil {
		ring = NewMemKeyring()
	}
	c := &Controller{
		store:    store,
		d:        d,
		ring:     ring,
		notifier: Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	d.Bind(c)
	return c
}

// Login authenticates against the remote service. On success the credential
// pair and identity are stored; on failure no state changes.
func (c *Controller) Login(ctx context.Context, email, password string) (User, error) {
	var resp authResponse
	err := c.d.DoPublic(ctx, http.MethodPost, "/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return User{}, err
	}

	cred := Credential{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := c.store.Set(cred); err != nil {
		return User{}, err
	}
	c.setUser(resp.User)
	c.notifier.Notify(ctx, Event{
		Type: EventLoggedIn, At: c.now().UTC(),
		Fields: map[string]any{"user_id": resp.User.ID},
	})
	return resp.User, nil
}

// Logout notifies the remote service best-effort and always clears local
// state, even when the remote call fails.
func (c *Controller) Logout(ctx context.Context) {
	if cred, ok := c.store.Get(); ok {
		err := c.d.DoWithToken(ctx, http.MethodPost, "/v1/auth/logout", cred.AccessToken,
			map[string]string{"refresh_token": cred.RefreshToken}, nil)
		if err != nil {
			obs.Warn("remote logout failed", map[string]any{"error": err.Error()})
		}
	}
	c.clearLocal(ctx, EventLoggedOut)
}

// Refresh renews the credential pair through the dispatcher's single-flight
// latch; concurrent callers share one renewal. On failure all state is
// cleared, forcing re-login.
func (c *Controller) Refresh(ctx context.Context) error {
	_, err := c.d.Renew(ctx)
	return err
}

// RenewCredential performs one actual renewal. Only the dispatcher's latch
// calls it; everyone else goes through Refresh. If the session was logged
// out while the renewal was in flight, the fresh pair is discarded.
func (c *Controller) RenewCredential(ctx context.Context) (Credential, error) {
	cred, ok := c.store.Get()
	if !ok || cred.RefreshToken == "" {
		return Credential{}, apiError(http.StatusUnauthorized, "no refresh token")
	}
	gen := c.store.Generation()

	var resp authResponse
	err := c.d.DoWithToken(ctx, http.MethodPost, "/v1/auth/refresh", cred.RefreshToken, nil, &resp)
	if err != nil {
		c.clearLocal(ctx, EventRenewalFailed)
		return Credential{}, err
	}

	fresh := Credential{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	stored, err := c.store.SetIfGeneration(gen, fresh)
	if err != nil {
		c.clearLocal(ctx, EventRenewalFailed)
		return Credential{}, err
	}
	if !stored {
		obs.SessionRenewals.WithLabelValues("discarded").Inc()
		return Credential{}, ErrSessionClosed
	}
	if resp.User.ID != "" {
		c.setUser(resp.User)
	}
	return fresh, nil
}

// ForceLogout tears the session down locally after an irrecoverable
// authorization failure. No remote call: the credential is already dead.
func (c *Controller) ForceLogout(ctx context.Context) {
	c.clearLocal(ctx, EventLoggedOut)
}

// CurrentUser re-validates the cached identity against the remote service.
// An authorization failure logs the session out and reports "not
// authenticated" instead of raising.
func (c *Controller) CurrentUser(ctx context.Context) (User, bool, error) {
	if !c.IsAuthenticated() {
		return User{}, false, nil
	}
	var u User
	if err := c.d.Do(ctx, http.MethodGet, "/v1/auth/me", nil, &u); err != nil {
		if isUnauthorized(err) {
			c.clearLocal(ctx, EventLoggedOut)
			return User{}, false, nil
		}
		return User{}, false, err
	}
	c.setUser(u)
	return u, true, nil
}

// IsAuthenticated is a pure read of the credential store.
func (c *Controller) IsAuthenticated() bool {
	_, ok := c.store.Get()
	return ok
}

// CachedUser returns the locally cached identity without a network call.
func (c *Controller) CachedUser() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.hasUser
}

// Restore reconstructs credential and cached identity from the keyring
// without any network round trip.
func (c *Controller) Restore() error {
	if err := c.store.Restore(); err != nil {
		return err
	}
	raw, ok, err := c.ring.Load(keyIdentity)
	if err != nil || !ok {
		return err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return c.ring.Delete(keyIdentity)
	}
	c.mu.Lock()
	c.user = u
	c.hasUser = true
	c.mu.Unlock()
	return nil
}

// Bootstrap restores persisted state and validates it in the background.
// Startup never blocks on the network; a failed validation simply leaves
// the session unauthenticated.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if err := c.Restore(); err != nil {
		return err
	}
	if !c.IsAuthenticated() {
		return nil
	}
	go func() {
		_, _, _ = c.CurrentUser(ctx)
	}()
	return nil
}

func (c *Controller) setUser(u User) {
	c.mu.Lock()
	c.user = u
	c.hasUser = true
	c.mu.Unlock()
	if data, err := json.Marshal(u); err == nil {
		_ = c.ring.Save(keyIdentity, string(data))
	}
}

func (c *Controller) clearLocal(ctx context.Context, event string) {
	_ = c.store.Clear()
	_ = c.ring.Delete(keyIdentity)
	c.mu.Lock()
	c.user = User{}
	c.hasUser = false
	c.mu.Unlock()
	c.notifier.Notify(ctx, Event{Type: event, At: c.now().UTC()})
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
