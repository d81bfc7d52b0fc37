package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ecotrack.org/internal/auth"
	"ecotrack.org/internal/httpapi"
	"ecotrack.org/internal/session"
	"ecotrack.org/internal/stream"
	"ecotrack.org/internal/waste"
)

type fixture struct {
	srv       *httptest.Server
	authStore *auth.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authStore := auth.NewInMemoryStore()
	authSvc, err := auth.NewService(authStore, "test-secret")
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	api := httpapi.New(httpapi.ReadyProbe{}, "test", authSvc, waste.NewInMemory(), httpapi.WithStream(stream.New()))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, authStore: authStore}
}

// connect registers (or reuses) the account and opens a logged-in session.
func (f *fixture) connect(t *testing.T, email, username, role string) (*Client, *session.Controller) {
	t.Helper()
	ctx := context.Background()

	hash, err := auth.HashPassword("long enough")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &auth.User{
		ID:           username + "-id",
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := f.authStore.Users(ctx).Create(ctx, user); err != nil && !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("create account: %v", err)
	}

	store := session.NewStore(nil)
	d := session.NewDispatcher(f.srv.URL, store)
	c := session.NewController(d, store, nil)
	if _, err := c.Login(ctx, email, "long enough"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return NewClient(d), c
}

func TestClientLifecycleRoundTrip(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.connect(t, "owner@example.com", "owner", auth.RoleUser)
	admin, _ := f.connect(t, "admin@example.com", "boss", auth.RoleAdmin)
	ctx := context.Background()

	rec, err := owner.Create(ctx, waste.Details{
		Type:     waste.TypeElectronic,
		Quantity: 4,
		Location: waste.Location{Label: "drop-off 2"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != waste.StatusPending {
		t.Fatalf("new record status %s", rec.Status)
	}

	if _, err := owner.Collect(ctx, rec.ID); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("non-admin collect: expected ErrForbidden, got %v", err)
	}

	rec, err = admin.Collect(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	rec, err = admin.Process(ctx, rec.ID, "dismantled", waste.DispositionRecycled)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rec.Status != waste.StatusRecycled || rec.PointsAwarded == 0 {
		t.Fatalf("unexpected processed record: %+v", rec)
	}

	// The owner sees the terminal record and the stats reflect it.
	got, err := owner.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != waste.StatusRecycled {
		t.Fatalf("owner sees status %s", got.Status)
	}
	stats, err := owner.Statistics(ctx, "week")
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalRecords != 1 || stats.TotalKg != 4 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestClientListScopedToOwner(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.connect(t, "alice@example.com", "alice", auth.RoleUser)
	bob, _ := f.connect(t, "bob@example.com", "bob", auth.RoleUser)
	ctx := context.Background()

	if _, err := alice.Create(ctx, waste.Details{Type: waste.TypePaper, Quantity: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mine, err := bob.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("bob sees %d foreign records", len(mine))
	}

	hers, err := alice.List(ctx, Query{Type: waste.TypePaper})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(hers) != 1 {
		t.Fatalf("alice sees %d records, want 1", len(hers))
	}
}

func TestClientUpdateAndDeletePendingOnly(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.connect(t, "owner@example.com", "owner", auth.RoleUser)
	admin, _ := f.connect(t, "admin@example.com", "boss", auth.RoleAdmin)
	ctx := context.Background()

	rec, err := owner.Create(ctx, waste.Details{Type: waste.TypeGlass, Quantity: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err = owner.Update(ctx, rec.ID, waste.Details{Type: waste.TypeGlass, Quantity: 3})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Quantity != 3 {
		t.Fatalf("quantity not updated: %v", rec.Quantity)
	}

	if _, err := admin.Collect(ctx, rec.ID); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// Edits and deletes are locked out once the record has moved.
	if _, err := owner.Update(ctx, rec.ID, waste.Details{Type: waste.TypeGlass, Quantity: 9}); err == nil {
		t.Fatal("update of collected record succeeded")
	}
	if err := owner.Delete(ctx, rec.ID); err == nil {
		t.Fatal("delete of collected record succeeded")
	}
}

func TestClientAfterCredentialRotation(t *testing.T) {
	// Calls keep working across an explicit refresh, and server-side errors
	// come back classified.
	f := newFixture(t)
	client, c := f.connect(t, "owner@example.com", "owner", auth.RoleUser)
	ctx := context.Background()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := client.Create(ctx, waste.Details{Type: waste.TypeOther, Quantity: 1}); err != nil {
		t.Fatalf("call after refresh: %v", err)
	}

	if _, err := client.Get(ctx, "no-such-record"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var apiErr *session.APIError
	if err := client.Delete(ctx, "no-such-record"); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected APIError 404, got %v", err)
	}
}
