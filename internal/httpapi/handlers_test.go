package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"ecotrack.org/internal/auth"
	"ecotrack.org/internal/stream"
	"ecotrack.org/internal/waste"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	authStore *auth.InMemoryStore
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	authStore := auth.NewInMemoryStore()
	authSvc, err := auth.NewService(authStore, "test-secret", auth.WithIssuer("ecotrack"))
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	api := New(ReadyProbe{}, "test", authSvc, waste.NewInMemory(), WithStream(stream.New()))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:   srv.URL,
		client:    srv.Client(),
		t:         t,
		authStore: authStore,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// signUp registers an account and returns its bearer header.
func (c *apiClient) signUp(email, username string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":    email,
		"username": username,
		"password": "long enough",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register status: %d", resp.StatusCode)
	}
	return c.login(email)
}

func (c *apiClient) login(email string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": "long enough",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decode[authResponse](c.t, resp)
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		c.t.Fatal("incomplete token pair")
	}
	return map[string]string{"Authorization": "Bearer " + payload.AccessToken}
}

// signUpAdmin creates an account directly in the store with the admin role.
func (c *apiClient) signUpAdmin(email, username string) map[string]string {
	c.t.Helper()
	hash, err := auth.HashPassword("long enough")
	if err != nil {
		c.t.Fatalf("hash: %v", err)
	}
	user := &auth.User{
		ID:           username + "-id",
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
	}
	if err := c.authStore.Users(context.Background()).Create(context.Background(), user); err != nil {
		c.t.Fatalf("create admin: %v", err)
	}
	return c.login(email)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIRecordLifecycleFlow(t *testing.T) {
	api := newTestAPI(t)
	owner := api.signUp("owner@example.com", "owner")
	admin := api.signUpAdmin("admin@example.com", "boss")

	// Owner submits a record.
	resp := api.post("/v1/waste", map[string]any{
		"waste_type": "plastic",
		"quantity":   10.0,
		"location":   map[string]any{"label": "depot 4"},
	}, owner)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("missing Location header")
	}
	rec := decode[waste.Record](t, resp)
	if rec.Status != waste.StatusPending || rec.Unit != "kg" {
		t.Fatalf("unexpected new record: %+v", rec)
	}

	// Only admins may move it.
	resp = api.post("/v1/waste/"+rec.ID+"/collect", nil, owner)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin collect status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/waste/"+rec.ID+"/collect", nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collect status: %d", resp.StatusCode)
	}
	rec = decode[waste.Record](t, resp)
	if rec.Status != waste.StatusCollected || rec.CollectionDate == nil {
		t.Fatalf("unexpected collected record: %+v", rec)
	}

	// Process without notes is a validation error.
	resp = api.post("/v1/waste/"+rec.ID+"/process", map[string]any{
		"disposition": "recycled",
	}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("notes-less process status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/waste/"+rec.ID+"/process", map[string]any{
		"disposition": "recycled",
		"notes":       "sorted and baled",
	}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("process status: %d", resp.StatusCode)
	}
	rec = decode[waste.Record](t, resp)
	if rec.Status != waste.StatusRecycled || rec.CompletionDate == nil {
		t.Fatalf("unexpected terminal record: %+v", rec)
	}
	if rec.EnvironmentalScore != 15.00 || rec.PointsAwarded == 0 {
		t.Fatalf("scores not computed: score=%v points=%v", rec.EnvironmentalScore, rec.PointsAwarded)
	}

	// Re-processing a terminal record conflicts.
	resp = api.post("/v1/waste/"+rec.ID+"/process", map[string]any{
		"disposition": "recycled",
		"notes":       "again",
	}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("reprocess status: %d", resp.StatusCode)
	}

	// Statistics include the completed record.
	resp = api.get("/v1/waste/statistics", url.Values{"period": []string{"week"}}, owner)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("statistics status: %d", resp.StatusCode)
	}
	stats := decode[waste.Statistics](t, resp)
	if stats.TotalKg != 10 || stats.TotalRecords != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestAPIOwnershipIsolation(t *testing.T) {
	api := newTestAPI(t)
	alice := api.signUp("alice@example.com", "alice")
	mallory := api.signUp("mallory@example.com", "mallory")

	resp := api.post("/v1/waste", map[string]any{
		"waste_type": "glass",
		"quantity":   2.5,
	}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	rec := decode[waste.Record](t, resp)

	// Another user cannot read, edit or delete it.
	resp = api.get("/v1/waste/"+rec.ID, nil, mallory)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user get status: %d", resp.StatusCode)
	}
	resp = api.do(http.MethodPut, "/v1/waste/"+rec.ID, map[string]any{
		"waste_type": "glass",
		"quantity":   99.0,
	}, mallory)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user update status: %d", resp.StatusCode)
	}
	resp = api.do(http.MethodDelete, "/v1/waste/"+rec.ID, nil, mallory)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user delete status: %d", resp.StatusCode)
	}

	// Listing is scoped to the caller.
	resp = api.get("/v1/waste", nil, mallory)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %d", resp.StatusCode)
	}
	listing := decode[listRecordsResponse](t, resp)
	if len(listing.Items) != 0 {
		t.Fatalf("cross-user list leaked %d records", len(listing.Items))
	}

	// The owner still can.
	resp = api.get("/v1/waste/"+rec.ID, nil, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner get status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIValidateAndRejectConflicts(t *testing.T) {
	api := newTestAPI(t)
	owner := api.signUp("owner@example.com", "owner")
	admin := api.signUpAdmin("admin@example.com", "boss")

	resp := api.post("/v1/waste", map[string]any{
		"waste_type": "paper",
		"quantity":   1.0,
	}, owner)
	rec := decode[waste.Record](t, resp)

	// Validation before collection conflicts.
	resp = api.post("/v1/waste/"+rec.ID+"/validate", map[string]any{"notes": "ok"}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("premature validate status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/waste/"+rec.ID+"/collect", nil, admin)
	resp.Body.Close()
	resp = api.post("/v1/waste/"+rec.ID+"/validate", map[string]any{"notes": "ok"}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Second validation conflicts.
	resp = api.post("/v1/waste/"+rec.ID+"/validate", map[string]any{"notes": "again"}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("revalidate status: %d", resp.StatusCode)
	}

	// Reject without notes is a validation error; with notes it lands.
	resp = api.post("/v1/waste/"+rec.ID+"/reject", nil, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("notes-less reject status: %d", resp.StatusCode)
	}
	resp = api.post("/v1/waste/"+rec.ID+"/reject", map[string]any{"notes": "contaminated"}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject status: %d", resp.StatusCode)
	}
	rejected := decode[waste.Record](t, resp)
	if rejected.Status != waste.StatusRejected || rejected.CompletionDate != nil {
		t.Fatalf("unexpected rejected record: %+v", rejected)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/waste", map[string]any{
		"waste_type": "metal",
		"quantity":   1.0,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestAPIRefreshRotation(t *testing.T) {
	api := newTestAPI(t)
	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "eco@example.com",
		"username": "eco",
		"password": "long enough",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "eco@example.com",
		"password": "long enough",
	}, nil)
	login := decode[authResponse](t, resp)

	refreshHeader := map[string]string{"Authorization": "Bearer " + login.RefreshToken}
	resp = api.post("/v1/auth/refresh", nil, refreshHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
	rotated := decode[authResponse](t, resp)
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// The old refresh token is burned.
	resp = api.post("/v1/auth/refresh", nil, refreshHeader)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh status: %d", resp.StatusCode)
	}

	// The rotated access token authenticates.
	resp = api.get("/v1/auth/me", nil, map[string]string{"Authorization": "Bearer " + rotated.AccessToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", resp.StatusCode)
	}
	me := decode[userPayload](t, resp)
	if me.Email != "eco@example.com" {
		t.Fatalf("unexpected identity: %+v", me)
	}
}

func TestAPIValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	owner := api.signUp("owner@example.com", "owner")

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown type", map[string]any{"waste_type": "plutonium", "quantity": 1.0}},
		{"zero quantity", map[string]any{"waste_type": "plastic", "quantity": 0.0}},
		{"negative quantity", map[string]any{"waste_type": "plastic", "quantity": -3.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/v1/waste", tc.body, owner)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}
