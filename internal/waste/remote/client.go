// Package remote is the typed client for the waste endpoints. It rides on
// the session dispatcher, so every call inherits credential attachment,
// silent renewal and error classification.
package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ecotrack.org/internal/session"
	"ecotrack.org/internal/waste"
)

// Client issues authenticated waste-record calls.
type Client struct {
	d *session.Dispatcher
}

// NewClient wraps a bound dispatcher.
func NewClient(d *session.Dispatcher) *Client { return &Client{d: d} }

type recordPayload struct {
	Type        waste.Type     `json:"waste_type"`
	Description string         `json:"description,omitempty"`
	Quantity    float64        `json:"quantity"`
	Unit        string         `json:"unit,omitempty"`
	Location    waste.Location `json:"location"`
	ImagePaths  []string       `json:"image_paths,omitempty"`
}

func toPayload(d waste.Details) recordPayload {
	return recordPayload{
		Type:        d.Type,
		Description: d.Description,
		Quantity:    d.Quantity,
		Unit:        d.Unit,
		Location:    d.Location,
		ImagePaths:  d.ImagePaths,
	}
}

// Query narrows List calls. Zero values mean "no constraint".
type Query struct {
	OwnerID string
	Type    waste.Type
	Status  waste.Status
	From    time.Time
	To      time.Time
	Limit   int
}

func (q Query) encode() string {
	v := url.Values{}
	if q.OwnerID != "" {
		v.Set("owner_id", q.OwnerID)
	}
	if q.Type != "" {
		v.Set("type", string(q.Type))
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type listResponse struct {
	Items []waste.Record `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

type actionPayload struct {
	Notes       string `json:"notes,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// Create submits a new pending record owned by the session user.
func (c *Client) Create(ctx context.Context, d waste.Details) (waste.Record, error) {
	var rec waste.Record
	err := c.d.Do(ctx, http.MethodPost, "/v1/waste", toPayload(d), &rec)
	return rec, err
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, id string) (waste.Record, error) {
	var rec waste.Record
	err := c.d.Do(ctx, http.MethodGet, "/v1/waste/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// List fetches records matching the query, newest first.
func (c *Client) List(ctx context.Context, q Query) ([]waste.Record, error) {
	var resp listResponse
	err := c.d.Do(ctx, http.MethodGet, "/v1/waste"+q.encode(), nil, &resp)
	return resp.Items, err
}

// Update replaces the owner-editable fields of a pending record.
func (c *Client) Update(ctx context.Context, id string, d waste.Details) (waste.Record, error) {
	var rec waste.Record
	err := c.d.Do(ctx, http.MethodPut, "/v1/waste/"+url.PathEscape(id), toPayload(d), &rec)
	return rec, err
}

// Delete removes a pending record owned by the session user.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.d.Do(ctx, http.MethodDelete, "/v1/waste/"+url.PathEscape(id), nil, nil)
}

// Collect marks the record as picked up. Admin sessions only.
func (c *Client) Collect(ctx context.Context, id string) (waste.Record, error) {
	return c.action(ctx, id, "collect", actionPayload{})
}

// Process closes the record out through its terminal disposition.
func (c *Client) Process(ctx context.Context, id, notes string, disposition waste.Disposition) (waste.Record, error) {
	return c.action(ctx, id, "process", actionPayload{Notes: notes, Disposition: string(disposition)})
}

// Validate records an administrative sign-off.
func (c *Client) Validate(ctx context.Context, id, notes string) (waste.Record, error) {
	return c.action(ctx, id, "validate", actionPayload{Notes: notes})
}

// Reject terminates the record from pending or collected.
func (c *Client) Reject(ctx context.Context, id, notes string) (waste.Record, error) {
	return c.action(ctx, id, "reject", actionPayload{Notes: notes})
}

// Statistics fetches the period summary.
func (c *Client) Statistics(ctx context.Context, period string) (waste.Statistics, error) {
	path := "/v1/waste/statistics"
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	var stats waste.Statistics
	err := c.d.Do(ctx, http.MethodGet, path, nil, &stats)
	return stats, err
}

func (c *Client) action(ctx context.Context, id, verb string, body actionPayload) (waste.Record, error) {
	var rec waste.Record
	err := c.d.Do(ctx, http.MethodPost, "/v1/waste/"+url.PathEscape(id)+"/"+verb, body, &rec)
	return rec, err
}
