package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ecotrack.org/internal/obs"
	"ecotrack.org/internal/stream"
	"ecotrack.org/internal/waste"
)

type recordRequest struct {
	Type        string         `json:"waste_type"`
	Description string         `json:"description"`
	Quantity    float64        `json:"quantity"`
	Unit        string         `json:"unit"`
	Location    waste.Location `json:"location"`
	ImagePaths  []string       `json:"image_paths"`
}

func (req recordRequest) details() waste.Details {
	return waste.Details{
		Type:        waste.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		Description: req.Description,
		Quantity:    req.Quantity,
		Unit:        strings.TrimSpace(req.Unit),
		Location:    req.Location,
		ImagePaths:  req.ImagePaths,
	}
}

type actionRequest struct {
	Notes       string `json:"notes"`
	Disposition string `json:"disposition"`
}

type listRecordsResponse struct {
	Items []waste.Record `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

func (a *API) handleWasteCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRecord(w, r)
	case http.MethodGet:
		a.listRecords(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleWasteResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/waste/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, action, found := strings.Cut(path, "/"); found {
		if id == "" || strings.Contains(action, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.recordAction(w, r, id, action)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRecord(w, r, path)
	case http.MethodPut:
		a.updateRecord(w, r, path)
	case http.MethodDelete:
		a.deleteRecord(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) createRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.records.Create(r.Context(), user.ID, req.details())
	if err != nil {
		handleWasteError(w, r, err)
		return
	}
	a.publishRecordEvent(rec, "create")

	w.Header().Set("Location", "/v1/waste/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := waste.Filter{
		Type:   waste.Type(strings.ToLower(strings.TrimSpace(q.Get("type")))),
		Status: waste.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		Limit:  limit,
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		f.From = ts
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		f.To = ts
	}

	// Non-admins only ever see their own records.
	if user.IsAdmin() {
		f.OwnerID = strings.TrimSpace(q.Get("owner_id"))
	} else {
		f.OwnerID = user.ID
	}

	items, err := a.records.List(r.Context(), f)
	if err != nil {
		handleWasteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRecordsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	rec, err := a.records.Get(r.Context(), id)
	if err != nil {
		handleWasteError(w, r, err)
		return
	}
	if rec.OwnerID != user.ID && !user.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "record belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) updateRecord(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.records.Update(r.Context(), id, user.ID, req.details())
	if err != nil {
		handleWasteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.records.Delete(r.Context(), id, user.ID); err != nil {
		handleWasteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordAction dispatches the lifecycle verbs. All of them are POST and
// admin-only; process and reject additionally require notes.
func (a *API) recordAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	admin, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		rec waste.Record
		err error
	)
	switch action {
	case "collect":
		rec, err = a.records.Collect(r.Context(), id, admin.ID)
	case "process":
		disposition := waste.Disposition(strings.ToLower(strings.TrimSpace(req.Disposition)))
		if disposition != waste.DispositionRecycled && disposition != waste.DispositionDisposed {
			writeError(w, r, http.StatusBadRequest, "disposition must be recycled or disposed")
			return
		}
		rec, err = a.records.Process(r.Context(), id, admin.ID, req.Notes, disposition)
	case "validate":
		rec, err = a.records.Validate(r.Context(), id, admin.ID, req.Notes)
	case "reject":
		rec, err = a.records.Reject(r.Context(), id, admin.ID, req.Notes)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleWasteError(w, r, err)
		return
	}

	obs.WasteTransitions.WithLabelValues(string(rec.Status)).Inc()
	a.publishRecordEvent(rec, action)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) publishRecordEvent(rec waste.Record, action string) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.RecordEvent{
		RecordID:  rec.ID,
		OwnerID:   rec.OwnerID,
		Type:      string(rec.Type),
		Status:    string(rec.Status),
		Action:    action,
		Quantity:  rec.Quantity,
		Unit:      rec.Unit,
		Timestamp: time.Now().UTC(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleWasteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, waste.ErrInvalidType),
		errors.Is(err, waste.ErrInvalidQuantity),
		errors.Is(err, waste.ErrNotesRequired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, waste.ErrInvalidTransition),
		errors.Is(err, waste.ErrAlreadyValidated),
		errors.Is(err, waste.ErrNotYetCollectable),
		errors.Is(err, waste.ErrRecordLocked):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, waste.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, waste.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
