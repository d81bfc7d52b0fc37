package httpapi

import (
	"net/http"
	"strings"
	"time"

	"ecotrack.org/internal/waste"
)

// periodBounds resolves the requested reporting window. Explicit from/to
// win; otherwise period names are anchored to now.
func periodBounds(q map[string][]string, now time.Time) (time.Time, time.Time, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	fromRaw, toRaw := get("from"), get("to")
	if fromRaw != "" || toRaw != "" {
		from, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadPeriod
		}
		to := now
		if toRaw != "" {
			to, err = time.Parse(time.RFC3339, toRaw)
			if err != nil {
				return time.Time{}, time.Time{}, errBadPeriod
			}
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, errBadPeriod
		}
		return from.UTC(), to.UTC(), nil
	}

	switch get("period") {
	case "", "month":
		return now.AddDate(0, -1, 0), now, nil
	case "day":
		return now.AddDate(0, 0, -1), now, nil
	case "week":
		return now.AddDate(0, 0, -7), now, nil
	case "year":
		return now.AddDate(-1, 0, 0), now, nil
	default:
		return time.Time{}, time.Time{}, errBadPeriod
	}
}

var errBadPeriod = &badPeriodError{}

type badPeriodError struct{}

func (*badPeriodError) Error() string {
	return "period must be day, week, month or year, or from/to must be RFC3339"
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}

	start, end, err := periodBounds(r.URL.Query(), time.Now().UTC())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Round the window outward to minute boundaries so repeated polls within
	// the cache TTL share a key without excluding just-completed records.
	start = start.Truncate(time.Minute)
	if !end.Equal(end.Truncate(time.Minute)) {
		end = end.Truncate(time.Minute).Add(time.Minute)
	}

	if stats, ok := a.stats.Get(r.Context(), start, end); ok {
		writeJSON(w, http.StatusOK, stats)
		return
	}

	records, err := a.records.List(r.Context(), waste.Filter{})
	if err != nil {
		handleWasteError(w, r, err)
		return
	}
	stats := waste.Aggregate(records, start, end)
	a.stats.Put(r.Context(), stats)
	writeJSON(w, http.StatusOK, stats)
}
