package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/Togather-Foundation/eventsite/internal/session"
)

// HomepageHandler serves homepage snapshots. The snapshot endpoints never
// fail: upstream failures show up as empty sections and in "degraded".
type HomepageHandler struct {
	Aggregator *homepage.Aggregator
}

func NewHomepageHandler(agg *homepage.Aggregator) *HomepageHandler {
	return &HomepageHandler{Aggregator: agg}
}

type pendingResponse struct {
	Pending bool `json:"pending"`
}

// Server serves the initial server-render pass. It always aggregates fresh.
func (h *HomepageHandler) Server(w http.ResponseWriter, r *http.Request) {
	snap := h.handle(r, homepage.PhaseServer).Snapshot(r.Context(), false)
	writeSnapshot(w, r, snap)
}

// Session serves client-side navigations from the session cache.
// ?refresh=true forces a new aggregation.
func (h *HomepageHandler) Session(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	snap := h.handle(r, homepage.PhaseClient).Snapshot(r.Context(), force)
	writeSnapshot(w, r, snap)
}

// Refresh drops the session's cached snapshot and returns a new one.
func (h *HomepageHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap := h.handle(r, homepage.PhaseClient).Refresh(r.Context())
	writeSnapshot(w, r, snap)
}

// Status reports whether a session aggregation is still running.
func (h *HomepageHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, pendingResponse{Pending: h.handle(r, homepage.PhaseClient).Pending()})
}

func (h *HomepageHandler) handle(r *http.Request, phase homepage.Phase) *homepage.Handle {
	var sessionID string
	if s, ok := session.FromContext(r.Context()); ok {
		sessionID = s.ID
	}
	return h.Aggregator.For(sessionID, phase)
}

// writeSnapshot sends snap with its ID as a strong ETag and answers 304 when
// the client already holds it.
func writeSnapshot(w http.ResponseWriter, r *http.Request, snap *homepage.Snapshot) {
	etag := `"` + snap.ID + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")
	if snap.IsDegraded() {
		w.Header().Set("X-Homepage-Degraded", strings.Join(snap.Degraded, ","))
	}

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
