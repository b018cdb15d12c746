package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/lock"
)

// LockResponse is one row of the lock table.
type LockResponse struct {
	ResourceID     string    `json:"resource_id"`
	HolderToken    string    `json:"holder_token"`
	AcquiredAt     time.Time `json:"acquired_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastRenewedAt  time.Time `json:"last_renewed_at"`
	Live           bool      `json:"live"`
	SignatureValid bool      `json:"signature_valid"`
	RemainingMS    int64     `json:"remaining_ms"`
}

func toLockResponse(st lock.Status) LockResponse {
	return LockResponse{
		ResourceID:     st.Record.ResourceID,
		HolderToken:    st.Record.HolderToken,
		AcquiredAt:     st.Record.AcquiredAt,
		ExpiresAt:      st.Record.ExpiresAt,
		LastRenewedAt:  st.Record.LastRenewedAt,
		Live:           st.Live,
		SignatureValid: st.Valid,
		RemainingMS:    st.Remaining.Milliseconds(),
	}
}

// handleListLocks lists every stored lock record. ?live=true hides expired
// records.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.locks.Inspect(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	liveOnly, _ := strconv.ParseBool(r.URL.Query().Get("live"))
	out := make([]LockResponse, 0, len(statuses))
	for _, st := range statuses {
		if liveOnly && !st.Live {
			continue
		}
		out = append(out, toLockResponse(st))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceParam(w, r)
	if !ok {
		return
	}

	statuses, err := s.locks.Inspect(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	for _, st := range statuses {
		if st.Record.ResourceID == id {
			s.respondJSON(w, http.StatusOK, toLockResponse(st))
			return
		}
	}
	s.respondDomainError(w, core.ErrNotFound("lock", id))
}

// handleForceRelease deletes a lock regardless of its holder. It requires
// ?force=true since the holder, if alive, keeps running unprotected until
// its next heartbeat.
func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resourceParam(w, r)
	if !ok {
		return
	}
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); !force {
		s.respondError(w, http.StatusBadRequest, "force=true is required to release a lock held by another process")
		return
	}

	removed, err := s.locks.ForceRelease(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if !removed {
		s.respondDomainError(w, core.ErrNotFound("lock", id))
		return
	}
	s.logger.WithResource(id).Warn("lock force-released over HTTP", "remote_addr", r.RemoteAddr)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"resource_id": id, "released": true})
}

func (s *Server) resourceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || id == "" {
		s.respondError(w, http.StatusBadRequest, "invalid resource id")
		return "", false
	}
	return id, true
}
