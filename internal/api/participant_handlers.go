package api

import (
	"net/http"

	"github.com/soaringjerry/pricecrowd/internal/services"
)

type participantInfoRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// POST /api/participants {name, email}
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req participantInfoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.registry.Register(r.Context(), caller(r), req.Name, req.Email)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GET /api/participants/me
func (rt *Router) handleGetMe(w http.ResponseWriter, r *http.Request) {
	p, err := rt.registry.GetParticipant(r.Context(), caller(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PUT /api/participants/me {name, email}
func (rt *Router) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req participantInfoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.registry.ChangeParticipantInfo(r.Context(), caller(r), req.Name, req.Email)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/participants/{address}. Email is only shown to the participant
// and the administrator.
func (rt *Router) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.registry.GetParticipant(r.Context(), addr)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if who := caller(r); who != addr && !rt.registry.IsAdministrator(who) {
		p.Email = ""
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/participants (admin)
func (rt *Router) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := rt.registry.ListParticipants(r.Context(), caller(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": ps})
}

// POST /api/participants/{address}/approve (admin)
func (rt *Router) handleApprove(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	p, err := rt.registry.ApproveParticipant(r.Context(), caller(r), addr)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/audit (admin)
func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.registry.ListAudit(r.Context(), caller(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []services.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
