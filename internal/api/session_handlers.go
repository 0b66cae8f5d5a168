package api

import (
	"net/http"

	"github.com/soaringjerry/pricecrowd/internal/services"
)

// GET /api/sessions
func (rt *Router) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := rt.registry.ListSessions(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// POST /api/sessions (admin)
func (rt *Router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req services.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	v, err := rt.registry.CreateSession(r.Context(), caller(r), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GET /api/sessions/{address}
func (rt *Router) handleGetSession(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	v, err := rt.registry.GetSession(r.Context(), addr)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/sessions/{address}/proposals {price}
func (rt *Router) handlePropose(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var req struct {
		Price *uint64 `json:"price"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if req.Price == nil {
		rt.writeError(w, r, services.NewInvalidError("price required"))
		return
	}
	v, err := rt.registry.ProposePrice(r.Context(), addr, caller(r), *req.Price)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/sessions/{address}/proposals
func (rt *Router) handleListProposals(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	list, err := rt.registry.ListProposals(r.Context(), addr, caller(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_address": addr, "proposals": list})
}

// GET /api/sessions/{address}/proposals/{participant}
func (rt *Router) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	participant, err := pathAddress(r, "participant")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	v, err := rt.registry.GetProposal(r.Context(), addr, participant)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/sessions/{address}/end {real_price} (admin)
func (rt *Router) handleEndSession(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	var req struct {
		RealPrice *uint64 `json:"real_price"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if req.RealPrice == nil {
		rt.writeError(w, r, services.NewInvalidError("real_price required"))
		return
	}
	report, err := rt.registry.EndSession(r.Context(), addr, caller(r), *req.RealPrice)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
