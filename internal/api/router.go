package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"gitlab.com/distributed_lab/logan/v3"

	"github.com/soaringjerry/pricecrowd/internal/middleware"
	"github.com/soaringjerry/pricecrowd/internal/services"
)

const maxBodyBytes = 1 << 20

type Router struct {
	registry *services.Registry
	auth     *services.AuthService
	authn    *middleware.Authenticator
	log      *logan.Entry
}

func NewRouter(registry *services.Registry, auth *services.AuthService, authn *middleware.Authenticator, log *logan.Entry) *Router {
	if log == nil {
		log = logan.New()
	}
	return &Router{registry: registry, auth: auth, authn: authn, log: log.WithField("component", "api")}
}

// Register mounts the JSON API under /api.
func (rt *Router) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.Locale)
		r.Use(rt.authn.WithAuth)

		r.Post("/auth/challenge", rt.handleChallenge)
		r.Post("/auth/login", rt.handleLogin)

		r.Get("/sessions", rt.handleListSessions)
		r.Get("/sessions/{address}", rt.handleGetSession)
		r.Get("/sessions/{address}/proposals", rt.handleListProposals)
		r.Get("/sessions/{address}/proposals/{participant}", rt.handleGetProposal)
		r.Get("/participants/{address}", rt.handleGetParticipant)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Post("/sessions", rt.handleCreateSession)
			r.Post("/sessions/{address}/proposals", rt.handlePropose)
			r.Post("/sessions/{address}/end", rt.handleEndSession)

			r.Get("/participants", rt.handleListParticipants)
			r.Post("/participants", rt.handleRegister)
			r.Get("/participants/me", rt.handleGetMe)
			r.Put("/participants/me", rt.handleUpdateMe)
			r.Post("/participants/{address}/approve", rt.handleApprove)

			r.Get("/audit", rt.handleAudit)
		})
	})
}

// caller is the authenticated address, or the zero address for anonymous
// requests on public routes.
func caller(r *http.Request) common.Address {
	addr, _ := middleware.AddressFromContext(r.Context())
	return addr
}

func pathAddress(r *http.Request, key string) (common.Address, error) {
	return services.ParseAddress(chi.URLParam(r, key))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return services.NewInvalidError("request body required")
		}
		return services.NewInvalidError("invalid JSON body: " + err.Error())
	}
	return nil
}
