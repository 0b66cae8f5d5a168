package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
	"go.uber.org/atomic"

	"github.com/soaringjerry/pricecrowd/internal/api"
	"github.com/soaringjerry/pricecrowd/internal/config"
	"github.com/soaringjerry/pricecrowd/internal/metrics"
	"github.com/soaringjerry/pricecrowd/internal/middleware"
	"github.com/soaringjerry/pricecrowd/internal/services"
	"github.com/soaringjerry/pricecrowd/internal/utils"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg      config.Config
	log      *logan.Entry
	admin    common.Address
	registry *services.Registry
	auth     *services.AuthService
	authn    *middleware.Authenticator
	metrics  *metrics.Recorder
	draining *atomic.Bool
	closeFn  func() error
}

func newAuthenticator(cfg config.Config) *middleware.Authenticator {
	return middleware.NewAuthenticator(cfg.JWTSecret)
}

func newApp(cfg config.Config, log *logan.Entry) (*app, error) {
	admin, err := cfg.Admin()
	if err != nil {
		return nil, err
	}
	store, closeFn, err := openStore(cfg, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}
	rec := metrics.New()
	authn := newAuthenticator(cfg)
	registry := services.NewRegistry(admin, store,
		services.WithCapacity(cfg.MaxParticipants),
		services.WithLogger(log),
		services.WithObserver(rec),
	)
	auth := services.NewAuthService(store, admin, authn.SignToken,
		services.WithTokenTTL(cfg.TokenTTL),
		services.WithChallengeTTL(cfg.ChallengeTTL),
		services.WithAuthLogger(log),
	)
	return &app{
		cfg:      cfg,
		log:      log,
		admin:    admin,
		registry: registry,
		auth:     auth,
		authn:    authn,
		metrics:  rec,
		draining: atomic.NewBool(false),
		closeFn:  closeFn,
	}, nil
}

func (a *app) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(a.log.WithField("component", "http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.CORS(a.cfg.CORSOrigins))
	r.Use(middleware.Locale)

	api.NewRouter(a.registry, a.auth, a.authn, a.log).Register(r)
	r.Get("/health", a.handleHealth)
	r.Get("/version", a.handleVersion)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	status, key := http.StatusOK, "health.ok"
	if a.draining.Load() {
		status, key = http.StatusServiceUnavailable, "health.draining"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":         status == http.StatusOK,
		"name":       "pricecrowd",
		"locale":     locale,
		"msg":        utils.T(locale, key),
		"commit":     a.cfg.Commit,
		"build_time": a.cfg.BuildTime,
	})
}

func (a *app) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"commit":     a.cfg.Commit,
		"build_time": a.cfg.BuildTime,
	})
}

// serve blocks until ctx is cancelled, then flips health to draining and
// shuts the server down.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logan.F{"addr": a.cfg.Addr, "admin": a.admin.Hex()}).Info("pricecrowd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	a.draining.Store(true)
	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shutdown server")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server stopped")
	}
	return nil
}

func (a *app) close() {
	if err := a.closeFn(); err != nil {
		a.log.WithError(err).Error("failed to close store")
	}
}
