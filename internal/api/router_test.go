package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/pricecrowd/internal/middleware"
	"github.com/soaringjerry/pricecrowd/internal/services"
)

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	adminKey *ecdsa.PrivateKey
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	adminKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	admin := crypto.PubkeyToAddress(adminKey.PublicKey)

	env := &testEnv{t: t, adminKey: adminKey, now: time.Now().UTC()}
	store := NewMemoryStore(0)
	reg := services.NewRegistry(admin, store, services.WithClock(func() time.Time { return env.now }))
	authn := middleware.NewAuthenticator("test-secret")
	auth := services.NewAuthService(store, admin, authn.SignToken)

	r := chi.NewRouter()
	NewRouter(reg, auth, authn, nil).Register(r)
	env.handler = r
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(key *ecdsa.PrivateKey) string {
	e.t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	rec := e.do(http.MethodPost, "/api/auth/challenge", "", map[string]string{"address": addr.Hex()})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var c services.Challenge
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &c))

	sig, err := crypto.Sign(accounts.TextHash([]byte(c.Message)), key)
	require.NoError(e.t, err)
	rec = e.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"address":   addr.Hex(),
		"signature": hexutil.Encode(sig),
	})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var res services.AuthResult
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type apiError struct {
	Error errorBody `json:"error"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	require.Equal(t, code, decode[apiError](t, rec).Error.Code)
}

type member struct {
	key   *ecdsa.PrivateKey
	addr  common.Address
	token string
}

func (e *testEnv) newMember(name string, approve bool, adminToken string) member {
	e.t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(e.t, err)
	m := member{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
	m.token = e.login(key)
	rec := e.do(http.MethodPost, "/api/participants", m.token, map[string]string{"name": name, "email": name + "@gmail.com"})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	if approve {
		rec = e.do(http.MethodPost, "/api/participants/"+m.addr.Hex()+"/approve", adminToken, nil)
		require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return m
}

func (e *testEnv) createSession(adminToken, name string) common.Address {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/sessions", adminToken, services.CreateSessionRequest{
		ProductName:        name,
		ProductDescription: "...",
		ProductImages:      []string{"image hash1"},
		Duration:           1000,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[services.SessionView](e.t, rec).SessionAddress
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(env.adminKey)
	alice := env.newMember("alice", true, adminToken)
	bob := env.newMember("bob", true, adminToken)

	sess := env.createSession(adminToken, "Product 1")
	base := "/api/sessions/" + sess.Hex()

	rec := env.do(http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[services.SessionView](t, rec)
	require.Equal(t, services.SessionOpen, view.State)
	require.Nil(t, view.SuggestedPrice)

	rec = env.do(http.MethodPost, base+"/proposals", alice.token, map[string]uint64{"price": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, base+"/proposals", bob.token, map[string]uint64{"price": 120})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, base+"/proposals/"+alice.addr.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[services.ProposalView](t, rec)
	require.True(t, p.Proposed)
	require.EqualValues(t, 100, p.Price)

	requireError(t, env.do(http.MethodGet, base+"/proposals", alice.token, nil), http.StatusForbidden, "not_authorized")
	requireError(t, env.do(http.MethodPost, base+"/end", alice.token, map[string]uint64{"real_price": 150}), http.StatusForbidden, "not_authorized")

	rec = env.do(http.MethodPost, base+"/end", adminToken, map[string]uint64{"real_price": 150})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[services.CloseReport](t, rec)
	require.EqualValues(t, 110, report.SuggestedPrice)
	require.Len(t, report.Deviations, 2)

	rec = env.do(http.MethodGet, base, "", nil)
	view = decode[services.SessionView](t, rec)
	require.Equal(t, services.SessionEnded, view.State)
	require.EqualValues(t, 110, *view.SuggestedPrice)
	require.EqualValues(t, 150, *view.RealPrice)

	requireError(t, env.do(http.MethodPost, base+"/end", adminToken, map[string]uint64{"real_price": 1}), http.StatusConflict, "already_ended")
	requireError(t, env.do(http.MethodPost, base+"/proposals", alice.token, map[string]uint64{"price": 1}), http.StatusConflict, "session_closed")

	rec = env.do(http.MethodGet, base+"/proposals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/participants/me", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[services.Participant](t, rec)
	require.EqualValues(t, 50, me.AverageDeviation)
	require.EqualValues(t, 1, me.ProposalCount)
}

func TestProposalRejections(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(env.adminKey)
	pending := env.newMember("pending", false, adminToken)
	approved := env.newMember("approved", true, adminToken)
	sess := env.createSession(adminToken, "Product 1")
	base := "/api/sessions/" + sess.Hex()

	requireError(t, env.do(http.MethodPost, base+"/proposals", "", map[string]uint64{"price": 1}), http.StatusUnauthorized, "unauthorized")
	requireError(t, env.do(http.MethodPost, base+"/proposals", pending.token, map[string]uint64{"price": 1}), http.StatusForbidden, "not_authorized")
	requireError(t, env.do(http.MethodPost, base+"/proposals", approved.token, map[string]any{}), http.StatusBadRequest, "invalid")
	requireError(t, env.do(http.MethodPost, base+"/proposals", approved.token, map[string]int{"price": -5}), http.StatusBadRequest, "invalid")
	requireError(t, env.do(http.MethodPost, "/api/sessions/0xnothex/proposals", approved.token, map[string]uint64{"price": 1}), http.StatusBadRequest, "invalid")
	requireError(t, env.do(http.MethodPost, "/api/sessions/"+common.HexToAddress("0xdead").Hex()+"/proposals", approved.token, map[string]uint64{"price": 1}), http.StatusNotFound, "not_found")
	requireError(t, env.do(http.MethodPost, base+"/end", adminToken, map[string]uint64{"real_price": 10}), http.StatusConflict, "no_proposals")

	env.now = env.now.Add(2000 * time.Second)
	requireError(t, env.do(http.MethodPost, base+"/proposals", approved.token, map[string]uint64{"price": 1}), http.StatusGone, "session_expired")
}

func TestParticipantRoutes(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(env.adminKey)
	alice := env.newMember("alice", false, adminToken)
	bob := env.newMember("bob", false, adminToken)

	requireError(t, env.do(http.MethodPost, "/api/participants", alice.token, map[string]string{"name": "again"}), http.StatusConflict, "already_registered")
	requireError(t, env.do(http.MethodGet, "/api/participants", alice.token, nil), http.StatusForbidden, "not_authorized")
	requireError(t, env.do(http.MethodPost, "/api/participants/"+bob.addr.Hex()+"/approve", alice.token, nil), http.StatusForbidden, "not_authorized")

	rec := env.do(http.MethodPut, "/api/participants/me", alice.token, map[string]string{"name": "alice2", "email": "alice2@gmail.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/participants/"+alice.addr.Hex(), bob.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	seen := decode[services.Participant](t, rec)
	require.Equal(t, "alice2", seen.Name)
	require.Empty(t, seen.Email)

	rec = env.do(http.MethodGet, "/api/participants/"+alice.addr.Hex(), adminToken, nil)
	require.Equal(t, "alice2@gmail.com", decode[services.Participant](t, rec).Email)

	rec = env.do(http.MethodGet, "/api/participants", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Participants []services.Participant `json:"participants"`
	}](t, rec)
	require.Len(t, list.Participants, 2)

	requireError(t, env.do(http.MethodGet, "/api/participants/"+common.HexToAddress("0xbeef").Hex(), "", nil), http.StatusNotFound, "not_found")

	rec = env.do(http.MethodGet, "/api/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[struct {
		Entries []services.AuditEntry `json:"entries"`
	}](t, rec)
	require.Len(t, audit.Entries, 3)
}

func TestListSessionsOrdered(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(env.adminKey)
	first := env.createSession(adminToken, "Product 1")
	second := env.createSession(adminToken, "Product 2")

	type listing struct {
		Sessions []services.SessionInfo `json:"sessions"`
	}
	a := decode[listing](t, env.do(http.MethodGet, "/api/sessions", "", nil))
	b := decode[listing](t, env.do(http.MethodGet, "/api/sessions", "", nil))
	require.Equal(t, a, b)
	require.Len(t, a.Sessions, 2)
	require.Equal(t, first, a.Sessions[0].SessionAddress)
	require.Equal(t, second, a.Sessions[1].SessionAddress)
	require.Equal(t, []string{"image hash1"}, a.Sessions[0].ProductImages)
}

func TestLocalizedErrors(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/sessions/"+common.HexToAddress("0xdead").Hex()+"?lang=zh", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[apiError](t, rec)
	require.Equal(t, "未找到", body.Error.Message)
	require.Equal(t, "session not found", body.Error.Detail)
	require.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))
}

func TestLoginRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	rec := env.do(http.MethodPost, "/api/auth/challenge", "", map[string]string{"address": addr.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)
	requireError(t, env.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"address":   addr.Hex(),
		"signature": hexutil.Encode(make([]byte, 65)),
	}), http.StatusUnauthorized, "unauthorized")
	requireError(t, env.do(http.MethodPost, "/api/auth/challenge", "", map[string]string{"address": "nope"}), http.StatusBadRequest, "invalid")
}
