package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/pricecrowd/internal/api"
	"github.com/soaringjerry/pricecrowd/internal/services"
)

func scrape(t *testing.T, m *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorderObservesRegistry(t *testing.T) {
	ctx := context.Background()
	admin := common.HexToAddress("0xa1")
	alice := common.HexToAddress("0x01")
	m := New()
	reg := services.NewRegistry(admin, api.NewMemoryStore(0),
		services.WithObserver(m),
		services.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))

	_, err := reg.Register(ctx, alice, "alice", "")
	require.NoError(t, err)
	view, err := reg.CreateSession(ctx, admin, services.CreateSessionRequest{ProductName: "P", Duration: 100})
	require.NoError(t, err)

	_, err = reg.ProposePrice(ctx, view.SessionAddress, alice, 10)
	require.ErrorIs(t, err, services.ErrNotAuthorized)
	_, err = reg.ApproveParticipant(ctx, admin, alice)
	require.NoError(t, err)
	_, err = reg.ProposePrice(ctx, view.SessionAddress, alice, 10)
	require.NoError(t, err)
	_, err = reg.EndSession(ctx, view.SessionAddress, admin, 12)
	require.NoError(t, err)

	body := scrape(t, m)
	require.Contains(t, body, "pricecrowd_sessions_created_total 1")
	require.Contains(t, body, "pricecrowd_proposals_accepted_total 1")
	require.Contains(t, body, `pricecrowd_proposals_rejected_total{code="not_authorized"} 1`)
	require.Contains(t, body, "pricecrowd_sessions_settled_total 1")
	require.Contains(t, body, "pricecrowd_suggested_price_sum 10")
	require.Contains(t, body, "go_goroutines")
}
