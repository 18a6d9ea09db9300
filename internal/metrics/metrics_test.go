package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodGet)
	m.ObserveRequest(http.MethodGet)
	m.ObserveRequest(http.MethodOptions)
	m.UpgradeOutcome(OutcomeHandedOff)
	m.UpgradeOutcome(OutcomeFailed)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.RoomOpened()

	assert.InDelta(t, 2, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodOptions)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Upgrades.WithLabelValues(OutcomeHandedOff)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsActive), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RoomsActive), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest(http.MethodGet)
		m.UpgradeOutcome(OutcomeRateLimited)
		m.SessionOpened()
		m.SessionClosed()
		m.RoomOpened()
		m.RoomClosed()
		m.FrameRelayed()
		m.PeerDropped()
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.UpgradeOutcome(OutcomeHandedOff)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `docrelay_upgrades_total{outcome="handed_off"} 1`))
}
