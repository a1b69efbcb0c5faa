package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.ObserveCapture(nil)
	m.ObserveCapture(nil)
	m.ObserveCapture(errors.New("device gone"))
	m.ObserveState("MainMenu")
	m.ObserveAction("tap")
	m.ObserveRecovery(true, 2)
	m.ObserveRecovery(false, 3)
	m.ObserveTask("daily", "completed", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.captures.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifications.WithLabelValues("MainMenu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("tap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recoveries.WithLabelValues("recovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recoveries.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("daily", "completed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCapture(nil)
		m.ObserveState("x")
		m.ObserveAction("tap")
		m.ObserveRecovery(false, 1)
		m.ObserveTask("t", "aborted", time.Second)
	})
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second, err := New(reg)
	require.NoError(t, err)

	first.ObserveAction("swipe")
	second.ObserveAction("swipe")
	assert.Equal(t, 2.0, testutil.ToFloat64(second.actions.WithLabelValues("swipe")))
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)
	m.ObserveState("BattleScreen")

	srv := NewServer("127.0.0.1:0", reg, nil)
	addr, err := srv.Start()
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `evertale_screen_classifications_total{state="BattleScreen"} 1`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
