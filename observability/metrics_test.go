package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestGatewaySingleton(t *testing.T) {
	first := Gateway()
	second := Gateway()
	require.NotNil(t, first)
	require.Same(t, first, second)
}

func TestObserveSegmentsByOutcome(t *testing.T) {
	m := Gateway()

	before := testutil.ToFloat64(m.requests.WithLabelValues("observe_test", "success"))
	m.Observe("observe_test", nil, 5*time.Millisecond)
	m.Observe("observe_test", errors.New("boom"), 5*time.Millisecond)

	require.Equal(t, before+1, testutil.ToFloat64(m.requests.WithLabelValues("observe_test", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("observe_test", "error")))
}

func TestObserveDefaultsEmptyOperation(t *testing.T) {
	m := Gateway()
	m.Observe("", nil, time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "success")), float64(1))
}

func TestRecordAuthErrorAndSettlement(t *testing.T) {
	m := Gateway()

	m.RecordAuthError("borrow_test")
	require.Equal(t, float64(1), testutil.ToFloat64(m.authErrors.WithLabelValues("borrow_test")))

	m.RecordSettlement("liquidate")
	require.Equal(t, float64(1), testutil.ToFloat64(m.settlements.WithLabelValues("liquidate")))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *GatewayMetrics
	require.NotPanics(t, func() {
		m.Observe("noop", nil, time.Millisecond)
		m.RecordAuthError("noop")
		m.RecordSettlement("noop")
	})
}
