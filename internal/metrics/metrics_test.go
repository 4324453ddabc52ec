package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observers(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.GateChanged(1, 2, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateCount))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GateQueued))

	m.CallQueued("eth_requestAccounts")
	m.CallStarted("eth_requestAccounts")
	m.CallStarted("eth_requestAccounts")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DedupeQueued.WithLabelValues("eth_requestAccounts")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DedupeStarted.WithLabelValues("eth_requestAccounts")))

	m.ObserveRequest("eth_chainId", OutcomeOK)
	m.ObservePush("chainChanged")
	m.SetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("eth_chainId", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushEvents.WithLabelValues("chainChanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WalletConnected))

	m.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WalletConnected))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetricsWithRegistry(prometheus.NewRegistry())
		NewMetricsWithRegistry(prometheus.NewRegistry())
	})
}
