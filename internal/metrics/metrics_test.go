package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterTotal sums every sample of the named counter family.
func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("status", "200", 10*time.Millisecond)
	m.Unlock("success")
	m.Prompt("webauthn_hmac_secret")
	m.KeyLookup("hit")
	m.KeyLookup("hit")
	m.Envelope("encrypt", "ok")

	assert.Equal(t, 1.0, counterTotal(t, reg, "e2eedm_api_requests_total"))
	assert.Equal(t, 2.0, counterTotal(t, reg, "e2eedm_resolver_lookups_total"))
	assert.Equal(t, 1.0, counterTotal(t, reg, "e2eedm_unlock_attempts_total"))
	assert.Equal(t, 1.0, counterTotal(t, reg, "e2eedm_unlock_prompts_total"))
	assert.Equal(t, 1.0, counterTotal(t, reg, "e2eedm_dm_envelopes_total"))
}

func TestMetrics_NilRegisterer(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, func() {
		m.Envelope("decrypt", "failed")
		m.ObserveRequest("actor_key", "404", time.Millisecond)
	})
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("status", "500", time.Second)
		m.Unlock("failed")
		m.Prompt("recovery_mnemonic_v1")
		m.KeyLookup("miss")
		m.Envelope("encrypt", "ok")
	})
}
