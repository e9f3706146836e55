package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Settlements.WithLabelValues(OutcomeSettled).Inc()
	m.Settlements.WithLabelValues(OutcomeReplay).Add(2)
	m.DraftsExpired.Add(3)
	m.SettlementDuration.Observe(0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues(OutcomeSettled)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Settlements.WithLabelValues(OutcomeReplay)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DraftsExpired))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dreamsaver_settlements_total"])
	assert.True(t, names["dreamsaver_settlement_duration_seconds"])
	assert.True(t, names["dreamsaver_drafts_expired_total"])
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}
