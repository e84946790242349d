package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDispatchUpdatesLatencyAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RecordDispatch("files.list", "success", 12*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchOutcomes.WithLabelValues("success")))
}

func TestSetSkillsLoadedReportsGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.SetSkillsLoaded(7)

	assert.Equal(t, float64(7), testutil.ToFloat64(m.skillsLoaded))
}

func TestRecordEvictionIncrementsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RecordEviction("ttl")
	m.RecordEviction("ttl")
	m.RecordEviction("lru")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.skillEvictions.WithLabelValues("ttl")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.skillEvictions.WithLabelValues("lru")))
}

func TestRecordPersistenceDroppedAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RecordPersistenceDropped(3)
	m.RecordPersistenceDropped(2)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.persistenceDropped))
}
