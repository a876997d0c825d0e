package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	require.NoError(t, c.Register())

	c.RecordCall("getValue", OutcomeOK, 10*time.Millisecond)
	c.RecordCall("getValue", OutcomeTimeout, time.Second)
	c.RecordCall("getValue", OutcomeError, 5*time.Millisecond)

	stats := c.GetMethodStats("getValue")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(3), stats.Calls)
	assert.Equal(t, uint64(2), stats.Failures)
	assert.Equal(t, uint64(1), stats.Timeouts)
	assert.Equal(t, 5*time.Millisecond, stats.LastDuration)
	assert.False(t, stats.LastCalledAt.IsZero())

	assert.Equal(t, 3.0, gatheredSum(t, reg, "viewbridge_service_calls_total"))
	assert.Nil(t, c.GetMethodStats("validate"))
}

func TestCollector_Snapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	require.NoError(t, c.Register())

	c.SetRegisteredServices(3)
	c.RecordPublication()
	c.RecordPublication()
	c.RecordDrop("foreign_origin")
	c.RecordAlert("error")
	c.RecordCall("init", OutcomeOK, time.Millisecond)

	snapshot := c.GetSnapshot()
	assert.Equal(t, 3, snapshot.RegisteredServices)
	assert.Equal(t, uint64(2), snapshot.Publications)
	assert.Equal(t, uint64(1), snapshot.Dropped["foreign_origin"])
	assert.Equal(t, uint64(1), snapshot.Alerts["error"])
	assert.Contains(t, snapshot.Methods, "init")
	assert.Equal(t, 3.0, gatheredSum(t, reg, "viewbridge_registry_services"))

	// snapshot entries are copies
	snapshot.Methods["init"].Calls = 99
	assert.Equal(t, uint64(1), c.GetMethodStats("init").Calls)
}

func TestCollector_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	require.NoError(t, c.Register())
	require.NoError(t, c.Register())

	// a second collector on the same registry hits AlreadyRegisteredError
	other := New(reg)
	require.NoError(t, other.Register())
}

func TestCollector_Reset(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.RecordCall("init", OutcomeOK, time.Millisecond)
	c.SetRegisteredServices(2)
	c.RecordDrop("undecodable")

	c.Reset()

	snapshot := c.GetSnapshot()
	assert.Empty(t, snapshot.Methods)
	assert.Empty(t, snapshot.Dropped)
	assert.Zero(t, snapshot.RegisteredServices)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NoError(t, c.Register())
	c.RecordCall("init", OutcomeOK, time.Millisecond)
	c.SetRegisteredServices(1)
	c.RecordPublication()
	c.RecordDrop("x")
	c.RecordAlert("info")
	c.Reset()
	assert.Nil(t, c.GetMethodStats("init"))
	assert.Empty(t, c.GetSnapshot().Methods)
}

func gatheredSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var sum float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if m.GetCounter() != nil {
				sum += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				sum += m.GetGauge().GetValue()
			}
		}
	}
	return sum
}
