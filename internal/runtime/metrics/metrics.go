// Package metrics exposes Prometheus collectors for channel calls, registry
// size, interactivity traffic and dropped messages. A nil *Collector is valid
// and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

const namespace = "viewbridge"

// Collector tracks runtime statistics.
type Collector struct {
	mu sync.RWMutex

	methods            map[string]*MethodStats
	registeredServices int
	publications       uint64
	dropped            map[string]uint64
	alerts             map[string]uint64

	callsTotal         *prometheus.CounterVec
	callDuration       *prometheus.HistogramVec
	servicesRegistered prometheus.Gauge
	publicationsTotal  prometheus.Counter
	droppedTotal       *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// MethodStats holds the counters of one called method.
type MethodStats struct {
	Calls        uint64        `json:"calls"`
	Failures     uint64        `json:"failures"`
	Timeouts     uint64        `json:"timeouts"`
	LastDuration time.Duration `json:"last_duration"`
	LastCalledAt time.Time     `json:"last_called_at"`
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	Methods            map[string]*MethodStats `json:"methods"`
	RegisteredServices int                     `json:"registered_services"`
	Publications       uint64                  `json:"publications"`
	Dropped            map[string]uint64       `json:"dropped"`
	Alerts             map[string]uint64       `json:"alerts"`
	CollectedAt        time.Time               `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates a collector. A nil registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Collector{
		methods:    make(map[string]*MethodStats),
		dropped:    make(map[string]uint64),
		alerts:     make(map[string]uint64),
		registerer: registerer,
		callsTotal: newCounterVec("service", "calls_total", "Host to view calls by method and outcome", []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "call_duration_seconds",
			Help:      "Round trip time of host to view calls",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"method"}),
		servicesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "services",
			Help:      "Service instances currently registered",
		}),
		publicationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactivity",
			Name:      "publications_total",
			Help:      "Interactivity publications",
		}),
		droppedTotal: newCounterVec("channel", "dropped_messages_total", "Inbound channel messages discarded by reason", []string{"reason"}),
		alertsTotal:  newCounterVec("service", "alerts_total", "Alerts raised by views by level", []string{"level"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		c.callsTotal,
		c.callDuration,
		c.servicesRegistered,
		c.publicationsTotal,
		c.droppedTotal,
		c.alertsTotal,
	}

	for _, col := range collectors {
		if err := c.registerer.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	c.registered = true
	return nil
}

// RecordCall records one finished call.
func (c *Collector) RecordCall(method, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &MethodStats{}
		c.methods[method] = stats
	}
	stats.Calls++
	switch outcome {
	case OutcomeOK:
	case OutcomeTimeout:
		stats.Timeouts++
		stats.Failures++
	default:
		stats.Failures++
	}
	stats.LastDuration = duration
	stats.LastCalledAt = time.Now()

	c.callsTotal.WithLabelValues(method, outcome).Inc()
	c.callDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetRegisteredServices sets the registry size gauge.
func (c *Collector) SetRegisteredServices(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registeredServices = n
	c.servicesRegistered.Set(float64(n))
}

// RecordPublication counts one interactivity publication.
func (c *Collector) RecordPublication() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publications++
	c.publicationsTotal.Inc()
}

// RecordDrop counts one discarded inbound message.
func (c *Collector) RecordDrop(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropped[reason]++
	c.droppedTotal.WithLabelValues(reason).Inc()
}

// RecordAlert counts one alert raised by a view.
func (c *Collector) RecordAlert(level string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alerts[level]++
	c.alertsTotal.WithLabelValues(level).Inc()
}

// GetSnapshot returns a copy of the current statistics.
func (c *Collector) GetSnapshot() Snapshot {
	snapshot := Snapshot{
		Methods:     make(map[string]*MethodStats),
		Dropped:     make(map[string]uint64),
		Alerts:      make(map[string]uint64),
		CollectedAt: time.Now(),
	}
	if c == nil {
		return snapshot
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for method, stats := range c.methods {
		statsCopy := *stats
		snapshot.Methods[method] = &statsCopy
	}
	for reason, n := range c.dropped {
		snapshot.Dropped[reason] = n
	}
	for level, n := range c.alerts {
		snapshot.Alerts[level] = n
	}
	snapshot.RegisteredServices = c.registeredServices
	snapshot.Publications = c.publications
	return snapshot
}

// GetMethodStats returns a copy of one method's statistics, or nil.
func (c *Collector) GetMethodStats(method string) *MethodStats {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if stats, ok := c.methods[method]; ok {
		statsCopy := *stats
		return &statsCopy
	}
	return nil
}

// Reset clears all statistics (useful for testing).
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.methods = make(map[string]*MethodStats)
	c.dropped = make(map[string]uint64)
	c.alerts = make(map[string]uint64)
	c.registeredServices = 0
	c.publications = 0
	c.callsTotal.Reset()
	c.callDuration.Reset()
	c.servicesRegistered.Set(0)
	c.droppedTotal.Reset()
	c.alertsTotal.Reset()
}
