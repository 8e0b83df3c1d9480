// Package metrics holds the optional Prometheus collectors for database handles.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup outcomes used as the result label.
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Collectors counts lookups and tracks open handles. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	Lookups       *prometheus.CounterVec
	OpenDatabases prometheus.Gauge
}

// New registers the collectors on reg. Handles sharing a registerer share
// the collectors already registered there. A nil reg returns nil.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		return nil, nil
	}

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravelmmdb",
		Name:      "lookups_total",
		Help:      "Total number of address lookups by result.",
	}, []string{"result"})
	open := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gravelmmdb",
		Name:      "open_databases",
		Help:      "Number of database handles currently open.",
	})

	c := &Collectors{}
	existing, err := register(reg, lookups)
	if err != nil {
		return nil, err
	}
	c.Lookups = existing.(*prometheus.CounterVec)

	existing, err = register(reg, open)
	if err != nil {
		return nil, err
	}
	c.OpenDatabases = existing.(prometheus.Gauge)
	return c, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, errors.Wrap(err, "registering metrics")
	}
	return c, nil
}

// ObserveLookup counts one lookup outcome.
func (c *Collectors) ObserveLookup(found bool, err error) {
	if c == nil {
		return
	}
	switch {
	case err != nil:
		c.Lookups.WithLabelValues(ResultError).Inc()
	case found:
		c.Lookups.WithLabelValues(ResultFound).Inc()
	default:
		c.Lookups.WithLabelValues(ResultNotFound).Inc()
	}
}

// Opened records a newly opened handle.
func (c *Collectors) Opened() {
	if c != nil {
		c.OpenDatabases.Inc()
	}
}

// Closed records a closed handle.
func (c *Collectors) Closed() {
	if c != nil {
		c.OpenDatabases.Dec()
	}
}
