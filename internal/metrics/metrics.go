package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tier labels.
const (
	TierEphemeral = "ephemeral"
	TierDurable   = "durable"
)

// Outcome labels for tier operations.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Observer exports pipeline metrics to Prometheus. A nil *Observer is valid
// and records nothing.
type Observer struct {
	resolves          *prometheus.CounterVec
	tierOps           *prometheus.CounterVec
	storeWriteFails   prometheus.Counter
	transformDuration prometheus.Histogram
	deliveries        *prometheus.CounterVec
}

// New registers the pipeline collectors on reg (the default registerer when nil).
func New(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "resizer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Asset resolves by provenance, or failed.",
		}, []string{"outcome"}),
		tierOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_operations_total",
			Help:      "Ephemeral cache and durable store round trips by outcome.",
		}, []string{"tier", "op", "outcome"}),
		storeWriteFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Computed assets that could not be written to the durable store.",
		}),
		transformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Time spent decoding, resizing and encoding one image.",
			Buckets:   prometheus.DefBuckets,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Download and archive deliveries by outcome.",
		}, []string{"outcome"}),
	}

	var err error
	if o.resolves, err = register(reg, o.resolves); err != nil {
		return nil, err
	}
	if o.tierOps, err = register(reg, o.tierOps); err != nil {
		return nil, err
	}
	if o.storeWriteFails, err = register(reg, o.storeWriteFails); err != nil {
		return nil, err
	}
	if o.transformDuration, err = register(reg, o.transformDuration); err != nil {
		return nil, err
	}
	if o.deliveries, err = register(reg, o.deliveries); err != nil {
		return nil, err
	}
	return o, nil
}

// register returns the already registered collector when one with the same
// descriptor exists, so several observers can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register pipeline metric: %w", err)
	}
	return c, nil
}

// Resolve counts one resolve outcome: a provenance tag or "failed".
func (o *Observer) Resolve(outcome string) {
	if o == nil {
		return
	}
	o.resolves.WithLabelValues(outcome).Inc()
}

func (o *Observer) TierOp(tier, op, outcome string) {
	if o == nil {
		return
	}
	o.tierOps.WithLabelValues(tier, op, outcome).Inc()
}

func (o *Observer) StoreWriteFailed() {
	if o == nil {
		return
	}
	o.storeWriteFails.Inc()
}

func (o *Observer) Transform(d time.Duration) {
	if o == nil {
		return
	}
	o.transformDuration.Observe(d.Seconds())
}

func (o *Observer) Delivery(err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.deliveries.WithLabelValues("failed").Inc()
		return
	}
	o.deliveries.WithLabelValues("ok").Inc()
}
