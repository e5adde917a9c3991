package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New("test", reg)
	require.NoError(t, err)

	o.Resolve("computed")
	o.Resolve("computed")
	o.TierOp(TierDurable, "get", OutcomeError)
	o.StoreWriteFailed()
	o.Transform(20 * time.Millisecond)
	o.Delivery(nil)
	o.Delivery(errors.New("broken pipe"))

	assert.Equal(t, 2.0, testutil.ToFloat64(o.resolves.WithLabelValues("computed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.tierOps.WithLabelValues(TierDurable, "get", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.storeWriteFails))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deliveries.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deliveries.WithLabelValues("ok")))
}

func TestObserverSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New("test", reg)
	require.NoError(t, err)
	second, err := New("test", reg)
	require.NoError(t, err)

	second.Resolve("failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.resolves.WithLabelValues("failed")))
}

func TestNilObserver(t *testing.T) {
	var o *Observer
	assert.NotPanics(t, func() {
		o.Resolve("computed")
		o.TierOp(TierEphemeral, "get", OutcomeMiss)
		o.StoreWriteFailed()
		o.Transform(time.Second)
		o.Delivery(nil)
	})
}
