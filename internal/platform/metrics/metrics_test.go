package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetRegionPages("registry", 128)
	m.ReseedResult(nil)
	m.ReseedResult(errors.New("entropy"))
	m.ReseedResult(errors.New("entropy"))
	m.IncrementOperationError("issue", "out_of_memory")
	m.ObserveOperation("issue", time.Now())

	assert.Equal(t, 128.0, testutil.ToFloat64(m.RegionPages.WithLabelValues("registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reseeds.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reseeds.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("issue", "out_of_memory")))
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
