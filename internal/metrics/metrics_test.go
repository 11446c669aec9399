package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegister_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})

	err := prometheus.Register(SubmissionsTotal)
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("success"))
	SubmissionsTotal.WithLabelValues("success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SubmissionsTotal.WithLabelValues("success")))

	SessionsActive.WithLabelValues("capture").Inc()
	SessionsActive.WithLabelValues("capture").Dec()
	assert.Equal(t, float64(0), testutil.ToFloat64(SessionsActive.WithLabelValues("capture")))
}
