package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRequest("/pessoas/{id}", "GET", 404, time.Now())
	m.ObserveRequest("/pessoas/{id}", "GET", 404, time.Now())

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestObserveRequest_NilSafe(t *testing.T) {
	var m *HTTP
	assert.NotPanics(t, func() {
		m.ObserveRequest("/", "GET", 200, time.Now())
	})
}
