package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Independent(t *testing.T) {
	a := New(false)
	b := New(false)

	a.Dispatches.Inc()
	a.Commands.WithLabelValues("echo", StatusOK).Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Dispatches))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Dispatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Commands.WithLabelValues("echo", StatusOK)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(true)
	m.Replies.Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, body, "koishi_replies_total 2")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
