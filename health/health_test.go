package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unhealthy", Unhealthy.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestStateJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Degraded)
	require.NoError(t, err)
	assert.Equal(t, `"degraded"`, string(data))

	var s State
	require.NoError(t, json.Unmarshal([]byte(`"unhealthy"`), &s))
	assert.Equal(t, Unhealthy, s)

	assert.Error(t, json.Unmarshal([]byte(`"broken"`), &s))
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, Healthy, Aggregate(nil).State)

	all := Aggregate([]ComponentHealth{
		NewHealthy("a", ""),
		NewHealthy("b", ""),
	})
	assert.Equal(t, Healthy, all.State)

	degraded := Aggregate([]ComponentHealth{
		NewHealthy("a", ""),
		NewDegraded("b", "starting"),
	})
	assert.Equal(t, Degraded, degraded.State)

	unhealthy := Aggregate([]ComponentHealth{
		NewDegraded("a", "starting"),
		NewUnhealthy("b", "transport closed"),
	})
	assert.Equal(t, Unhealthy, unhealthy.State)
}

func TestCheckerReport(t *testing.T) {
	c := NewChecker()
	c.Register("zeta", func() ComponentHealth { return NewHealthy("zeta", "ok") })
	c.Register("alpha", func() ComponentHealth { return NewDegraded("", "warming up") })

	report := c.Report()
	assert.Equal(t, Degraded, report.State)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "alpha", report.Components[0].Component)
	assert.Equal(t, "zeta", report.Components[1].Component)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestCheckerComponent(t *testing.T) {
	c := NewChecker()
	c.Register("pipeline", func() ComponentHealth { return NewHealthy("pipeline", "all workers running") })

	status, ok := c.Component("pipeline")
	require.True(t, ok)
	assert.Equal(t, Healthy, status.State)

	_, ok = c.Component("missing")
	assert.False(t, ok)
}

func TestCheckerDeregister(t *testing.T) {
	c := NewChecker()
	c.Register("pipeline", func() ComponentHealth { return NewUnhealthy("pipeline", "dead") })
	assert.Equal(t, Unhealthy, c.Report().State)

	c.Deregister("pipeline")
	assert.Equal(t, Healthy, c.Report().State)
	assert.Empty(t, c.Report().Components)
}

func TestHandlerStatusCodes(t *testing.T) {
	c := NewChecker()
	c.Register("pipeline", func() ComponentHealth { return NewHealthy("pipeline", "ok") })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, Healthy, report.State)
	require.Len(t, report.Components, 1)

	c.Register("relay", func() ComponentHealth { return NewUnhealthy("relay", "broker unreachable") })
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
