package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthLive(t *testing.T) {
	router := newTestRouter(NewAPIHandler(NewHealthHandler(), &fakeSummaries{}, &fakeClusters{}, nil, testLogger()))

	rec := do(t, router, http.MethodGet, "/health/live")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthLiveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, serviceName, resp.Service)
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		checkers []ReadinessChecker
		status   int
		overall  string
	}{
		{"без проверок", nil, http.StatusOK, "ok"},
		{"всё в порядке", []ReadinessChecker{fakeChecker{"registries", "ok"}, fakeChecker{"postgresql", "ok"}}, http.StatusOK, "ok"},
		{"деградация", []ReadinessChecker{fakeChecker{"registries", "degraded"}, fakeChecker{"postgresql", "ok"}}, http.StatusOK, "degraded"},
		{"отказ", []ReadinessChecker{fakeChecker{"registries", "degraded"}, fakeChecker{"postgresql", "fail"}}, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(NewAPIHandler(NewHealthHandler(tt.checkers...), &fakeSummaries{}, &fakeClusters{}, nil, testLogger()))

			rec := do(t, router, http.MethodGet, "/health/ready")
			assert.Equal(t, tt.status, rec.Code)

			var resp healthReadyResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.overall, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestGetMetrics(t *testing.T) {
	router := newTestRouter(NewAPIHandler(NewHealthHandler(), &fakeSummaries{}, &fakeClusters{}, nil, testLogger()))

	rec := do(t, router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
