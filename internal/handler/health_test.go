package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(stubPinger{err: errors.New("down")}, nil)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)
}

func TestHealthHandler_Readyz(t *testing.T) {
	tests := []struct {
		name     string
		db       HealthChecker
		cache    HealthChecker
		status   int
		postgres string
		redis    string
	}{
		{"all healthy", stubPinger{}, stubPinger{}, http.StatusOK, "ok", "ok"},
		{"database down", stubPinger{err: errors.New("refused")}, stubPinger{}, http.StatusServiceUnavailable, "error: refused", "ok"},
		{"redis down", stubPinger{}, stubPinger{err: errors.New("timeout")}, http.StatusServiceUnavailable, "ok", "error: timeout"},
		{"not configured", nil, nil, http.StatusOK, "not configured", "not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.cache)
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody[HealthResponse](t, rec)
			assert.Equal(t, tt.postgres, body.Checks["postgres"])
			assert.Equal(t, tt.redis, body.Checks["redis"])
			if tt.status == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
			}
		})
	}
}
