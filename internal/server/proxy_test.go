package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/resilience"
)

func TestProxy_Do_DecodesEnvelopeDataAndForwardsHeaders(t *testing.T) {
	var gotTeam, gotUser string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTeam = r.Header.Get("X-Team-Id")
		gotUser = r.Header.Get("X-User-Id")
		httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"task_id": "task-1"})
	}))
	defer ts.Close()

	p := NewProxy(time.Second, resilience.DefaultCircuitBreakerConfig())
	var out struct {
		TaskID string `json:"task_id"`
	}
	err := p.Do(context.Background(), "host-1", ts.URL, http.MethodPost, "/host/testcase/executeTask", "team-1", "user-1", map[string]string{"x": "y"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, "team-1", gotTeam)
	assert.Equal(t, "user-1", gotUser)
}

func TestProxy_Do_SurfacesEnvelopeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"boom"}`))
	}))
	defer ts.Close()

	p := NewProxy(time.Second, resilience.DefaultCircuitBreakerConfig())
	err := p.Do(context.Background(), "host-1", ts.URL, http.MethodGet, "/host/testcase/status", "", "", nil, nil)
	require.Error(t, err)
}

func TestProxy_Do_PerHostCircuitBreakerIsolatesFailures(t *testing.T) {
	badTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badTS.Close()
	goodTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	}))
	defer goodTS.Close()

	cfg := resilience.CircuitBreakerConfig{Threshold: 2, Timeout: time.Minute, HalfOpenRequests: 1}
	p := NewProxy(time.Second, cfg)

	for i := 0; i < 2; i++ {
		_ = p.Do(context.Background(), "bad-host", badTS.URL, http.MethodGet, "/x", "", "", nil, nil)
	}
	// bad-host's breaker should now be open; a call to good-host must be unaffected.
	var out map[string]interface{}
	err := p.Do(context.Background(), "good-host", goodTS.URL, http.MethodGet, "/x", "", "", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])

	err = p.Do(context.Background(), "bad-host", badTS.URL, http.MethodGet, "/x", "", "", nil, nil)
	require.Error(t, err, "bad-host's breaker must now be open")
}
