package host

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/aicache"
	"github.com/angelstreet/virtualpytest-sub002/internal/controller"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/navigation"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	store := persistence.NewMemoryStore(nil)
	reg := controller.NewRegistry(nil)
	for category, commands := range controller.DefaultCommandSets() {
		reg.Register(category, commands, controller.NewLoggingDriverFactory(category, commands, nil))
	}
	nav := navigation.NewEngine(store, logger.Noop())
	cache := aicache.NewCache(store, logger.Noop())

	return New("host-1", "http://localhost:6000", store, reg, nav, cache, logger.Noop(), nil,
		WithDevices(DeviceInfo{DeviceID: "device-1", Model: "pixel-7"}))
}

// straightGraph builds a minimal start -> action -> success wire graph,
// matching the shape executor.ParseGraph expects.
func straightGraph() map[string]interface{} {
	return map[string]interface{}{
		"nodes": []map[string]interface{}{
			{"id": "n-start", "kind": "start"},
			{"id": "n-press", "kind": "action", "action_set": map[string]interface{}{
				"id": "as-1", "actions": []map[string]interface{}{
					{"command": "press_key", "params": map[string]interface{}{"key": "HOME"}},
				},
			}},
			{"id": "n-success", "kind": "success"},
		},
		"edges": []map[string]interface{}{
			{"from": "n-start", "to": "n-press", "handle": "success"},
			{"from": "n-press", "to": "n-success", "handle": "success"},
		},
	}
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleExecuteTask_RunsToCompletionAfterHandlerReturns(t *testing.T) {
	h := newTestHost(t)

	rec := doJSON(t, h.Router(), http.MethodPost, "/host/testcase/executeTask", map[string]interface{}{
		"team_id":         "team-1",
		"device_id":       "device-1",
		"executable_type": "testcase",
		"executable_id":   "tc-1",
		"graph":           straightGraph(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data executeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.TaskID)

	// This is a regression test for the handler-goroutine-outliving-the-
	// request hazard: if Execute were ever given r.Context() again, this
	// task would never reach a terminal state, since the request that
	// started it has already returned.
	task, ok := h.Tasks.Get(resp.Data.TaskID)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return !task.Snapshot(0).IsExecuting
	}, time.Second, 5*time.Millisecond, "execution must finish even after the starting request has returned")
	assert.True(t, task.Snapshot(0).Result.Success)
	assert.NotEmpty(t, task.Snapshot(0).ExecutionLog)
}

func TestHandleStatus_SinceTrimsToDeltaOnly(t *testing.T) {
	h := newTestHost(t)

	rec := doJSON(t, h.Router(), http.MethodPost, "/host/testcase/executeTask", map[string]interface{}{
		"device_id": "device-1",
		"graph":     straightGraph(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data executeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Eventually(t, func() bool {
		statusRec := doJSON(t, h.Router(), http.MethodGet,
			"/host/testcase/status?task_id="+resp.Data.TaskID, nil)
		require.Equal(t, http.StatusOK, statusRec.Code)
		var statusResp struct {
			Data StatusView `json:"data"`
		}
		require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))
		return !statusResp.Data.IsExecuting
	}, time.Second, 5*time.Millisecond, "status polling must observe a terminal state")

	full := doJSON(t, h.Router(), http.MethodGet, "/host/testcase/status?task_id="+resp.Data.TaskID, nil)
	var fullResp struct {
		Data StatusView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(full.Body.Bytes(), &fullResp))
	require.NotEmpty(t, fullResp.Data.ExecutionLog)

	delta := doJSON(t, h.Router(), http.MethodGet,
		"/host/testcase/status?task_id="+resp.Data.TaskID+"&since="+strconv.Itoa(fullResp.Data.NextIndex), nil)
	var deltaResp struct {
		Data StatusView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(delta.Body.Bytes(), &deltaResp))
	assert.Empty(t, deltaResp.Data.ExecutionLog, "polling with since==next_index must return no further steps")
}

func TestHandleExecuteTask_UnknownDeviceIsDeviceUnavailable(t *testing.T) {
	h := newTestHost(t)

	rec := doJSON(t, h.Router(), http.MethodPost, "/host/testcase/executeTask", map[string]interface{}{
		"device_id": "no-such-device",
		"graph":     straightGraph(),
	})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleExecuteTask_MalformedGraphIsValidationError(t *testing.T) {
	h := newTestHost(t)

	rec := doJSON(t, h.Router(), http.MethodPost, "/host/testcase/executeTask", map[string]interface{}{
		"device_id": "device-1",
		"graph":     map[string]interface{}{"nodes": []interface{}{}, "edges": []interface{}{}},
	})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleStatus_UnknownTaskIDIsNotFound(t *testing.T) {
	h := newTestHost(t)

	rec := doJSON(t, h.Router(), http.MethodGet, "/host/testcase/status?task_id=never-existed", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleStatus_MissingTaskIDIsValidationError(t *testing.T) {
	h := newTestHost(t)

	rec := doJSON(t, h.Router(), http.MethodGet, "/host/testcase/status", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
