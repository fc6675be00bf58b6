package host

import (
	"context"
	"net/http"
	"strconv"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/executor"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// executeRequest is the wire shape of a POST /host/{kind}/executeTask body.
// Graph is the opaque graph_json/graph blob executor.ParseGraph decodes.
type executeRequest struct {
	TeamID         string                 `json:"team_id"`
	DeviceID       string                 `json:"device_id"`
	ExecutableType string                 `json:"executable_type"`
	ExecutableID   string                 `json:"executable_id"`
	ScriptName     string                 `json:"script_name"`
	RootTreeID     string                 `json:"root_tree_id,omitempty"`
	CurrentNodeID  string                 `json:"current_node_id,omitempty"`
	Graph          map[string]interface{} `json:"graph"`
}

type executeResponse struct {
	TaskID string `json:"task_id"`
}

// Router builds the Host's HTTP surface (spec.md §6.2): per-kind async
// executeTask/status using Go 1.22+ ServeMux method+wildcard patterns.
func (h *Host) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /host/{kind}/executeTask", h.handleExecuteTask)
	mux.HandleFunc("GET /host/{kind}/status", h.handleStatus)
	return mux
}

func (h *Host) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")

	var req executeRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.Log, "host.executeTask", err)
		return
	}

	device, ok := h.Device(req.DeviceID)
	if !ok {
		err := apperr.Wrapf("host.executeTask", "DeviceUnavailable", apperr.ErrDeviceUnavailable,
			"device %s not owned by this host", req.DeviceID)
		httpapi.WriteError(w, h.Log, "host.executeTask", err)
		return
	}

	graph, err := executor.ParseGraph(req.Graph)
	if err == nil {
		_, err = graph.StartNode()
	}
	if err != nil {
		httpapi.WriteError(w, h.Log, "host.executeTask", apperr.Wrapf("host.executeTask", "ValidationError", apperr.ErrValidation, "%v", err))
		return
	}

	execReq := executor.Request{
		Graph:          graph,
		Device:         executor.DeviceContext{DeviceID: device.DeviceID, DeviceModel: device.Model},
		TeamID:         req.TeamID,
		ExecutableType: req.ExecutableType,
		ExecutableID:   req.ExecutableID,
		ScriptType:     model.ScriptType(kind),
		ScriptName:     req.ScriptName,
		Host:           h.ID,
		RootTreeID:     req.RootTreeID,
		CurrentNodeID:  req.CurrentNodeID,
	}

	// The execution outlives this request: Tasks.Start runs it in its own
	// goroutine, so it must not inherit the request's context, which is
	// canceled the moment this handler returns.
	bgCtx := context.Background()
	taskID := h.Tasks.Start(kind, func(onStep func(model.StepRecord)) (*model.ExecutionResult, error) {
		execReq.OnStep = onStep
		result, err := h.Exec.Execute(bgCtx, execReq)
		if err != nil {
			h.Log.Error("task execution failed", logger.Fields{"device_id": req.DeviceID, "error": err.Error()})
			return nil, err
		}
		if insertErr := h.Store.InsertResult(bgCtx, result); insertErr != nil {
			h.Log.Error("failed to persist execution result", logger.Fields{"result_id": result.ResultID, "error": insertErr.Error()})
		}
		return result, nil
	})

	httpapi.WriteJSON(w, http.StatusOK, executeResponse{TaskID: taskID})
}

func (h *Host) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		httpapi.WriteError(w, h.Log, "host.status", apperr.Wrapf("host.status", "ValidationError", apperr.ErrValidation, "task_id is required"))
		return
	}

	task, ok := h.Tasks.Get(taskID)
	if !ok {
		httpapi.WriteError(w, h.Log, "host.status", apperr.New("host.status", "NotFound", apperr.ErrNotFound))
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			since = n
		}
	}

	httpapi.WriteJSON(w, http.StatusOK, task.Snapshot(since))
}
