package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/host"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// hostExecuteRequest is the body the Server sends to a Host's
// POST /host/{kind}/executeTask (mirrors internal/host's executeRequest).
type hostExecuteRequest struct {
	TeamID         string                 `json:"team_id"`
	DeviceID       string                 `json:"device_id"`
	ExecutableType string                 `json:"executable_type"`
	ExecutableID   string                 `json:"executable_id"`
	ScriptName     string                 `json:"script_name"`
	RootTreeID     string                 `json:"root_tree_id,omitempty"`
	CurrentNodeID  string                 `json:"current_node_id,omitempty"`
	Graph          map[string]interface{} `json:"graph"`
}

type hostExecuteResponse struct {
	TaskID string `json:"task_id"`
}

// dispatchRequest bundles everything one proxied device execution needs.
type dispatchRequest struct {
	Kind           string
	DeviceID       string
	TeamID         string
	UserID         string
	ExecutableType string
	ExecutableID   string
	ScriptName     string
	RootTreeID     string
	CurrentNodeID  string
	Graph          map[string]interface{}

	// OnDone, if set, is invoked once the dispatched execution reaches a
	// terminal state, before the Server-side task's own result is set.
	// The aiagent endpoint uses this to record the outcome back into the
	// AI plan cache (spec.md §4.3 Record) regardless of who is polling.
	OnDone func(*model.ExecutionResult, error)
}

// dispatch implements spec.md §4.5's asynchronous pattern end to end: issue
// POST /host/{kind}/executeTask, then poll GET /host/{kind}/status every
// PollInterval, surfacing only execution_log entries strictly after the
// last observed index (spec.md §5) through the returned task's own
// onStep callback. Returns the Server-side task id the client polls.
func (s *Server) dispatch(ctx context.Context, entry *HostEntry, req dispatchRequest) (string, error) {
	if !entry.Available {
		return "", apperr.Wrapf("server.dispatch", "DeviceUnavailable", apperr.ErrDeviceUnavailable,
			"host %s is unavailable", entry.HostID)
	}

	var execResp hostExecuteResponse
	err := s.Proxy.Do(ctx, entry.HostID, entry.HostURL, http.MethodPost,
		fmt.Sprintf("/host/%s/executeTask", req.Kind), req.TeamID, req.UserID,
		hostExecuteRequest{
			TeamID:         req.TeamID,
			DeviceID:       req.DeviceID,
			ExecutableType: req.ExecutableType,
			ExecutableID:   req.ExecutableID,
			ScriptName:     req.ScriptName,
			RootTreeID:     req.RootTreeID,
			CurrentNodeID:  req.CurrentNodeID,
			Graph:          req.Graph,
		}, &execResp)
	if err != nil {
		return "", apperr.Wrapf("server.dispatch", "DeviceUnavailable", apperr.ErrDeviceUnavailable, "%v", err)
	}

	// The polling loop outlives this request: Tasks.Start runs it in its
	// own goroutine, so it must not inherit the request's context, which
	// is canceled the moment this handler returns.
	bgCtx := context.Background()
	taskID := s.Tasks.Start(req.Kind, func(onStep func(model.StepRecord)) (*model.ExecutionResult, error) {
		result, err := s.pollUntilDone(bgCtx, entry, req.Kind, execResp.TaskID, onStep)
		if req.OnDone != nil {
			req.OnDone(result, err)
		}
		return result, err
	})
	return taskID, nil
}

// pollUntilDone repeatedly polls the Host's status endpoint until the
// execution is no longer running, replaying every newly observed step
// through onStep in order.
func (s *Server) pollUntilDone(ctx context.Context, entry *HostEntry, kind, hostTaskID string, onStep func(model.StepRecord)) (*model.ExecutionResult, error) {
	since := 0
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		var view host.StatusView
		err := s.Proxy.Do(ctx, entry.HostID, entry.HostURL, http.MethodGet,
			fmt.Sprintf("/host/%s/status?task_id=%s&since=%d", kind, hostTaskID, since), "", "", nil, &view)
		if err != nil {
			s.Log.Warn("status poll failed", logger.Fields{"host_id": entry.HostID, "task_id": hostTaskID, "error": err.Error()})
		} else {
			for _, step := range view.ExecutionLog {
				onStep(step)
			}
			since = view.NextIndex
			if !view.IsExecuting {
				if view.Error != "" {
					return view.Result, fmt.Errorf("%s", view.Error)
				}
				return view.Result, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
