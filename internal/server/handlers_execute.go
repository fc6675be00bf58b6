package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/aicache"
	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/host"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// aiAgentExecuteRequest is POST /server/aiagent/executeTask's body (spec.md §6.1).
type aiAgentExecuteRequest struct {
	TaskDescription string `json:"task_description"`
	Host            string `json:"host"`
	DeviceID        string `json:"device_id"`
	UseCache        bool   `json:"use_cache"`
	DebugMode       bool   `json:"debug_mode"`
}

// handleAIAgentExecute implements spec.md §4.3's cache-first AI execution
// path: look up a reusable plan; fall back to the configured PlanGenerator
// on a clean miss or a discarded low-confidence candidate; dispatch
// whichever graph results to the owning Host, and record the outcome back
// into the cache once the execution completes.
func (s *Server) handleAIAgentExecute(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	userID := httpapi.UserID(r)

	var req aiAgentExecuteRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.aiagentExecute", err)
		return
	}

	entry, ok := s.Registry.HostForDevice(req.DeviceID)
	if !ok {
		httpapi.WriteError(w, s.Log, "server.aiagentExecute",
			apperr.Wrapf("server.aiagentExecute", "DeviceUnavailable", apperr.ErrDeviceUnavailable, "no available host owns device %s", req.DeviceID))
		return
	}
	// Per-device busy tracking (spec.md §5): unrelated devices in the same
	// team must be free to run concurrently, so this is DeviceLocks, not
	// the team-wide Locks used by handleScriptExecute's fan-out.
	if !s.DeviceLocks.TryAcquire(req.DeviceID) {
		httpapi.WriteError(w, s.Log, "server.aiagentExecute",
			apperr.New("server.aiagentExecute", "DeviceBusy", apperr.ErrDeviceBusy))
		return
	}
	device, _ := entry.deviceByID(req.DeviceID)

	execCtx := aicache.ExecutionContext{
		DeviceModel: device.Model,
		UseCache:    req.UseCache,
		DebugMode:   req.DebugMode,
	}

	lookup, err := s.Cache.Lookup(r.Context(), teamID, req.TaskDescription, execCtx)
	if err != nil {
		s.DeviceLocks.Release(req.DeviceID)
		httpapi.WriteError(w, s.Log, "server.aiagentExecute", err)
		return
	}

	var graph map[string]interface{}
	wasCacheHit := lookup.Plan != nil
	intent, target := "", ""
	if wasCacheHit {
		graph = lookup.Plan.Graph
		intent, target = lookup.Plan.Intent, lookup.Plan.Target
	} else {
		if s.PlanGen == nil {
			s.DeviceLocks.Release(req.DeviceID)
			httpapi.WriteError(w, s.Log, "server.aiagentExecute",
				apperr.Wrapf("server.aiagentExecute", "GenerationUnavailable", apperr.ErrTransient, "no AI plan generator configured and no cached plan available"))
			return
		}
		graph, intent, target, err = s.PlanGen.Generate(r.Context(), req.TaskDescription, execCtx)
		if err != nil {
			s.DeviceLocks.Release(req.DeviceID)
			httpapi.WriteError(w, s.Log, "server.aiagentExecute", err)
			return
		}
	}

	startedAt := time.Now()
	taskID, err := s.dispatch(r.Context(), entry, dispatchRequest{
		Kind:           "ai",
		DeviceID:       req.DeviceID,
		TeamID:         teamID,
		UserID:         userID,
		ExecutableType: "ai",
		ExecutableID:   lookup.Fingerprint,
		ScriptName:     req.TaskDescription,
		Graph:          graph,
		OnDone: func(result *model.ExecutionResult, execErr error) {
			outcome := aicache.StoreOutcome{
				TeamID:           teamID,
				Fingerprint:      lookup.Fingerprint,
				NormalizedPrompt: lookup.Normalized.Prompt,
				Intent:           intent,
				Target:           target,
				DeviceModel:      execCtx.DeviceModel,
				UIName:           execCtx.UIName,
				AvailableNodes:   execCtx.AvailableNodes,
				Graph:            graph,
				UseCache:         req.UseCache,
				DebugMode:        req.DebugMode,
				ExecutionTimeMS:  float64(time.Since(startedAt).Milliseconds()),
				WasCacheHit:      wasCacheHit,
			}
			if result != nil {
				outcome.OverallSuccess = result.Success
				outcome.EveryStepSucceeded = everyStepSucceeded(result)
			}
			if execErr != nil {
				outcome.FailureReason = execErr.Error()
			}
			// OnDone fires from the background polling goroutine, after
			// this handler has already returned -- r.Context() would
			// already be canceled by then. The device lock is only safe to
			// release here, once the dispatched execution has actually
			// reached a terminal state.
			if recordErr := s.Cache.Record(context.Background(), outcome); recordErr != nil {
				s.Log.Error("ai plan cache record failed", logger.Fields{"fingerprint": lookup.Fingerprint, "error": recordErr.Error()})
			}
			s.DeviceLocks.Release(req.DeviceID)
		},
	})
	if err != nil {
		s.DeviceLocks.Release(req.DeviceID)
		httpapi.WriteError(w, s.Log, "server.aiagentExecute", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID})
}

func everyStepSucceeded(result *model.ExecutionResult) bool {
	for _, step := range result.StepResults {
		if !step.Success {
			return false
		}
	}
	return true
}

// handleAIAgentStatus implements GET /server/aiagent/getStatus?task_id=,
// surfacing the Server-side task's monotonically growing log.
func (s *Server) handleAIAgentStatus(w http.ResponseWriter, r *http.Request) {
	s.handleTaskStatus(w, r)
}

// handleTaskStatus is shared by every /server/.../getStatus-shaped
// endpoint: look up the Server-side host.TaskManager entry and render its
// snapshot, trimmed to entries from index `since` onward (spec.md §5).
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		httpapi.WriteError(w, s.Log, "server.taskStatus",
			apperr.Wrapf("server.taskStatus", "ValidationError", apperr.ErrValidation, "task_id is required"))
		return
	}
	task, ok := s.Tasks.Get(taskID)
	if !ok {
		httpapi.WriteError(w, s.Log, "server.taskStatus", apperr.New("server.taskStatus", "NotFound", apperr.ErrNotFound))
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

// analyzeTestCaseRequest is POST /server/aitestcase/analyzeTestCase's body.
type analyzeTestCaseRequest struct {
	Prompt string `json:"prompt"`
}

// CompatibilityEntry is one row of an AnalysisResult's per-UI matrix.
type CompatibilityEntry struct {
	UIName     string `json:"ui_name"`
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// AnalysisResult is POST /server/aitestcase/analyzeTestCase's response.
type AnalysisResult struct {
	AnalysisID string                `json:"analysis_id"`
	Prompt     string                `json:"prompt"`
	Matrix     []CompatibilityEntry  `json:"compatibility_matrix"`
}

func (s *Server) handleAnalyzeTestCase(w http.ResponseWriter, r *http.Request) {
	var req analyzeTestCaseRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.analyzeTestCase", err)
		return
	}
	if s.Analyzer == nil {
		httpapi.WriteError(w, s.Log, "server.analyzeTestCase",
			apperr.Wrapf("server.analyzeTestCase", "GenerationUnavailable", apperr.ErrTransient, "no testcase analyzer configured"))
		return
	}
	result, err := s.Analyzer.Analyze(r.Context(), req.Prompt)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.analyzeTestCase", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

// generateTestCasesRequest is POST /server/aitestcase/generateTestCases's body.
type generateTestCasesRequest struct {
	AnalysisID           string   `json:"analysis_id"`
	ConfirmedUserinterfaces []string `json:"confirmed_userinterfaces"`
}

func (s *Server) handleGenerateTestCases(w http.ResponseWriter, r *http.Request) {
	var req generateTestCasesRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.generateTestCases", err)
		return
	}
	if s.Analyzer == nil {
		httpapi.WriteError(w, s.Log, "server.generateTestCases",
			apperr.Wrapf("server.generateTestCases", "GenerationUnavailable", apperr.ErrTransient, "no testcase analyzer configured"))
		return
	}
	testcases, err := s.Analyzer.Generate(r.Context(), req.AnalysisID, req.ConfirmedUserinterfaces)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.generateTestCases", err)
		return
	}
	for _, tc := range testcases {
		if err := s.Store.SaveTestcase(r.Context(), tc); err != nil {
			httpapi.WriteError(w, s.Log, "server.generateTestCases", err)
			return
		}
	}
	httpapi.WriteJSON(w, http.StatusOK, testcases)
}

// executeAITestCaseRequest is POST /server/aitestcase/executeTestCase's body.
type executeAITestCaseRequest struct {
	TestCaseID string `json:"test_case_id"`
	DeviceID   string `json:"device_id"`
}

func (s *Server) handleExecuteAITestCase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	userID := httpapi.UserID(r)

	var req executeAITestCaseRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.executeAITestCase", err)
		return
	}

	taskID, err := s.executeTestcase(r.Context(), teamID, userID, req.TestCaseID, executeTestcaseRequest{DeviceID: req.DeviceID})
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.executeAITestCase", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID})
}

// scriptExecuteRequest is POST /server/script/execute's body.
type scriptExecuteRequest struct {
	ScriptName string                   `json:"script_name"`
	Targets    []scriptTarget           `json:"targets"`
	Params     map[string]interface{}   `json:"params"`
}

type scriptTarget struct {
	Host     string `json:"host"`
	DeviceID string `json:"device_id"`
}

// scriptExecuteResponse reports one task_id per fanned-out target (spec.md
// §4.5 "Multi-device script execution": "one proxied execution per
// target... streams individual completions").
type scriptExecuteResponse struct {
	Targets []scriptTargetResult `json:"targets"`
}

type scriptTargetResult struct {
	Host     string `json:"host"`
	DeviceID string `json:"device_id"`
	TaskID   string `json:"task_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleScriptExecute fans a script out across every (host, device) target,
// holding the team's global execution lock until every dispatch attempt
// has been made (spec.md §5 "Backpressure"); per-target failure does not
// stop the others.
func (s *Server) handleScriptExecute(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	userID := httpapi.UserID(r)

	var req scriptExecuteRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.scriptExecute", err)
		return
	}

	if !s.Locks.TryAcquire(teamID) {
		httpapi.WriteError(w, s.Log, "server.scriptExecute",
			apperr.New("server.scriptExecute", "DeviceBusy", apperr.ErrDeviceBusy))
		return
	}

	// The team lock must stay held until every fanned-out dispatch reaches
	// a terminal state (spec.md §5 Backpressure), not merely until this
	// handler finishes issuing them -- each dispatch runs to completion in
	// its own background goroutine well after this function returns, so
	// the release is driven by a WaitGroup rather than a defer here.
	var wg sync.WaitGroup
	resp := scriptExecuteResponse{}
	for _, target := range req.Targets {
		entry, ok := s.Registry.HostForDevice(target.DeviceID)
		if !ok {
			resp.Targets = append(resp.Targets, scriptTargetResult{Host: target.Host, DeviceID: target.DeviceID, Error: "device unavailable"})
			continue
		}
		wg.Add(1)
		taskID, err := s.dispatch(r.Context(), entry, dispatchRequest{
			Kind:           "script",
			DeviceID:       target.DeviceID,
			TeamID:         teamID,
			UserID:         userID,
			ExecutableType: "script",
			ExecutableID:   req.ScriptName,
			ScriptName:     req.ScriptName,
			Graph:          req.Params,
			OnDone:         func(*model.ExecutionResult, error) { wg.Done() },
		})
		if err != nil {
			wg.Done()
			resp.Targets = append(resp.Targets, scriptTargetResult{Host: target.Host, DeviceID: target.DeviceID, Error: err.Error()})
			continue
		}
		resp.Targets = append(resp.Targets, scriptTargetResult{Host: target.Host, DeviceID: target.DeviceID, TaskID: taskID})
	}
	go func() {
		wg.Wait()
		s.Locks.Release(teamID)
	}()

	httpapi.WriteJSON(w, http.StatusOK, resp)
}

// deviceByID is a small helper on HostEntry used only by the aiagent path,
// which needs the device's declared model for the cache's ExecutionContext.
func (e *HostEntry) deviceByID(deviceID string) (host.DeviceInfo, bool) {
	d, ok := e.Devices[deviceID]
	return d, ok
}
