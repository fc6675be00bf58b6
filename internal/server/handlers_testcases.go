package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// saveTestcaseRequest is POST /server/testcase/save's body (spec.md §6.1).
type saveTestcaseRequest struct {
	TestcaseName      string                 `json:"testcase_name"`
	GraphJSON         map[string]interface{} `json:"graph_json"`
	Description       string                 `json:"description"`
	UserinterfaceName string                 `json:"userinterface_name"`
	Folder            string                 `json:"folder"`
	Tags              []string               `json:"tags"`
	CreationMethod    string                 `json:"creation_method"`
	AIPrompt          string                 `json:"ai_prompt,omitempty"`
	AIAnalysis        string                 `json:"ai_analysis,omitempty"`
}

func (s *Server) handleSaveTestcase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var req saveTestcaseRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveTestcase", err)
		return
	}
	if req.TestcaseName == "" {
		httpapi.WriteError(w, s.Log, "server.saveTestcase",
			apperr.Wrapf("server.saveTestcase", "ValidationError", apperr.ErrValidation, "testcase_name is required"))
		return
	}

	folderName := req.Folder
	if folderName == "" {
		folderName = "root"
	}
	folder, err := s.Store.GetOrCreateFolder(r.Context(), teamID, folderName)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.saveTestcase", err)
		return
	}
	for _, tag := range req.Tags {
		if _, err := s.Store.GetOrCreateTag(r.Context(), teamID, tag); err != nil {
			httpapi.WriteError(w, s.Log, "server.saveTestcase", err)
			return
		}
	}

	now := time.Now()
	tc := &model.Testcase{
		TestcaseID:     uuid.NewString(),
		TeamID:         teamID,
		Name:           req.TestcaseName,
		UIName:         req.UserinterfaceName,
		GraphJSON:      req.GraphJSON,
		CreationMethod: model.CreationMethod(req.CreationMethod),
		AIPrompt:       req.AIPrompt,
		AIAnalysis:     req.AIAnalysis,
		FolderID:       folder.FolderID,
		Tags:           req.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.SaveTestcase(r.Context(), tc); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveTestcase", err)
		return
	}
	if len(req.Tags) > 0 {
		if err := s.Store.SetExecutableTags(r.Context(), teamID, "testcase", tc.TestcaseID, req.Tags); err != nil {
			httpapi.WriteError(w, s.Log, "server.saveTestcase", err)
			return
		}
	}
	httpapi.WriteJSON(w, http.StatusOK, tc)
}

func (s *Server) handleListTestcases(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	tcs, err := s.Store.ListTestcases(r.Context(), teamID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.listTestcases", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tcs)
}

func (s *Server) handleGetTestcase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	tc, err := s.Store.GetTestcase(r.Context(), teamID, r.PathValue("id"))
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.getTestcase", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tc)
}

func (s *Server) handleDeleteTestcase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if err := s.Store.DeleteTestcase(r.Context(), teamID, r.PathValue("id")); err != nil {
		httpapi.WriteError(w, s.Log, "server.deleteTestcase", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleTestcaseHistory(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	results, err := s.Store.ListExecutions(r.Context(), teamID, r.PathValue("id"))
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.testcaseHistory", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, results)
}

// executeTestcaseRequest is POST /server/testcase/{id}/execute's body.
type executeTestcaseRequest struct {
	Host          string `json:"host"`
	DeviceID      string `json:"device_id"`
	RootTreeID    string `json:"root_tree_id,omitempty"`
	CurrentNodeID string `json:"current_node_id,omitempty"`
}

func (s *Server) handleExecuteTestcase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	userID := httpapi.UserID(r)
	testcaseID := r.PathValue("id")

	var req executeTestcaseRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.executeTestcase", err)
		return
	}

	taskID, err := s.executeTestcase(r.Context(), teamID, userID, testcaseID, req)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.executeTestcase", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID})
}

// executeTestcase is the shared core of POST /server/testcase/{id}/execute
// and POST /server/aitestcase/executeTestCase: both resolve a stored
// testcase's graph and dispatch it to the device's owning Host.
//
// This holds the device's own busy lock, not the team-wide one (spec.md §5:
// "one device executes at most one graph at a time" is per-device --
// unrelated devices in the same team must run concurrently). The team-wide
// lock is reserved for handleScriptExecute's multi-device fan-out.
func (s *Server) executeTestcase(ctx context.Context, teamID, userID, testcaseID string, req executeTestcaseRequest) (string, error) {
	tc, err := s.Store.GetTestcase(ctx, teamID, testcaseID)
	if err != nil {
		return "", err
	}

	entry, ok := s.Registry.HostForDevice(req.DeviceID)
	if !ok {
		return "", apperr.Wrapf("server.executeTestcase", "DeviceUnavailable", apperr.ErrDeviceUnavailable, "no available host owns device %s", req.DeviceID)
	}
	if !s.DeviceLocks.TryAcquire(req.DeviceID) {
		return "", apperr.New("server.executeTestcase", "DeviceBusy", apperr.ErrDeviceBusy)
	}

	// The dispatched execution runs to completion in a background
	// goroutine well after this call returns, so the lock can only be
	// released from OnDone -- never via defer here.
	taskID, err := s.dispatch(ctx, entry, dispatchRequest{
		Kind:           "testcase",
		DeviceID:       req.DeviceID,
		TeamID:         teamID,
		UserID:         userID,
		ExecutableType: "testcase",
		ExecutableID:   testcaseID,
		ScriptName:     tc.Name,
		RootTreeID:     req.RootTreeID,
		CurrentNodeID:  req.CurrentNodeID,
		Graph:          tc.GraphJSON,
		OnDone: func(*model.ExecutionResult, error) {
			s.DeviceLocks.Release(req.DeviceID)
		},
	})
	if err != nil {
		s.DeviceLocks.Release(req.DeviceID)
		return "", err
	}
	return taskID, nil
}

// handleFoldersTags backs GET /server/testcase/folders-tags.
func (s *Server) handleFoldersTags(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	folders, err := s.Store.ListFolders(r.Context(), teamID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.foldersTags", err)
		return
	}
	tags, err := s.Store.ListTags(r.Context(), teamID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.foldersTags", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"folders": folders, "tags": tags})
}

// executableItem is one entry of /server/executable/list's per-folder items.
type executableItem struct {
	Type string   `json:"type"`
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

type executableFolder struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Items []executableItem `json:"items"`
}

// handleExecutableList backs GET /server/executable/list?folder=&tags=&search=,
// a unified read-model over stored testcases and ad-hoc scripts grouped by
// folder (spec.md §6.1 "Unified executables").
func (s *Server) handleExecutableList(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	folderFilter := r.URL.Query().Get("folder")
	search := strings.ToLower(r.URL.Query().Get("search"))
	var tagFilter []string
	if v := r.URL.Query().Get("tags"); v != "" {
		tagFilter = strings.Split(v, ",")
	}

	tcs, err := s.Store.ListTestcases(r.Context(), teamID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.executableList", err)
		return
	}
	allFolders, err := s.Store.ListFolders(r.Context(), teamID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.executableList", err)
		return
	}
	allTags, err := s.Store.ListTags(r.Context(), teamID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.executableList", err)
		return
	}

	byFolder := map[string]*executableFolder{}
	for _, f := range allFolders {
		byFolder[f.FolderID] = &executableFolder{ID: f.FolderID, Name: f.Name}
	}

	for _, tc := range tcs {
		if folderFilter != "" && tc.FolderID != folderFilter {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(tc.Name), search) {
			continue
		}
		if len(tagFilter) > 0 && !containsAny(tc.Tags, tagFilter) {
			continue
		}
		folder, ok := byFolder[tc.FolderID]
		if !ok {
			folder = &executableFolder{ID: tc.FolderID, Name: tc.FolderID}
			byFolder[tc.FolderID] = folder
		}
		folder.Items = append(folder.Items, executableItem{Type: "testcase", ID: tc.TestcaseID, Name: tc.Name, Tags: tc.Tags})
	}

	folders := make([]*executableFolder, 0, len(byFolder))
	for _, f := range byFolder {
		folders = append(folders, f)
	}

	tagNames := make([]string, 0, len(allTags))
	for _, t := range allTags {
		tagNames = append(tagNames, t.Name)
	}
	folderNames := make([]string, 0, len(allFolders))
	for _, f := range allFolders {
		folderNames = append(folderNames, f.Name)
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"folders": folders, "all_tags": tagNames, "all_folders": folderNames,
	})
}

func containsAny(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}
