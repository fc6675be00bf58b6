package server

import "net/http"

// Router builds the Server's HTTP surface (spec.md §6.1) using Go 1.22+
// ServeMux method+wildcard patterns, the same idiom internal/host's Router
// uses for its own surface.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Host registration/heartbeat (spec.md §4.5; handlers live here despite
	// the /host/ prefix -- see handlers_register.go's doc comment).
	mux.HandleFunc("POST /host/register", s.handleHostRegister)
	mux.HandleFunc("POST /host/heartbeat", s.handleHostHeartbeat)

	// Trees.
	mux.HandleFunc("GET /server/navigationTrees/{id}/metadata", s.handleGetTreeMetadata)
	mux.HandleFunc("POST /server/navigationTrees/{id}/metadata", s.handleSaveTreeMetadata)
	mux.HandleFunc("DELETE /server/navigationTrees/{id}", s.handleDeleteTree)
	mux.HandleFunc("GET /server/navigationTrees/{id}/nodes", s.handleListNodes)
	mux.HandleFunc("POST /server/navigationTrees/{id}/nodes", s.handleSaveNode)
	mux.HandleFunc("DELETE /server/navigationTrees/{id}/nodes/{node}", s.handleDeleteNode)
	mux.HandleFunc("GET /server/navigationTrees/{id}/edges", s.handleListEdges)
	mux.HandleFunc("POST /server/navigationTrees/{id}/edges", s.handleSaveEdge)
	mux.HandleFunc("DELETE /server/navigationTrees/{id}/edges/{edge}", s.handleDeleteEdge)
	mux.HandleFunc("GET /server/navigationTrees/{id}/full", s.handleGetFullTree)
	mux.HandleFunc("GET /server/navigationTrees/getNodeSubTrees/{tree}/{node}", s.handleGetNodeSubTrees)
	mux.HandleFunc("POST /server/navigationTrees/{tree}/nodes/{node}/subtrees", s.handleCreateSubtree)
	mux.HandleFunc("GET /server/navigationTrees/{id}/hierarchy", s.handleTreeHierarchy)
	mux.HandleFunc("GET /server/navigationTrees/{id}/breadcrumb", s.handleTreeBreadcrumb)
	mux.HandleFunc("DELETE /server/navigationTrees/{id}/cascade", s.handleCascadeDeleteTree)
	mux.HandleFunc("PUT /server/navigationTrees/{subtree}/move", s.handleMoveSubtree)

	// Testcases.
	mux.HandleFunc("POST /server/testcase/save", s.handleSaveTestcase)
	mux.HandleFunc("GET /server/testcase/list", s.handleListTestcases)
	mux.HandleFunc("GET /server/testcase/{id}", s.handleGetTestcase)
	mux.HandleFunc("DELETE /server/testcase/{id}", s.handleDeleteTestcase)
	mux.HandleFunc("POST /server/testcase/{id}/execute", s.handleExecuteTestcase)
	mux.HandleFunc("GET /server/testcase/{id}/history", s.handleTestcaseHistory)
	mux.HandleFunc("GET /server/testcase/folders-tags", s.handleFoldersTags)

	// Unified executables.
	mux.HandleFunc("GET /server/executable/list", s.handleExecutableList)

	// AI agent.
	mux.HandleFunc("POST /server/aiagent/executeTask", s.handleAIAgentExecute)
	mux.HandleFunc("GET /server/aiagent/getStatus", s.handleAIAgentStatus)

	// AI testcase pipeline.
	mux.HandleFunc("POST /server/aitestcase/analyzeTestCase", s.handleAnalyzeTestCase)
	mux.HandleFunc("POST /server/aitestcase/generateTestCases", s.handleGenerateTestCases)
	mux.HandleFunc("POST /server/aitestcase/executeTestCase", s.handleExecuteAITestCase)

	// Script execution.
	mux.HandleFunc("POST /server/script/execute", s.handleScriptExecute)

	return mux
}
