package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ymera-labs/ymera/agentmanager"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/knowledge"
	"github.com/ymera-labs/ymera/orchestrator"
	"github.com/ymera-labs/ymera/registry"
	"github.com/ymera-labs/ymera/workflow"
)

// adminServer exposes the control plane's state over HTTP for cmd/ymerractl.
// It is a thin translation layer: every handler does one lookup or one
// lifecycle call against the already-wired components and writes JSON.
type adminServer struct {
	registry  *registry.Registry
	orch      *orchestrator.Orchestrator
	engine    *workflow.Engine
	manager   *agentmanager.Manager
	knowledge *knowledge.Store
}

func (s *adminServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/agents", s.handleAgents)
	mux.HandleFunc("/v1/agents/", s.handleAgent)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTask)
	mux.HandleFunc("/v1/workflows", s.handleWorkflows)
	mux.HandleFunc("/v1/workflows/", s.handleWorkflow)
	mux.HandleFunc("/v1/knowledge", s.handleKnowledge)
	mux.HandleFunc("/v1/knowledge/", s.handleKnowledgeEntry)
}

// handleKnowledge serves POST /v1/knowledge — agents publish a new or
// updated entry into the Knowledge Store.
func (s *adminServer) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}
	var req struct {
		Content       string     `json:"content"`
		Category      string     `json:"category"`
		SourceAgentID string     `json:"source_agent_id"`
		Tags          []string   `json:"tags"`
		Metadata      core.Value `json:"metadata"`
		ParentEntryID string     `json:"parent_entry_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		entryID string
		err     error
	)
	if req.ParentEntryID != "" {
		entryID, err = s.knowledge.UpdateEntry(r.Context(), req.ParentEntryID, req.Content, req.Tags, req.Metadata)
	} else {
		entryID, err = s.knowledge.StoreEntry(r.Context(), req.Content, req.Category, req.SourceAgentID, req.Tags, req.Metadata)
	}
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"entry_id": entryID})
}

// handleKnowledgeEntry serves GET /v1/knowledge/{id}.
func (s *adminServer) handleKnowledgeEntry(w http.ResponseWriter, r *http.Request) {
	entryID := strings.TrimPrefix(r.URL.Path, "/v1/knowledge/")
	if entryID == "" {
		writeError(w, http.StatusBadRequest, "entry id is required")
		return
	}
	entry, err := s.knowledge.Get(entryID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *adminServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

// handleAgent serves /v1/agents/{id}[/activate|/suspend]
func (s *adminServer) handleAgent(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	parts := strings.SplitN(rest, "/", 2)
	agentID := parts[0]
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	if len(parts) == 1 {
		agent, err := s.registry.Get(agentID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
		return
	}

	var body struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var err error
	switch parts[1] {
	case "activate":
		err = s.manager.Activate(r.Context(), agentID, body.Reason, body.Actor)
	case "suspend":
		err = s.manager.Suspend(r.Context(), agentID, body.Reason, body.Actor, 0)
	default:
		writeError(w, http.StatusNotFound, "unknown agent operation")
		return
	}
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *adminServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			TaskType   string     `json:"task_type"`
			Capability string     `json:"capability"`
			Payload    core.Value `json:"payload"`
			Priority   int        `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id, err := s.orch.Submit(r.Context(), orchestrator.TaskRequest{
			TaskType:   req.TaskType,
			Capability: req.Capability,
			Payload:    req.Payload,
			Priority:   orchestrator.Priority(req.Priority),
		})
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
		return
	}
	writeJSON(w, http.StatusOK, s.orch.List())
}

// handleTask serves /v1/tasks/{id}[/cancel]
func (s *adminServer) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	taskID := parts[0]
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	if len(parts) == 2 && parts[1] == "cancel" {
		_, err := s.orch.Cancel(taskID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result, ok := s.orch.GetResult(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *adminServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.List())
}

// handleWorkflow serves /v1/workflows/{id}[/cancel]
func (s *adminServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
	parts := strings.SplitN(rest, "/", 2)
	executionID := parts[0]
	if executionID == "" {
		writeError(w, http.StatusBadRequest, "execution id is required")
		return
	}

	if len(parts) == 2 && parts[1] == "cancel" {
		_, err := s.engine.Cancel(executionID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	exec, ok := s.engine.Inspect(executionID)
	if !ok {
		writeError(w, http.StatusNotFound, "execution not found or already terminal")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAPIError maps a core.Error's Kind to an HTTP status, falling back to
// 500 for anything unrecognized.
func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsNotFound(err):
		status = http.StatusNotFound
	case core.IsApprovalRequired(err):
		status = http.StatusForbidden
	case core.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case core.IsSaturated(err):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
