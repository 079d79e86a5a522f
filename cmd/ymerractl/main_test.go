package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunWithNoArgsIsUsageError(t *testing.T) {
	assert.Equal(t, exitUsage, run(nil))
}

func TestRunWithUnknownCommandIsUsageError(t *testing.T) {
	assert.Equal(t, exitUsage, run([]string{"bogus"}))
}

func TestRunHelpSucceeds(t *testing.T) {
	assert.Equal(t, exitSuccess, run([]string{"help"}))
}

func TestAgentListSucceedsAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"agent_id":"a1"}]`))
	}))
	defer srv.Close()
	t.Setenv("YMERA_ADMIN_ADDR", srv.URL)

	assert.Equal(t, exitSuccess, run([]string{"agent", "list"}))
}

func TestAgentInspectMissingIDIsUsageError(t *testing.T) {
	t.Setenv("YMERA_ADMIN_ADDR", "http://127.0.0.1:0")
	assert.Equal(t, exitUsage, run([]string{"agent", "inspect"}))
}

func TestAgentInspectNotFoundIsOperationalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"agent not found"}`))
	}))
	defer srv.Close()
	t.Setenv("YMERA_ADMIN_ADDR", srv.URL)

	assert.Equal(t, exitFailure, run([]string{"agent", "inspect", "missing-agent"}))
}

func TestTaskCancelPostsToCorrectPath(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	t.Setenv("YMERA_ADMIN_ADDR", srv.URL)

	assert.Equal(t, exitSuccess, run([]string{"task", "cancel", "task-1"}))
	assert.Equal(t, "/v1/tasks/task-1/cancel", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestWorkflowListSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["exec-1","exec-2"]`))
	}))
	defer srv.Close()
	t.Setenv("YMERA_ADMIN_ADDR", srv.URL)

	assert.Equal(t, exitSuccess, run([]string{"workflow", "list"}))
}

func TestMigrateWithoutDSNIsUsageError(t *testing.T) {
	t.Setenv("YMERA_POSTGRES_DSN", "")
	assert.Equal(t, exitUsage, run([]string{"migrate", "up"}))
}

func TestMigrateUnknownSubcommandIsUsageError(t *testing.T) {
	t.Setenv("YMERA_POSTGRES_DSN", "postgres://localhost/ymera")
	assert.Equal(t, exitUsage, run([]string{"migrate", "sideways"}))
}
