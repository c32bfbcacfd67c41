package interpreter

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
	_ "modernc.org/sqlite"
)

type testEnv struct {
	it     *Interpreter
	creds  *database.CredentialStore
	flows  *database.WorkflowStore
	userID string
	db     *sql.DB
}

// modelReply builds an OpenRouter-style completion with one tool call
func modelReply(t *testing.T, content, toolName string, args interface{}) string {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("Failed to marshal tool args: %v", err)
	}
	reply := map[string]interface{}{
		"choices": []map[string]interface{}{{
			"message": map[string]interface{}{
				"content": content,
				"tool_calls": []map[string]interface{}{{
					"id":   "call-1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      toolName,
						"arguments": string(argsJSON),
					},
				}},
			},
		}},
	}
	out, _ := json.Marshal(reply)
	return string(out)
}

func setupTestInterpreter(t *testing.T, modelResponse string) *testEnv {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Failed to decode chat payload: %v", err)
		}
		if payload["tools"] == nil {
			t.Error("Expected tools in chat payload")
		}
		w.Write([]byte(modelResponse))
	}))
	t.Cleanup(srv.Close)

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	us, err := database.NewUserStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create user store: %v", err)
	}
	cs, err := database.NewCredentialStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create credential store: %v", err)
	}
	ws, err := database.NewWorkflowStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create workflow store: %v", err)
	}

	user, err := us.CreateUser("alice@example.com", "hash")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	ai := &OpenRouterClient{
		baseURL:    srv.URL,
		apiKey:     "test-key",
		model:      "test-model",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}

	gk := workflow.NewGatekeeper(cs, logger)
	return &testEnv{
		it:     NewInterpreter(ai, gk, cs, ws, logger),
		creds:  cs,
		flows:  ws,
		userID: user.ID,
		db:     db,
	}
}

func createArgs() map[string]interface{} {
	return map[string]interface{}{
		"name":        "Form summary to Slack",
		"description": "Summarize form answers and post them",
		"trigger":     map[string]interface{}{"type": "manual"},
		"actions": []map[string]interface{}{
			{"type": "openai", "prompt": "Summarize this"},
			{"type": "slack", "channel": "#forms"},
		},
		"required_services": []string{"openai", "slack"},
	}
}

func TestInterpretCreatesWorkflow(t *testing.T) {
	env := setupTestInterpreter(t, modelReply(t, "Creating your workflow now.", toolCreateWorkflow, createArgs()))

	if _, err := env.creds.UpsertCredential(env.userID, "openai", "enc"); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}
	if _, err := env.creds.UpsertCredential(env.userID, "slack", "enc"); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	resp, err := env.it.Interpret(context.Background(), env.userID, []Message{
		{Role: "user", Content: "Summarize my form answers and post them to slack"},
	})
	if err != nil {
		t.Fatalf("Failed to interpret: %v", err)
	}

	if resp.Message != "Creating your workflow now." {
		t.Errorf("Expected model message passthrough, got %q", resp.Message)
	}
	if len(resp.FunctionResults) != 1 {
		t.Fatalf("Expected 1 function result, got %d", len(resp.FunctionResults))
	}
	if resp.FunctionResults[0].Type != "workflow_created" {
		t.Fatalf("Expected workflow_created, got %s", resp.FunctionResults[0].Type)
	}

	result := resp.FunctionResults[0].Data.(*CreateWorkflowResult)
	if result.Status != "created" {
		t.Fatalf("Expected created status, got %s (%s)", result.Status, result.Message)
	}

	stored, err := env.flows.GetWorkflow(env.userID, result.Workflow.ID)
	if err != nil {
		t.Fatalf("Failed to load stored workflow: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected workflow to be persisted")
	}
	if stored.Active {
		t.Error("Expected persisted workflow to start inactive")
	}

	var doc workflow.Document
	if err := json.Unmarshal([]byte(stored.Definition), &doc); err != nil {
		t.Fatalf("Stored definition is not a valid document: %v", err)
	}
	if len(doc.Nodes) != 3 {
		t.Errorf("Expected 3 nodes in compiled document, got %d", len(doc.Nodes))
	}
	if stored.Checksum != utils.HashString(stored.Definition) {
		t.Error("Expected checksum to match definition")
	}
}

func TestInterpretBlocksOnMissingCredentials(t *testing.T) {
	env := setupTestInterpreter(t, modelReply(t, "", toolCreateWorkflow, createArgs()))

	// Only openai stored; slack missing
	if _, err := env.creds.UpsertCredential(env.userID, "openai", "enc"); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	resp, err := env.it.Interpret(context.Background(), env.userID, []Message{
		{Role: "user", Content: "make the workflow"},
	})
	if err != nil {
		t.Fatalf("Failed to interpret: %v", err)
	}

	result := resp.FunctionResults[0].Data.(*CreateWorkflowResult)
	if result.Status != "missing_credentials" {
		t.Fatalf("Expected missing_credentials, got %s", result.Status)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "slack" {
		t.Errorf("Expected missing [slack], got %v", result.Missing)
	}

	flows, err := env.flows.ListWorkflows(env.userID)
	if err != nil {
		t.Fatalf("Failed to list workflows: %v", err)
	}
	if len(flows) != 0 {
		t.Error("Expected no workflow persisted when credentials are missing")
	}
}

func TestInterpretBlocksOnDeclaredService(t *testing.T) {
	// The model declares a gmail dependency that no action kind implies
	args := createArgs()
	args["actions"] = []map[string]interface{}{
		{"type": "http", "url": "https://gmail.googleapis.com/gmail/v1/users/me/messages/send", "method": "POST"},
	}
	args["required_services"] = []string{"gmail"}
	env := setupTestInterpreter(t, modelReply(t, "", toolCreateWorkflow, args))

	resp, err := env.it.Interpret(context.Background(), env.userID, []Message{
		{Role: "user", Content: "send the summary through the gmail api"},
	})
	if err != nil {
		t.Fatalf("Failed to interpret: %v", err)
	}

	result := resp.FunctionResults[0].Data.(*CreateWorkflowResult)
	if result.Status != "missing_credentials" {
		t.Fatalf("Expected missing_credentials, got %s", result.Status)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "gmail" {
		t.Errorf("Expected missing [gmail], got %v", result.Missing)
	}
}

func TestInterpretExplainPassthrough(t *testing.T) {
	env := setupTestInterpreter(t, modelReply(t, "Here is the plan.", toolExplainWorkflow, map[string]interface{}{
		"explanation": "The form triggers a summary that lands in Slack.",
		"next_steps":  []string{"Connect Slack", "Activate the workflow"},
	}))

	resp, err := env.it.Interpret(context.Background(), env.userID, []Message{
		{Role: "user", Content: "what will this do?"},
	})
	if err != nil {
		t.Fatalf("Failed to interpret: %v", err)
	}

	if resp.FunctionResults[0].Type != "explanation" {
		t.Fatalf("Expected explanation result, got %s", resp.FunctionResults[0].Type)
	}
}

func TestInterpretRequestCredentials(t *testing.T) {
	env := setupTestInterpreter(t, modelReply(t, "", toolRequestCredentials, map[string]interface{}{
		"service": "openai",
		"message": "I need your OpenAI key to continue.",
	}))

	resp, err := env.it.Interpret(context.Background(), env.userID, []Message{
		{Role: "user", Content: "use gpt"},
	})
	if err != nil {
		t.Fatalf("Failed to interpret: %v", err)
	}

	if resp.FunctionResults[0].Type != "credential_request" {
		t.Fatalf("Expected credential_request, got %s", resp.FunctionResults[0].Type)
	}
	data := resp.FunctionResults[0].Data.(map[string]interface{})
	if data["requirements"] == nil {
		t.Error("Expected requirements attached to credential request")
	}
}

func TestInterpretIgnoresUnknownTool(t *testing.T) {
	env := setupTestInterpreter(t, modelReply(t, "thinking", "summon_dragon", map[string]interface{}{}))

	resp, err := env.it.Interpret(context.Background(), env.userID, []Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Failed to interpret: %v", err)
	}
	if len(resp.FunctionResults) != 0 {
		t.Errorf("Expected unknown tool to be dropped, got %v", resp.FunctionResults)
	}
}

func TestMissingCredentials(t *testing.T) {
	env := setupTestInterpreter(t, "{}")

	if _, err := env.creds.UpsertCredential(env.userID, "slack", "enc"); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	missing, err := env.it.MissingCredentials(env.userID, "summarize typeform answers with gpt and post to slack")
	if err != nil {
		t.Fatalf("Failed to check missing credentials: %v", err)
	}

	// typeform and openai detected and missing; slack covered
	if len(missing) != 2 {
		t.Fatalf("Expected 2 missing services, got %d", len(missing))
	}
	if missing[0].Service != "typeform" || missing[1].Service != "openai" {
		t.Errorf("Unexpected missing services %v", missing)
	}
	if missing[0].Requirements == nil || missing[0].Requirements.Name == "" {
		t.Error("Expected requirements to be populated")
	}
}
