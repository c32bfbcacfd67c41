package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/engine"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/interpreter"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/oauth"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/vault"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
	_ "modernc.org/sqlite"
)

type testAPI struct {
	server *APIServer
	http   *httptest.Server
}

// newTestAPI wires an API server against in-memory stores. engineURL may
// be empty when a test never reaches the engine.
func newTestAPI(t *testing.T, engineURL string) *testAPI {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	us, err := database.NewUserStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create UserStore: %v", err)
	}
	cs, err := database.NewCredentialStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create CredentialStore: %v", err)
	}
	wfs, err := database.NewWorkflowStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create WorkflowStore: %v", err)
	}
	dbm := &database.SQLiteManager{Users: us, Credentials: cs, Workflows: wfs}

	cv, err := vault.NewCredentialVault(cm, cs, "test-master-secret", logger)
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	if engineURL != "" {
		t.Setenv("N8N_API_URL", engineURL)
		t.Setenv("N8N_API_KEY", "test-engine-key")
	}
	deployer := engine.NewDeployer(engine.NewMCPAdapter(cm, logger), engine.NewClient(cm, logger), logger)

	gk := workflow.NewGatekeeper(cs, logger)
	ai := interpreter.NewOpenRouterClient(cm, logger)
	interp := interpreter.NewInterpreter(ai, gk, cs, wfs, logger)

	ex := oauth.NewExchange(cm, logger)
	cv.SetRefresher(ex)

	s := NewAPIServer(cm, logger, dbm, cv, ex, deployer, interp, "test-jwt-secret")

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	s.port = ts.URL[strings.LastIndex(ts.URL, ":")+1:]

	return &testAPI{server: s, http: ts}
}

// signup registers a user through the API and returns the auth response
func (ta *testAPI) signup(t *testing.T, email string) *authResponse {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"email": email, "password": "hunter2hunter2"})
	resp, err := http.Post(ta.http.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Signup request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		t.Fatalf("Failed to decode signup response: %v", err)
	}
	return &auth
}

// do issues an authenticated request
func (ta *testAPI) do(t *testing.T, token, method, path string, payload interface{}) *http.Response {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ta.http.URL+path, body)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestSignupAndLogin(t *testing.T) {
	ta := newTestAPI(t, "")

	auth := ta.signup(t, "alice@example.com")
	if auth.Token == "" || auth.UserID == "" {
		t.Fatal("Expected token and user ID in signup response")
	}
	if auth.Email != "alice@example.com" {
		t.Errorf("Expected email alice@example.com, got %s", auth.Email)
	}

	// Duplicate signup is rejected
	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "hunter2hunter2"})
	resp, err := http.Post(ta.http.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Signup request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate signup, got %d", resp.StatusCode)
	}

	// Login with the right password succeeds
	resp, err = http.Post(ta.http.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for login, got %d", resp.StatusCode)
	}

	var loggedIn authResponse
	if err := json.NewDecoder(resp.Body).Decode(&loggedIn); err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	if loggedIn.UserID != auth.UserID {
		t.Errorf("Expected user ID %s, got %s", auth.UserID, loggedIn.UserID)
	}

	// Wrong password is rejected
	wrong, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "not-the-password"})
	resp, err = http.Post(ta.http.URL+"/api/auth/login", "application/json", bytes.NewReader(wrong))
	if err != nil {
		t.Fatalf("Login request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for wrong password, got %d", resp.StatusCode)
	}
}

func TestSignupRejectsWeakInput(t *testing.T) {
	ta := newTestAPI(t, "")

	cases := []map[string]string{
		{"email": "not-an-email", "password": "hunter2hunter2"},
		{"email": "bob@example.com", "password": "short"},
	}
	for _, c := range cases {
		body, _ := json.Marshal(c)
		resp, err := http.Post(ta.http.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("Signup request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %v, got %d", c, resp.StatusCode)
		}
	}
}

func TestCredentialRoutesRequireAuth(t *testing.T) {
	ta := newTestAPI(t, "")

	resp, err := http.Get(ta.http.URL + "/api/credentials")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", resp.StatusCode)
	}
}

func TestStoreListDeleteCredential(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "carol@example.com")

	// Validation probe will fail to reach the real service, the
	// credential is stored regardless
	resp := ta.do(t, auth.Token, http.MethodPost, "/api/credentials", map[string]interface{}{
		"service": "openai",
		"data":    map[string]string{"api_key": "sk-test"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}

	var stored map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stored["stored"] != true {
		t.Error("Expected stored=true")
	}

	resp = ta.do(t, auth.Token, http.MethodGet, "/api/credentials", nil)
	defer resp.Body.Close()
	var listed struct {
		Credentials []vault.CredentialInfo `json:"credentials"`
		Total       int                    `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if listed.Total != 1 || listed.Credentials[0].Service != "openai" {
		t.Fatalf("Expected one openai credential, got %+v", listed)
	}

	resp = ta.do(t, auth.Token, http.MethodDelete, "/api/credentials/openai", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for delete, got %d", resp.StatusCode)
	}

	resp = ta.do(t, auth.Token, http.MethodDelete, "/api/credentials/openai", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for repeated delete, got %d", resp.StatusCode)
	}
}

func TestStoreCredentialUnknownService(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "dave@example.com")

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/credentials", map[string]interface{}{
		"service": "carrier-pigeon",
		"data":    map[string]string{"api_key": "coo"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown service, got %d", resp.StatusCode)
	}
}

func TestServiceRequirements(t *testing.T) {
	ta := newTestAPI(t, "")

	resp, err := http.Get(ta.http.URL + "/api/services/slack/requirements")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var req map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&req); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if req["service"] != "slack" {
		t.Errorf("Expected service slack, got %v", req["service"])
	}

	resp, err = http.Get(ta.http.URL + "/api/services/carrier-pigeon/requirements")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown service, got %d", resp.StatusCode)
	}
}

func specPayload(name string) map[string]interface{} {
	return map[string]interface{}{
		"name": name,
		"spec": map[string]interface{}{
			"name":    name,
			"trigger": map[string]interface{}{"type": "webhook", "path": "incoming"},
			"actions": []map[string]interface{}{
				{"type": "openai", "prompt": "Summarize: {{ $json.body }}"},
				{"type": "slack", "channel": "#general"},
			},
		},
	}
}

func TestGetServicesReportsConnected(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "quinn@example.com")
	storeTestCredentials(t, ta, auth.Token)

	resp := ta.do(t, auth.Token, http.MethodGet, "/api/services", nil)
	defer resp.Body.Close()

	var result struct {
		Services []struct {
			ID        string `json:"ID"`
			Connected *bool  `json:"connected"`
		} `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	connected := make(map[string]bool)
	for _, svc := range result.Services {
		if svc.Connected == nil {
			t.Fatalf("Expected connected flag for %s on authenticated request", svc.ID)
		}
		connected[svc.ID] = *svc.Connected
	}
	if !connected["openai"] || !connected["slack"] {
		t.Errorf("Expected openai and slack connected, got %v", connected)
	}
	if connected["gmail"] {
		t.Error("Expected gmail to be unconnected")
	}

	// Anonymous requests get the bare catalog
	anon, err := http.Get(ta.http.URL + "/api/services")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer anon.Body.Close()
	// Decoding into the populated struct would keep the Connected pointers
	// from the authenticated response; start from empty elements
	result.Services = nil
	if err := json.NewDecoder(anon.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, svc := range result.Services {
		if svc.Connected != nil {
			t.Errorf("Expected no connected flag for %s without a token", svc.ID)
		}
	}
}

func storeTestCredentials(t *testing.T, ta *testAPI, token string) {
	t.Helper()
	for service, data := range map[string]map[string]string{
		"openai": {"api_key": "sk-test"},
		"slack":  {"access_token": "xoxb-test"},
	} {
		resp := ta.do(t, token, http.MethodPost, "/api/credentials", map[string]interface{}{
			"service": service,
			"data":    data,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("Failed to store %s credential: status %d", service, resp.StatusCode)
		}
	}
}

func TestCreateWorkflowBlockedOnMissingCredentials(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "erin@example.com")

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/workflows", specPayload("Summary bot"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", resp.StatusCode)
	}

	var blocked struct {
		Error   string   `json:"error"`
		Missing []string `json:"missing"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&blocked); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if blocked.Error != "missing_credentials" {
		t.Errorf("Expected error missing_credentials, got %s", blocked.Error)
	}
	if len(blocked.Missing) != 2 {
		t.Errorf("Expected 2 missing services, got %v", blocked.Missing)
	}
}

func TestWorkflowCRUD(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "frank@example.com")
	storeTestCredentials(t, ta, auth.Token)

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/workflows", specPayload("Summary bot"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	var created database.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()
	if created.ID == "" || created.Checksum == "" {
		t.Fatal("Expected workflow ID and checksum")
	}
	if created.Active {
		t.Error("New workflow must start inactive")
	}
	if created.Checksum != utils.HashString(created.Definition) {
		t.Error("Checksum does not match definition")
	}

	// The compiled definition references stored credentials
	doc, err := workflow.ParseDocument(created.Definition)
	if err != nil {
		t.Fatalf("Failed to parse stored definition: %v", err)
	}
	if len(doc.Nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(doc.Nodes))
	}

	resp = ta.do(t, auth.Token, http.MethodGet, "/api/workflows", nil)
	var listed struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	resp.Body.Close()
	if listed.Total != 1 {
		t.Errorf("Expected 1 workflow, got %d", listed.Total)
	}

	resp = ta.do(t, auth.Token, http.MethodGet, "/api/workflows/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ta.do(t, auth.Token, http.MethodDelete, "/api/workflows/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ta.do(t, auth.Token, http.MethodGet, "/api/workflows/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", resp.StatusCode)
	}
}

func TestWorkflowOwnerScoping(t *testing.T) {
	ta := newTestAPI(t, "")
	owner := ta.signup(t, "grace@example.com")
	storeTestCredentials(t, ta, owner.Token)
	other := ta.signup(t, "heidi@example.com")

	resp := ta.do(t, owner.Token, http.MethodPost, "/api/workflows", specPayload("Private flow"))
	var created database.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	resp = ta.do(t, other.Token, http.MethodGet, "/api/workflows/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user's workflow, got %d", resp.StatusCode)
	}
}

func TestActivateWorkflowDeploysToEngine(t *testing.T) {
	var deployed, activated bool
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workflows":
			deployed = true
			fmt.Fprint(w, `{"id":"eng-42","name":"Summary bot","active":false}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workflows/eng-42/activate":
			activated = true
			fmt.Fprint(w, `{"id":"eng-42","active":true}`)
		default:
			t.Errorf("Unexpected engine request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer engineSrv.Close()

	ta := newTestAPI(t, engineSrv.URL)
	auth := ta.signup(t, "ivan@example.com")
	storeTestCredentials(t, ta, auth.Token)

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/workflows", specPayload("Summary bot"))
	var created database.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	resp = ta.do(t, auth.Token, http.MethodPost, "/api/workflows/"+created.ID+"/activate", activateRequest{Active: true})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["engine_id"] != "eng-42" || result["active"] != true {
		t.Errorf("Unexpected activation result: %+v", result)
	}
	if !deployed || !activated {
		t.Error("Expected both deploy and activate calls to reach the engine")
	}

	// The engine ID is persisted
	wf, err := ta.server.dbManager.Workflows.GetWorkflow(auth.UserID, created.ID)
	if err != nil || wf == nil {
		t.Fatalf("Failed to reload workflow: %v", err)
	}
	if wf.EngineID != "eng-42" || !wf.Active {
		t.Errorf("Expected engine_id eng-42 and active=true, got %+v", wf)
	}
}

func TestRunWorkflowRequiresDeployment(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "judy@example.com")
	storeTestCredentials(t, ta, auth.Token)

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/workflows", specPayload("Summary bot"))
	var created database.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	resp = ta.do(t, auth.Token, http.MethodPost, "/api/workflows/"+created.ID+"/run", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409 for undeployed workflow, got %d", resp.StatusCode)
	}
}

func TestOAuthURLRequiresOAuthService(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "mallory@example.com")

	t.Setenv("SLACK_CLIENT_ID", "slack-client")
	t.Setenv("SLACK_CLIENT_SECRET", "slack-secret")

	resp := ta.do(t, auth.Token, http.MethodGet, "/api/oauth/url?service=slack", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(result["url"], "slack.com") {
		t.Errorf("Expected slack.com authorization URL, got %s", result["url"])
	}
	if !strings.Contains(result["url"], "state=") {
		t.Error("Expected state parameter in authorization URL")
	}

	// API-key services have no authorization URL
	resp = ta.do(t, auth.Token, http.MethodGet, "/api/oauth/url?service=openai", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-OAuth service, got %d", resp.StatusCode)
	}
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "oscar@example.com")

	t.Setenv("SLACK_CLIENT_ID", "slack-client")
	t.Setenv("SLACK_CLIENT_SECRET", "slack-secret")

	get := func(query string) int {
		resp, err := http.Get(ta.http.URL + "/api/oauth/callback?" + query)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// States the server never issued fail, even ones crafted around a
	// real user's ID
	for _, state := range []string{"malformed", auth.UserID + ":1", auth.UserID} {
		if code := get("service=slack&code=abc&state=" + url.QueryEscape(state)); code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for state %q, got %d", state, code)
		}
	}

	// A state issued for one service cannot complete another service's
	// callback
	authURL, err := ta.server.exchange.BuildAuthorizationURL("slack", auth.UserID, "http://localhost/cb")
	if err != nil {
		t.Fatalf("Failed to build authorization URL: %v", err)
	}
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")
	if code := get("service=gmail&code=abc&state=" + url.QueryEscape(state)); code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for cross-service state, got %d", code)
	}

	// The mismatch above consumed the state, so a replay fails too
	if code := get("service=slack&code=abc&state=" + url.QueryEscape(state)); code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for replayed state, got %d", code)
	}
}

func TestEngineEventResolvesWorkflow(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "rae@example.com")
	storeTestCredentials(t, ta, auth.Token)

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/workflows", specPayload("Summary bot"))
	var created database.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	if err := ta.server.dbManager.Workflows.SetEngineID(auth.UserID, created.ID, "eng-77"); err != nil {
		t.Fatalf("Failed to set engine ID: %v", err)
	}

	// The engine posts events under its own workflow ID
	resp = ta.do(t, "", http.MethodPost, "/api/engine/events", map[string]string{
		"workflowId": "eng-77", "executionId": "exec-1", "status": "success",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204 for known engine workflow, got %d", resp.StatusCode)
	}

	resp = ta.do(t, "", http.MethodPost, "/api/engine/events", map[string]string{
		"workflowId": "eng-unknown", "executionId": "exec-1", "status": "success",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown engine workflow, got %d", resp.StatusCode)
	}
}

func TestChatValidatesBody(t *testing.T) {
	ta := newTestAPI(t, "")
	auth := ta.signup(t, "nina@example.com")

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/chat", map[string]interface{}{"messages": []string{}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty messages, got %d", resp.StatusCode)
	}

	resp = ta.do(t, "", http.MethodPost, "/api/chat", chatRequest{Messages: []interpreter.Message{{Role: "user", Content: "hi"}}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", resp.StatusCode)
	}
}

func TestChatSurfacesMissingCredentials(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Sure, connect Slack first."}}]}`))
	}))
	t.Cleanup(model.Close)
	t.Setenv("OPENROUTER_BASE_URL", model.URL)
	t.Setenv("OPENROUTER_API_KEY", "test-key")

	ta := newTestAPI(t, "")
	auth := ta.signup(t, "pat@example.com")

	resp := ta.do(t, auth.Token, http.MethodPost, "/api/chat", chatRequest{Messages: []interpreter.Message{
		{Role: "user", Content: "post the answers to slack"},
	}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result struct {
		Message         string `json:"message"`
		FunctionResults []struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		} `json:"functionResults"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	var hints []interpreter.MissingCredential
	for _, fr := range result.FunctionResults {
		if fr.Type != "missing_credentials" {
			continue
		}
		if err := json.Unmarshal(fr.Data, &hints); err != nil {
			t.Fatalf("Failed to decode missing credentials: %v", err)
		}
	}
	if len(hints) != 1 || hints[0].Service != "slack" {
		t.Fatalf("Expected missing slack credential hint, got %v", hints)
	}
	if hints[0].Requirements == nil {
		t.Error("Expected onboarding requirements attached to hint")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ta := newTestAPI(t, "")

	resp, err := http.Get(ta.http.URL + "/api/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %s", health.Status)
	}
}
