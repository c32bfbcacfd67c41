package workflow

import (
	"encoding/json"
	"testing"
)

func TestCompileLinearChain(t *testing.T) {
	spec := &Spec{
		Name:    "Summarize to Slack",
		Trigger: TriggerSpec{Kind: TriggerManual},
		Actions: []ActionSpec{
			{Kind: ActionOpenAI, Prompt: "Summarize: {{ $json }}"},
			{Kind: ActionSlack, Channel: "#ops"},
		},
	}
	creds := map[string]string{"openai": "cred-oai", "slack": "cred-slack"}

	doc, err := Compile(spec, creds)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	if doc.Active {
		t.Error("Expected compiled document to be inactive")
	}
	if !doc.Settings.SaveManualExecutions {
		t.Error("Expected saveManualExecutions to be set")
	}
	if len(doc.Nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(doc.Nodes))
	}

	// Trigger first, then actions in order, spaced along the lane
	expectedX := []int{240, 460, 680}
	for i, node := range doc.Nodes {
		if node.Position[0] != expectedX[i] {
			t.Errorf("Node %d: expected x %d, got %d", i, expectedX[i], node.Position[0])
		}
		if node.Position[1] != 300 {
			t.Errorf("Node %d: expected y 300, got %d", i, node.Position[1])
		}
		if node.ID == "" {
			t.Errorf("Node %d: expected generated ID", i)
		}
	}

	// N nodes produce N-1 connections forming one chain
	if len(doc.Connections) != 2 {
		t.Fatalf("Expected 2 connections, got %d", len(doc.Connections))
	}
	first := doc.Connections["Manual Trigger"]
	if len(first.Main) != 1 || len(first.Main[0]) != 1 || first.Main[0][0].Node != "OpenAI GPT" {
		t.Errorf("Expected trigger to connect to OpenAI GPT, got %+v", first)
	}
	second := doc.Connections["OpenAI GPT"]
	if second.Main[0][0].Node != "Slack" {
		t.Errorf("Expected OpenAI GPT to connect to Slack, got %+v", second)
	}
	if second.Main[0][0].Type != "main" || second.Main[0][0].Index != 0 {
		t.Errorf("Expected main/0 link, got %+v", second.Main[0][0])
	}
}

func TestCompileSkipsUnknownActions(t *testing.T) {
	spec := &Spec{
		Name:    "Partial",
		Trigger: TriggerSpec{Kind: TriggerManual},
		Actions: []ActionSpec{
			{Kind: ActionOpenAI},
			{Kind: ActionKind("teleport")},
			{Kind: ActionSlack},
		},
	}

	doc, err := Compile(spec, map[string]string{})
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	// Unknown kind drops out; the chain closes around it
	if len(doc.Nodes) != 3 {
		t.Fatalf("Expected 3 nodes (unknown skipped), got %d", len(doc.Nodes))
	}
	if doc.Nodes[2].Name != "Slack" {
		t.Errorf("Expected Slack after skip, got %s", doc.Nodes[2].Name)
	}
	if doc.Nodes[2].Position[0] != 680 {
		t.Errorf("Expected Slack at x 680, got %d", doc.Nodes[2].Position[0])
	}
	if doc.Connections["OpenAI GPT"].Main[0][0].Node != "Slack" {
		t.Error("Expected chain to connect around the skipped action")
	}
}

func TestCompileUnknownTriggerFallsBackToManual(t *testing.T) {
	spec := &Spec{
		Name:    "Odd trigger",
		Trigger: TriggerSpec{Kind: TriggerKind("carrier-pigeon")},
	}

	doc, err := Compile(spec, nil)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if len(doc.Nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(doc.Nodes))
	}
	if doc.Nodes[0].Type != nodeTypeManualTrigger {
		t.Errorf("Expected manual trigger fallback, got %s", doc.Nodes[0].Type)
	}
	if len(doc.Connections) != 0 {
		t.Errorf("Expected no connections for single node, got %d", len(doc.Connections))
	}
}

func TestCompileTypeformTriggerCredentials(t *testing.T) {
	spec := &Spec{
		Name:    "Form intake",
		Trigger: TriggerSpec{Kind: TriggerTypeform},
		Actions: []ActionSpec{{Kind: ActionGoogleSheets}},
	}
	creds := map[string]string{"typeform": "cred-tf", "google-sheets": "cred-gs"}

	doc, err := Compile(spec, creds)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	trigger := doc.Nodes[0]
	ref, ok := trigger.Credentials["typeformApi"]
	if !ok {
		t.Fatal("Expected typeformApi credential ref on trigger")
	}
	if ref.ID != "cred-tf" || ref.Name != "Typeform API" {
		t.Errorf("Unexpected credential ref %+v", ref)
	}

	sheets := doc.Nodes[1]
	if sheets.Credentials["googleSheetsOAuth2Api"].ID != "cred-gs" {
		t.Errorf("Expected sheets credential ref, got %+v", sheets.Credentials)
	}
	if sheets.Parameters["operation"] != "append" {
		t.Errorf("Expected default append operation, got %v", sheets.Parameters["operation"])
	}
}

func TestBuilderDefaults(t *testing.T) {
	doc, err := Compile(&Spec{
		Name:    "Defaults",
		Trigger: TriggerSpec{Kind: TriggerWebhook},
		Actions: []ActionSpec{
			{Kind: ActionOpenAI},
			{Kind: ActionSlack},
			{Kind: ActionGmail},
			{Kind: ActionHTTP},
			{Kind: ActionFunction},
		},
	}, map[string]string{})
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	webhook := doc.Nodes[0]
	if webhook.Parameters["path"] != "/webhook" {
		t.Errorf("Expected default webhook path, got %v", webhook.Parameters["path"])
	}
	if webhook.Parameters["httpMethod"] != "POST" {
		t.Errorf("Expected POST webhook, got %v", webhook.Parameters["httpMethod"])
	}

	openai := doc.Nodes[1]
	if openai.Parameters["model"] != "gpt-3.5-turbo" {
		t.Errorf("Expected default model, got %v", openai.Parameters["model"])
	}
	if openai.Parameters["maxTokens"] != 500 {
		t.Errorf("Expected default maxTokens, got %v", openai.Parameters["maxTokens"])
	}

	slack := doc.Nodes[2]
	if slack.Parameters["channel"] != "#general" {
		t.Errorf("Expected default channel, got %v", slack.Parameters["channel"])
	}

	gmail := doc.Nodes[3]
	if gmail.Parameters["subject"] != "Automated Email" {
		t.Errorf("Expected default subject, got %v", gmail.Parameters["subject"])
	}

	httpNode := doc.Nodes[4]
	if httpNode.Parameters["method"] != "GET" {
		t.Errorf("Expected default GET method, got %v", httpNode.Parameters["method"])
	}
	if httpNode.TypeVersion != 4 {
		t.Errorf("Expected http typeVersion 4, got %d", httpNode.TypeVersion)
	}

	fn := doc.Nodes[5]
	if fn.Parameters["functionCode"] == "" {
		t.Error("Expected default function code")
	}
}

func TestDocumentJSONShape(t *testing.T) {
	doc, err := Compile(&Spec{
		Name:    "Shape check",
		Trigger: TriggerSpec{Kind: TriggerManual},
		Actions: []ActionSpec{{Kind: ActionSlack}},
	}, map[string]string{"slack": "c1"})
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	raw, err := doc.JSON()
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatalf("Failed to parse document JSON: %v", err)
	}

	for _, key := range []string{"name", "active", "nodes", "connections", "settings", "staticData", "tags"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("Expected top-level key %q", key)
		}
	}

	nodes := parsed["nodes"].([]interface{})
	node := nodes[0].(map[string]interface{})
	if _, ok := node["typeVersion"]; !ok {
		t.Error("Expected camelCase typeVersion on nodes")
	}
	pos, ok := node["position"].([]interface{})
	if !ok || len(pos) != 2 {
		t.Errorf("Expected position as 2-element array, got %v", node["position"])
	}

	conns := parsed["connections"].(map[string]interface{})
	trigger := conns["Manual Trigger"].(map[string]interface{})
	if _, ok := trigger["main"]; !ok {
		t.Error("Expected connections keyed by node name with main output")
	}
}

func TestDocumentChecksum(t *testing.T) {
	doc := NewDocument("A")
	sum1, err := doc.Checksum()
	if err != nil {
		t.Fatalf("Failed to checksum: %v", err)
	}
	sum2, err := doc.Checksum()
	if err != nil {
		t.Fatalf("Failed to checksum: %v", err)
	}
	if sum1 != sum2 {
		t.Error("Expected stable checksum for unchanged document")
	}

	doc.Name = "B"
	sum3, _ := doc.Checksum()
	if sum3 == sum1 {
		t.Error("Expected checksum to change with content")
	}
}
