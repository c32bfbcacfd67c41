package workflow

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// Node type identifiers used by the execution engine
const (
	nodeTypeManualTrigger   = "n8n-nodes-base.manualTrigger"
	nodeTypeWebhook         = "n8n-nodes-base.webhook"
	nodeTypeTypeformTrigger = "n8n-nodes-base.typeformTrigger"
	nodeTypeOpenAI          = "n8n-nodes-base.openAi"
	nodeTypeSlack           = "n8n-nodes-base.slack"
	nodeTypeGmail           = "n8n-nodes-base.gmail"
	nodeTypeGoogleSheets    = "n8n-nodes-base.googleSheets"
	nodeTypeHTTPRequest     = "n8n-nodes-base.httpRequest"
	nodeTypeFunction        = "n8n-nodes-base.function"
	nodeTypeSet             = "n8n-nodes-base.set"
)

const defaultFunctionCode = `// Process the input data
const input = $input.all();
return input.map(item => ({
  ...item.json,
  processed: true,
  timestamp: new Date().toISOString()
}));`

type triggerBuilder func(trigger TriggerSpec, creds map[string]string) Node

type actionBuilder func(action ActionSpec, creds map[string]string) Node

// Builder registries keyed by kind. Compile dispatches through these;
// unknown action kinds are simply absent and get skipped.
var (
	triggerBuilders = map[TriggerKind]triggerBuilder{
		TriggerManual:   buildManualTrigger,
		TriggerWebhook:  buildWebhookTrigger,
		TriggerTypeform: buildTypeformTrigger,
	}

	actionBuilders = map[ActionKind]actionBuilder{
		ActionOpenAI:       buildOpenAINode,
		ActionSlack:        buildSlackNode,
		ActionGmail:        buildGmailNode,
		ActionGoogleSheets: buildGoogleSheetsNode,
		ActionHTTP:         buildHTTPNode,
		ActionFunction:     buildFunctionNode,
		ActionSet:          buildSetNode,
	}
)

func buildManualTrigger(_ TriggerSpec, _ map[string]string) Node {
	return Node{
		ID:          uuid.NewString(),
		Name:        "Manual Trigger",
		Type:        nodeTypeManualTrigger,
		TypeVersion: 1,
		Parameters:  map[string]interface{}{},
	}
}

func buildWebhookTrigger(trigger TriggerSpec, _ map[string]string) Node {
	path := trigger.Path
	if path == "" {
		path = "/webhook"
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "Webhook",
		Type:        nodeTypeWebhook,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"httpMethod":   "POST",
			"path":         path,
			"responseMode": "responseNode",
		},
	}
}

func buildTypeformTrigger(_ TriggerSpec, creds map[string]string) Node {
	return Node{
		ID:          uuid.NewString(),
		Name:        "Typeform Trigger",
		Type:        nodeTypeTypeformTrigger,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			// Placeholder until the user picks a form
			"formId": "{{TYPEFORM_FORM_ID}}",
		},
		Credentials: map[string]CredentialRef{
			"typeformApi": {ID: creds["typeform"], Name: "Typeform API"},
		},
	}
}

func buildOpenAINode(action ActionSpec, creds map[string]string) Node {
	prompt := action.Prompt
	if prompt == "" {
		prompt = "Summarize the following data:\n\n{{ $json }}"
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "OpenAI GPT",
		Type:        nodeTypeOpenAI,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"operation":   "text",
			"model":       "gpt-3.5-turbo",
			"prompt":      prompt,
			"maxTokens":   500,
			"temperature": 0.7,
		},
		Credentials: map[string]CredentialRef{
			"openAiApi": {ID: creds["openai"], Name: "OpenAI API"},
		},
	}
}

func buildSlackNode(action ActionSpec, creds map[string]string) Node {
	channel := action.Channel
	if channel == "" {
		channel = "#general"
	}
	message := action.Message
	if message == "" {
		message = "{{ $json.choices[0].message.content }}"
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "Slack",
		Type:        nodeTypeSlack,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"operation": "postMessage",
			"channel":   channel,
			"text":      message,
		},
		Credentials: map[string]CredentialRef{
			"slackApi": {ID: creds["slack"], Name: "Slack API"},
		},
	}
}

func buildGmailNode(action ActionSpec, creds map[string]string) Node {
	to := action.To
	if to == "" {
		to = "{{$json.email}}"
	}
	subject := action.Subject
	if subject == "" {
		subject = "Automated Email"
	}
	message := action.Message
	if message == "" {
		message = "{{ $json.content }}"
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "Gmail",
		Type:        nodeTypeGmail,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"operation": "send",
			"to":        to,
			"subject":   subject,
			"message":   message,
		},
		Credentials: map[string]CredentialRef{
			"gmailOAuth2": {ID: creds["gmail"], Name: "Gmail OAuth2"},
		},
	}
}

func buildGoogleSheetsNode(action ActionSpec, creds map[string]string) Node {
	operation := action.Operation
	if operation == "" {
		operation = "append"
	}
	spreadsheetID := action.SpreadsheetID
	if spreadsheetID == "" {
		spreadsheetID = "{{SPREADSHEET_ID}}"
	}
	rng := action.Range
	if rng == "" {
		rng = "A:Z"
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "Google Sheets",
		Type:        nodeTypeGoogleSheets,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"operation":  operation,
			"documentId": spreadsheetID,
			"sheetName":  "Sheet1",
			"range":      rng,
			"options":    map[string]interface{}{},
		},
		Credentials: map[string]CredentialRef{
			"googleSheetsOAuth2Api": {ID: creds["google-sheets"], Name: "Google Sheets OAuth2"},
		},
	}
}

func buildHTTPNode(action ActionSpec, _ map[string]string) Node {
	url := action.URL
	if url == "" {
		url = "https://api.example.com/endpoint"
	}
	method := action.Method
	if method == "" {
		method = "GET"
	}
	params := map[string]interface{}{
		"url":     url,
		"method":  method,
		"headers": action.Headers,
		"options": map[string]interface{}{},
	}
	if action.Body != nil {
		if body, err := json.Marshal(action.Body); err == nil {
			params["body"] = string(body)
		}
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "HTTP Request",
		Type:        nodeTypeHTTPRequest,
		TypeVersion: 4,
		Parameters:  params,
	}
}

func buildFunctionNode(action ActionSpec, _ map[string]string) Node {
	code := action.Code
	if code == "" {
		code = defaultFunctionCode
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "Function",
		Type:        nodeTypeFunction,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"functionCode": code,
		},
	}
}

func buildSetNode(action ActionSpec, _ map[string]string) Node {
	// Sorted so the same spec always compiles to the same document
	names := make([]string, 0, len(action.Values))
	for name := range action.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		values = append(values, map[string]interface{}{
			"name":  name,
			"value": action.Values[name],
		})
	}
	return Node{
		ID:          uuid.NewString(),
		Name:        "Set",
		Type:        nodeTypeSet,
		TypeVersion: 1,
		Parameters: map[string]interface{}{
			"values":  map[string]interface{}{"string": values},
			"options": map[string]interface{}{},
		},
	}
}
