package workflow

import (
	"fmt"
	"strings"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/registry"
)

// TriggerKind identifies what starts a workflow
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerTypeform TriggerKind = "typeform"
)

// ActionKind identifies one step in a workflow
type ActionKind string

const (
	ActionOpenAI       ActionKind = "openai"
	ActionSlack        ActionKind = "slack"
	ActionGmail        ActionKind = "gmail"
	ActionGoogleSheets ActionKind = "google-sheets"
	ActionHTTP         ActionKind = "http"
	ActionFunction     ActionKind = "function"
	ActionSet          ActionKind = "set"
)

// TriggerSpec describes the workflow trigger in service-neutral terms
type TriggerSpec struct {
	Kind TriggerKind `json:"type"`
	Path string      `json:"path,omitempty"` // webhook path
}

// ActionSpec describes one workflow step. Only the fields relevant to
// the action's kind are consulted; the rest stay zero.
type ActionSpec struct {
	Kind ActionKind `json:"type"`

	Prompt string `json:"prompt,omitempty"` // openai

	Channel string `json:"channel,omitempty"` // slack
	Message string `json:"message,omitempty"` // slack, gmail

	To      string `json:"to,omitempty"`      // gmail
	Subject string `json:"subject,omitempty"` // gmail

	Operation     string `json:"operation,omitempty"`     // google-sheets
	SpreadsheetID string `json:"spreadsheetId,omitempty"` // google-sheets
	Range         string `json:"range,omitempty"`         // google-sheets

	URL     string                 `json:"url,omitempty"`     // http
	Method  string                 `json:"method,omitempty"`  // http
	Body    map[string]interface{} `json:"body,omitempty"`    // http
	Headers map[string]string      `json:"headers,omitempty"` // http

	Code string `json:"code,omitempty"` // function

	Values map[string]string `json:"values,omitempty"` // set
}

// Spec is the abstract, engine-independent description of a workflow
// as produced by the interpreter. Services may declare dependencies the
// node kinds alone do not reveal; the gatekeeper checks the union of
// declared and derived services.
type Spec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Trigger     TriggerSpec  `json:"trigger"`
	Actions     []ActionSpec `json:"actions"`
	Services    []string     `json:"required_services,omitempty"`
}

// ValidationError reports a spec that cannot be compiled
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow spec: %s: %s", e.Field, e.Reason)
}

// Validate checks the spec for problems the compiler would otherwise
// silently absorb. Compile does not call this; callers decide.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if s.Trigger.Kind == "" {
		return &ValidationError{Field: "trigger", Reason: "kind must be set"}
	}
	if _, ok := triggerBuilders[s.Trigger.Kind]; !ok {
		return &ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown kind %q", s.Trigger.Kind)}
	}
	for i, action := range s.Actions {
		if _, ok := actionBuilders[action.Kind]; !ok {
			return &ValidationError{Field: fmt.Sprintf("actions[%d]", i), Reason: fmt.Sprintf("unknown kind %q", action.Kind)}
		}
	}
	for _, svc := range s.RequiredServices() {
		if !registry.Has(svc) {
			return &ValidationError{Field: "services", Reason: fmt.Sprintf("unknown service %q", svc)}
		}
	}
	return nil
}

// RequiredServices lists the registry services this spec needs
// credentials for: everything declared on the spec plus everything
// derived from the trigger and action kinds, in first-use order
// without duplicates.
func (s *Spec) RequiredServices() []string {
	seen := make(map[string]bool)
	var services []string

	add := func(svc string) {
		if svc != "" && !seen[svc] {
			seen[svc] = true
			services = append(services, svc)
		}
	}

	for _, svc := range s.Services {
		add(svc)
	}
	if s.Trigger.Kind == TriggerTypeform {
		add("typeform")
	}
	for _, action := range s.Actions {
		switch action.Kind {
		case ActionOpenAI:
			add("openai")
		case ActionSlack:
			add("slack")
		case ActionGmail:
			add("gmail")
		case ActionGoogleSheets:
			add("google-sheets")
		}
	}

	return services
}

// DetectServices scans free-form user input for mentions of supported
// services. Used to prompt for credentials before interpretation runs.
func DetectServices(input string) []string {
	lower := strings.ToLower(input)
	var services []string

	if strings.Contains(lower, "typeform") {
		services = append(services, "typeform")
	}
	if strings.Contains(lower, "openai") || strings.Contains(lower, "gpt") || strings.Contains(lower, "chatgpt") {
		services = append(services, "openai")
	}
	if strings.Contains(lower, "slack") {
		services = append(services, "slack")
	}
	if strings.Contains(lower, "gmail") || strings.Contains(lower, "email") {
		services = append(services, "gmail")
	}
	if strings.Contains(lower, "google sheets") || strings.Contains(lower, "spreadsheet") {
		services = append(services, "google-sheets")
	}

	return services
}
