package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/registry"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
)

// FunctionResult is the outcome of one model tool call
type FunctionResult struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Response is what one interpretation round returns to the caller
type Response struct {
	Message         string           `json:"message"`
	FunctionResults []FunctionResult `json:"functionResults"`
}

// CreateWorkflowResult reports what happened to a create_workflow call
type CreateWorkflowResult struct {
	Status   string             `json:"status"`
	Missing  []string           `json:"missing,omitempty"`
	Workflow *database.Workflow `json:"workflow,omitempty"`
	Message  string             `json:"message"`
}

// MissingCredential pairs a detected service with its onboarding info
type MissingCredential struct {
	Service      string                           `json:"service"`
	Requirements *registry.CredentialRequirements `json:"requirements"`
}

// createWorkflowArgs is the argument shape of the create_workflow tool
type createWorkflowArgs struct {
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	Trigger          workflow.TriggerSpec  `json:"trigger"`
	Actions          []workflow.ActionSpec `json:"actions"`
	RequiredServices []string              `json:"required_services"`
}

// Interpreter turns chat conversations into stored workflows. The
// model proposes tool calls; the interpreter validates them against
// the user's credentials and compiles the result.
type Interpreter struct {
	ai         *OpenRouterClient
	gatekeeper *workflow.Gatekeeper
	creds      *database.CredentialStore
	workflows  *database.WorkflowStore
	logger     *utils.LogsManager
}

// NewInterpreter wires the interpreter to its collaborators
func NewInterpreter(ai *OpenRouterClient, gk *workflow.Gatekeeper, creds *database.CredentialStore, workflows *database.WorkflowStore, logger *utils.LogsManager) *Interpreter {
	return &Interpreter{
		ai:         ai,
		gatekeeper: gk,
		creds:      creds,
		workflows:  workflows,
		logger:     logger,
	}
}

// Interpret runs one conversation round: model call, then tool-call
// processing. Tool names the interpreter does not know are ignored.
func (it *Interpreter) Interpret(ctx context.Context, userID string, messages []Message) (*Response, error) {
	aiResp, err := it.ai.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	choice := aiResp.Choices[0]
	response := &Response{
		Message:         choice.Message.Content,
		FunctionResults: []FunctionResult{},
	}

	for _, call := range choice.Message.ToolCalls {
		result, err := it.processToolCall(userID, call)
		if err != nil {
			it.logger.Warn(fmt.Sprintf("Tool call %s failed: %v", call.Function.Name, err), "interpreter")
			response.FunctionResults = append(response.FunctionResults, FunctionResult{
				Type: "error",
				Data: map[string]string{"message": fmt.Sprintf("Failed to process %s: %v", call.Function.Name, err)},
			})
			continue
		}
		if result != nil {
			response.FunctionResults = append(response.FunctionResults, *result)
		}
	}

	return response, nil
}

func (it *Interpreter) processToolCall(userID string, call ToolCall) (*FunctionResult, error) {
	switch call.Function.Name {
	case toolCreateWorkflow:
		var args createWorkflowArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %v", err)
		}
		result, err := it.HandleCreateWorkflow(userID, &args)
		if err != nil {
			return nil, err
		}
		return &FunctionResult{Type: "workflow_created", Data: result}, nil

	case toolRequestCredentials:
		var args struct {
			Service string `json:"service"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %v", err)
		}
		reqs, err := registry.Requirements(args.Service)
		if err != nil {
			return nil, err
		}
		return &FunctionResult{Type: "credential_request", Data: map[string]interface{}{
			"service":      args.Service,
			"message":      args.Message,
			"requirements": reqs,
		}}, nil

	case toolExplainWorkflow:
		var args struct {
			Explanation string   `json:"explanation"`
			NextSteps   []string `json:"next_steps"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %v", err)
		}
		return &FunctionResult{Type: "explanation", Data: map[string]interface{}{
			"explanation": args.Explanation,
			"next_steps":  args.NextSteps,
		}}, nil
	}

	// Unknown tool names are dropped without failing the round
	return nil, nil
}

// HandleCreateWorkflow gates, compiles and persists a workflow spec
// proposed by the model. Workflows start inactive; activation and
// deployment happen explicitly from the workflows API.
func (it *Interpreter) HandleCreateWorkflow(userID string, args *createWorkflowArgs) (*CreateWorkflowResult, error) {
	spec := &workflow.Spec{
		Name:        args.Name,
		Description: args.Description,
		Trigger:     args.Trigger,
		Actions:     args.Actions,
		Services:    args.RequiredServices,
	}

	readiness, err := it.gatekeeper.CheckReadiness(userID, spec)
	if err != nil {
		return nil, err
	}
	if !readiness.Ready {
		return &CreateWorkflowResult{
			Status:  "missing_credentials",
			Missing: readiness.Missing,
			Message: fmt.Sprintf("Missing credentials for: %s", strings.Join(readiness.Missing, ", ")),
		}, nil
	}

	doc, err := workflow.Compile(spec, readiness.Credentials)
	if err != nil {
		return nil, err
	}

	definition, err := doc.JSON()
	if err != nil {
		return nil, err
	}
	checksum := utils.HashString(definition)

	stored, err := it.workflows.CreateWorkflow(userID, spec.Name, spec.Description, definition, checksum)
	if err != nil {
		return nil, err
	}

	it.logger.Info(fmt.Sprintf("Interpreter created workflow %s for user %s", stored.ID, userID), "interpreter")
	return &CreateWorkflowResult{
		Status:   "created",
		Workflow: stored,
		Message:  fmt.Sprintf("Workflow %q created successfully! You can view and activate it in your workflows dashboard.", spec.Name),
	}, nil
}

// MissingCredentials scans user input for service mentions and returns
// onboarding requirements for every service without a stored credential
func (it *Interpreter) MissingCredentials(userID, userInput string) ([]MissingCredential, error) {
	var missing []MissingCredential

	for _, service := range workflow.DetectServices(userInput) {
		cred, err := it.creds.GetCredential(userID, service)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			continue
		}
		reqs, err := registry.Requirements(service)
		if err != nil {
			return nil, err
		}
		missing = append(missing, MissingCredential{Service: service, Requirements: reqs})
	}

	return missing, nil
}
