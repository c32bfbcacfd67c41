package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/api/middleware"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/interpreter"
)

type chatRequest struct {
	Messages []interpreter.Message `json:"messages"`
}

// handleChat runs a conversation turn through the language-model
// interpreter, POST /api/chat
func (s *APIServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "Missing required field: messages", http.StatusBadRequest)
		return
	}

	response, err := s.interp.Interpret(r.Context(), claims.UserID, req.Messages)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Chat interpretation failed: %v", err), "api")
		http.Error(w, "Failed to process message", http.StatusBadGateway)
		return
	}

	// Surface onboarding requirements for mentioned services the user
	// has not connected yet, so the client can prompt for them up front
	if last := lastUserMessage(req.Messages); last != "" {
		missing, err := s.interp.MissingCredentials(claims.UserID, last)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("Failed to scan for missing credentials: %v", err), "api")
		} else if len(missing) > 0 {
			response.FunctionResults = append(response.FunctionResults, interpreter.FunctionResult{
				Type: "missing_credentials",
				Data: missing,
			})
		}
	}

	// A created workflow changes the user's workflow list
	for _, result := range response.FunctionResults {
		if result.Type != "workflow_created" {
			continue
		}
		if created, ok := result.Data.(*interpreter.CreateWorkflowResult); ok && created.Workflow != nil {
			s.eventEmitter.WorkflowsChanged(claims.UserID, created.Workflow.ID, "created")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// lastUserMessage returns the content of the newest user-role message
func lastUserMessage(messages []interpreter.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
