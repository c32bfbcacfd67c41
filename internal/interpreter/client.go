package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

// Message is one chat message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a function invocation requested by the model
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the relevant slice of an OpenRouter chat completion
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenRouterClient calls the OpenRouter chat-completions API with the
// workflow tool schemas attached. The remote model is a black box; the
// interpreter only trusts its structured tool calls after parsing.
type OpenRouterClient struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *utils.LogsManager
}

// NewOpenRouterClient builds an OpenRouter client. The API key comes
// from OPENROUTER_API_KEY; base URL and model are configurable.
func NewOpenRouterClient(cm *utils.ConfigManager, logger *utils.LogsManager) *OpenRouterClient {
	baseURL := os.Getenv("OPENROUTER_BASE_URL")
	if baseURL == "" {
		baseURL = cm.GetConfigWithDefault("openrouter_base_url", "https://openrouter.ai/api/v1")
	}
	model := os.Getenv("OPENROUTER_DEFAULT_MODEL")
	if model == "" {
		model = cm.GetConfigWithDefault("openrouter_model", "anthropic/claude-3.5-sonnet")
	}

	return &OpenRouterClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      os.Getenv("OPENROUTER_API_KEY"),
		model:       model,
		maxTokens:   cm.GetConfigInt("interpreter_max_tokens", 2000, 1, 128000),
		temperature: cm.GetConfigFloat64("interpreter_temperature", 0.2, 0, 2),
		httpClient: &http.Client{
			Timeout: cm.GetConfigDuration("interpreter_timeout", 60*time.Second),
		},
		logger: logger,
	}
}

// Chat sends the conversation, prefixed with the system prompt, and
// returns the model's reply
func (c *OpenRouterClient) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY not configured")
	}

	payload := map[string]interface{}{
		"model":       c.model,
		"messages":    append([]Message{{Role: "system", Content: systemPrompt}}, messages...),
		"tools":       workflowTools(),
		"tool_choice": "auto",
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize chat request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(fmt.Sprintf("Interpreter model returned %d", resp.StatusCode), "interpreter")
		return nil, fmt.Errorf("chat completion failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse chat response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &parsed, nil
}
