package interpreter

// Tool call names the model may invoke
const (
	toolCreateWorkflow     = "create_workflow"
	toolRequestCredentials = "request_credentials"
	toolExplainWorkflow    = "explain_workflow"
)

const systemPrompt = `You are an AI workflow automation assistant. Your job is to help users create automated workflows by interpreting their natural language requests.

Key capabilities:
1. Analyze user requests and identify what automation they need
2. Break down complex workflows into trigger + action sequences
3. Identify required external service credentials
4. Guide users through the workflow creation process
5. Create n8n-compatible workflow configurations

Supported triggers:
- typeform: For Typeform form submissions
- webhook: For HTTP webhook triggers
- manual: For manually triggered workflows

Supported actions:
- openai: AI text processing with GPT models
- slack: Send messages to Slack channels
- gmail: Send emails via Gmail
- google-sheets: Read/write Google Sheets data
- http: Make HTTP API requests
- function: Custom JavaScript processing
- set: Transform/set data values

When a user describes a workflow:
1. First, use explain_workflow to clarify what you understand
2. If credentials are needed, use request_credentials for each service
3. Once everything is clear, use create_workflow to generate the configuration

Be conversational and helpful. Ask clarifying questions when needed.
Guide users through credential setup step by step.
Make the complex simple and automate the tedious!`

var supportedServices = []string{"typeform", "openai", "slack", "gmail", "google-sheets"}

// workflowTools returns the function-calling schemas advertised to the
// model, in the OpenRouter/OpenAI tools format
func workflowTools() []map[string]interface{} {
	createWorkflow := map[string]interface{}{
		"name":        toolCreateWorkflow,
		"description": "Create a new automation workflow based on user requirements",
		"parameters": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "A descriptive name for the workflow",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "A brief description of what the workflow does",
				},
				"trigger": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"type": map[string]interface{}{
							"type":        "string",
							"enum":        []string{"typeform", "webhook", "manual"},
							"description": "The type of trigger that starts the workflow",
						},
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Webhook path (only for webhook triggers)",
						},
					},
					"required": []string{"type"},
				},
				"actions": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"type": map[string]interface{}{
								"type":        "string",
								"enum":        []string{"openai", "slack", "gmail", "google-sheets", "http", "function", "set"},
								"description": "The type of action to perform",
							},
							"prompt": map[string]interface{}{
								"type":        "string",
								"description": "AI prompt (for openai actions)",
							},
							"channel": map[string]interface{}{
								"type":        "string",
								"description": "Slack channel name (for slack actions)",
							},
							"message": map[string]interface{}{
								"type":        "string",
								"description": "Message content (for slack/notification actions)",
							},
							"to": map[string]interface{}{
								"type":        "string",
								"description": "Email recipient (for gmail actions)",
							},
							"subject": map[string]interface{}{
								"type":        "string",
								"description": "Email subject (for gmail actions)",
							},
							"operation": map[string]interface{}{
								"type":        "string",
								"description": "Operation type (for service-specific actions)",
							},
							"url": map[string]interface{}{
								"type":        "string",
								"description": "API endpoint URL (for http actions)",
							},
							"method": map[string]interface{}{
								"type":        "string",
								"description": "HTTP method (for http actions)",
							},
						},
						"required": []string{"type"},
					},
				},
				"required_services": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "string",
						"enum": supportedServices,
					},
					"description": "List of external services that need credentials",
				},
			},
			"required": []string{"name", "description", "trigger", "actions", "required_services"},
		},
	}

	requestCredentials := map[string]interface{}{
		"name":        toolRequestCredentials,
		"description": "Request user credentials for external services",
		"parameters": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service": map[string]interface{}{
					"type":        "string",
					"enum":        supportedServices,
					"description": "The service requiring credentials",
				},
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Friendly message explaining why credentials are needed",
				},
			},
			"required": []string{"service", "message"},
		},
	}

	explainWorkflow := map[string]interface{}{
		"name":        toolExplainWorkflow,
		"description": "Explain how a workflow will work to the user",
		"parameters": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"explanation": map[string]interface{}{
					"type":        "string",
					"description": "Clear explanation of the workflow steps and functionality",
				},
				"next_steps": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "List of next steps for the user",
				},
			},
			"required": []string{"explanation", "next_steps"},
		},
	}

	tools := make([]map[string]interface{}, 0, 3)
	for _, fn := range []map[string]interface{}{createWorkflow, requestCredentials, explainWorkflow} {
		tools = append(tools, map[string]interface{}{
			"type":     "function",
			"function": fn,
		})
	}
	return tools
}
