package format

import (
	"encoding/json"
	"fmt"
)

// ParseRequest decodes and validates a client body in the given format.
// It returns the typed request as any of *CreateMessageRequest,
// *ChatCompletionRequest, or *ResponseRequest.
func ParseRequest(name Name, body []byte) (any, error) {
	switch name {
	case Anthropic:
		var req CreateMessageRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, Validationf("", "malformed JSON body: %v", err)
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return &req, nil
	case Chat:
		var req ChatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, Validationf("", "malformed JSON body: %v", err)
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return &req, nil
	case Responses:
		var req ResponseRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, Validationf("", "malformed JSON body: %v", err)
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return &req, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", name)
	}
}

// Validate checks required fields of an Anthropic request.
func (r *CreateMessageRequest) Validate() error {
	if r.Model == "" {
		return Validationf("model", "field is required")
	}
	if len(r.Messages) == 0 {
		return Validationf("messages", "at least one message is required")
	}
	if r.MaxTokens <= 0 {
		return Validationf("max_tokens", "must be a positive integer")
	}
	for i, m := range r.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return Validationf(fmt.Sprintf("messages[%d].role", i), "must be user or assistant, got %q", m.Role)
		}
	}
	for i, t := range r.Tools {
		if t.Name == "" {
			return Validationf(fmt.Sprintf("tools[%d].name", i), "field is required")
		}
	}
	return nil
}

// Validate checks required fields of a Chat Completions request.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return Validationf("model", "field is required")
	}
	if len(r.Messages) == 0 {
		return Validationf("messages", "at least one message is required")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "developer", "user", "assistant", "tool":
		default:
			return Validationf(fmt.Sprintf("messages[%d].role", i), "unknown role %q", m.Role)
		}
		if m.Role == "tool" && m.ToolCallID == "" {
			return Validationf(fmt.Sprintf("messages[%d].tool_call_id", i), "field is required for tool messages")
		}
	}
	for i, t := range r.Tools {
		if t.Function.Name == "" {
			return Validationf(fmt.Sprintf("tools[%d].function.name", i), "field is required")
		}
	}
	return nil
}

// Validate checks required fields of a Responses request.
func (r *ResponseRequest) Validate() error {
	if r.Model == "" {
		return Validationf("model", "field is required")
	}
	if !r.Input.IsText() && len(r.Input.Items) == 0 {
		return Validationf("input", "field is required")
	}
	for i, t := range r.Tools {
		if t.Type == "function" && t.Name == "" {
			return Validationf(fmt.Sprintf("tools[%d].name", i), "field is required")
		}
	}
	return nil
}
