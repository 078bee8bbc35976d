// Package convert implements bidirectional translation between the three
// wire formats the proxy speaks, for unary bodies and for streams.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ccproxy-dev/ccproxy/internal/format"
)

// DefaultMaxTokens is used when a format without a required token limit is
// translated into Anthropic Messages, which requires one.
const DefaultMaxTokens int64 = 4096

// newCallID mints a tool-call id in the OpenAI style.
func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// newMessageID mints an Anthropic-style message id.
func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// newResponseID mints a Responses-style response id.
func newResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// =============================================
// Tool definition capture
// =============================================

// ToolDefsFromChat records the request tools of a Chat request.
func ToolDefsFromChat(req *format.ChatCompletionRequest) []ToolDef {
	defs := make([]ToolDef, 0, len(req.Tools))
	for _, t := range req.Tools {
		defs = append(defs, NewToolDef(t.Function.Name, t.Function.Parameters))
	}
	return defs
}

// ToolDefsFromAnthropic records the request tools of an Anthropic request.
func ToolDefsFromAnthropic(req *format.CreateMessageRequest) []ToolDef {
	defs := make([]ToolDef, 0, len(req.Tools))
	for _, t := range req.Tools {
		defs = append(defs, NewToolDef(t.Name, t.InputSchema))
	}
	return defs
}

// ToolDefsFromResponses records the request tools of a Responses request.
func ToolDefsFromResponses(req *format.ResponseRequest) []ToolDef {
	defs := make([]ToolDef, 0, len(req.Tools))
	for _, t := range req.Tools {
		defs = append(defs, NewToolDef(t.Name, t.Parameters))
	}
	return defs
}

// =============================================
// Chat -> Anthropic (request)
// =============================================

// ChatRequestToAnthropic translates a Chat Completions request into an
// Anthropic Messages request. System messages are hoisted into the system
// prompt; tool messages become tool_result blocks on user turns; inline
// <thinking> runs in assistant text become thinking blocks.
func ChatRequestToAnthropic(req *format.ChatCompletionRequest) *format.CreateMessageRequest {
	out := &format.CreateMessageRequest{
		Model:       req.Model,
		MaxTokens:   req.EffectiveMaxTokens(),
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if len(req.Stop) > 0 {
		out.StopSequences = stopSequences(req.Stop)
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if s := msg.Content.PlainText(); s != "" {
				systemParts = append(systemParts, s)
			}

		case "user":
			if s := msg.Content.PlainText(); s != "" {
				out.Messages = append(out.Messages, format.AnthropicMessage{
					Role: "user", Content: format.TextContent(s),
				})
			}

		case "assistant":
			var blocks []format.ContentBlock
			for _, seg := range ParseThinking(msg.Content.PlainText()) {
				if seg.Thinking {
					blocks = append(blocks, format.ThinkingBlock(seg.Text, seg.Signature))
				} else if seg.Text != "" {
					blocks = append(blocks, format.TextBlock(seg.Text))
				}
			}
			for _, tc := range msg.ToolCalls {
				id := tc.ID
				if id == "" {
					id = newCallID()
				}
				blocks = append(blocks, format.ToolUseBlock(id, tc.Function.Name, argsToJSON(tc.Function.Arguments)))
			}
			if len(blocks) > 0 {
				out.Messages = append(out.Messages, format.AnthropicMessage{
					Role: "assistant", Content: format.BlockContent(blocks...),
				})
			}

		case "tool":
			content, _ := json.Marshal(msg.Content.PlainText())
			out.Messages = append(out.Messages, format.AnthropicMessage{
				Role: "user",
				Content: format.BlockContent(format.ContentBlock{
					Type:      format.BlockToolResult,
					ToolUseID: msg.ToolCallID,
					Content:   content,
				}),
			})
		}
	}

	if len(systemParts) > 0 {
		out.System = format.SystemText(strings.Join(systemParts, "\n\n"))
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, format.AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	out.ToolChoice = chatToolChoiceToAnthropic(req.ToolChoice)

	return out
}

// =============================================
// Anthropic -> Chat (request)
// =============================================

// AnthropicRequestToChat translates an Anthropic Messages request into a
// Chat Completions request. Thinking blocks serialize to inline XML when
// enabled; tool_result blocks become tool-role messages.
func AnthropicRequestToChat(req *format.CreateMessageRequest) *format.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	out := &format.ChatCompletionRequest{
		Model:               req.Model,
		MaxCompletionTokens: &maxTokens,
		Stream:              req.Stream,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
	}
	if len(req.StopSequences) > 0 {
		stop, _ := json.Marshal(req.StopSequences)
		out.Stop = stop
	}

	if s := req.System.PlainText(); s != "" {
		out.Messages = append(out.Messages, format.ChatMessage{
			Role: "system", Content: format.ChatText(s),
		})
	}

	thinkingXML := ThinkingXMLEnabled()
	for _, msg := range req.Messages {
		var text strings.Builder
		var toolCalls []format.ChatToolCall
		var toolResults []format.ChatMessage

		for _, block := range msg.Content.AsBlocks() {
			switch block.Type {
			case format.BlockText:
				text.WriteString(block.Text)
			case format.BlockThinking:
				if thinkingXML {
					text.WriteString(FormatThinking(block.Thinking, block.Signature))
				}
			case format.BlockToolUse:
				toolCalls = append(toolCalls, format.ChatToolCall{
					ID:   block.ID,
					Type: "function",
					Function: format.ChatFunctionCall{
						Name:      block.Name,
						Arguments: rawToArgString(block.Input),
					},
				})
			case format.BlockToolResult:
				toolResults = append(toolResults, format.ChatMessage{
					Role:       "tool",
					ToolCallID: block.ToolUseID,
					Content:    format.ChatText(block.ToolResultContentString()),
				})
			}
		}

		// Tool results travel as their own tool-role messages.
		out.Messages = append(out.Messages, toolResults...)

		if text.Len() > 0 || len(toolCalls) > 0 {
			m := format.ChatMessage{Role: msg.Role, ToolCalls: toolCalls}
			if text.Len() > 0 {
				m.Content = format.ChatText(text.String())
			}
			out.Messages = append(out.Messages, m)
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, format.ChatTool{
			Type: "function",
			Function: format.ChatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	out.ToolChoice = anthropicToolChoiceToChat(req.ToolChoice)

	return out
}

// =============================================
// Chat <-> Responses (request)
// =============================================

// ChatRequestToResponses translates a Chat request into a Responses request.
// The first system run is hoisted to instructions; tools flatten from the
// nested "function" object to top level.
func ChatRequestToResponses(req *format.ChatCompletionRequest) *format.ResponseRequest {
	out := &format.ResponseRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if mt := req.EffectiveMaxTokens(); mt > 0 {
		out.MaxOutputTokens = &mt
	}
	if req.ReasoningEffort != "" {
		out.Reasoning = &format.ReasoningConfig{Effort: req.ReasoningEffort, Summary: "auto"}
	}

	var instructions []string
	var items []format.ResponseInputItem
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if s := msg.Content.PlainText(); s != "" {
				instructions = append(instructions, s)
			}

		case "user", "assistant":
			partType := "input_text"
			if msg.Role == "assistant" {
				partType = "output_text"
			}
			if s := msg.Content.PlainText(); s != "" {
				items = append(items, format.ResponseInputItem{
					Type: "message",
					Role: msg.Role,
					Content: format.ResponseItemContent{
						Parts: []format.ResponseContentPart{{Type: partType, Text: s}},
					},
				})
			}
			for _, tc := range msg.ToolCalls {
				id := tc.ID
				if id == "" {
					id = newCallID()
				}
				items = append(items, format.ResponseInputItem{
					Type:   "function_call",
					CallID: id,
					Name:   tc.Function.Name,
					Args:   tc.Function.Arguments,
				})
			}

		case "tool":
			items = append(items, format.ResponseInputItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: msg.Content.PlainText(),
			})
		}
	}
	out.Instructions = strings.Join(instructions, "\n\n")
	out.Input = format.ResponseInputItems(items...)

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, format.ResponseTool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
			Strict:      t.Function.Strict,
		})
	}
	out.ToolChoice = chatToolChoiceToResponses(req.ToolChoice)

	return out
}

// ResponsesRequestToChat translates a Responses request into a Chat request.
func ResponsesRequestToChat(req *format.ResponseRequest) *format.ChatCompletionRequest {
	out := &format.ChatCompletionRequest{
		Model:               req.Model,
		MaxCompletionTokens: req.MaxOutputTokens,
		Stream:              req.Stream,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
	}
	if req.Reasoning != nil {
		out.ReasoningEffort = req.Reasoning.Effort
	}

	if req.Instructions != "" {
		out.Messages = append(out.Messages, format.ChatMessage{
			Role: "system", Content: format.ChatText(req.Instructions),
		})
	}

	for _, item := range req.Input.AsItems() {
		switch item.Type {
		case "message", "":
			role := item.Role
			if role == "" {
				role = "user"
			}
			if role == "tool" {
				out.Messages = append(out.Messages, format.ChatMessage{
					Role:       "tool",
					ToolCallID: item.CallID,
					Content:    format.ChatText(item.Content.PlainText()),
				})
				continue
			}
			out.Messages = append(out.Messages, format.ChatMessage{
				Role: role, Content: format.ChatText(item.Content.PlainText()),
			})

		case "function_call":
			id := item.CallID
			if id == "" {
				id = newCallID()
			}
			out.Messages = append(out.Messages, format.ChatMessage{
				Role: "assistant",
				ToolCalls: []format.ChatToolCall{{
					ID: id, Type: "function",
					Function: format.ChatFunctionCall{Name: item.Name, Arguments: item.Args},
				}},
			})

		case "function_call_output":
			out.Messages = append(out.Messages, format.ChatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    format.ChatText(item.Output),
			})

		case "reasoning":
			if !ThinkingXMLEnabled() {
				continue
			}
			var text strings.Builder
			for _, part := range item.Summary {
				text.WriteString(FormatThinking(part.Text, part.Signature))
			}
			if text.Len() > 0 {
				out.Messages = append(out.Messages, format.ChatMessage{
					Role: "assistant", Content: format.ChatText(text.String()),
				})
			}
		}
	}

	for _, t := range req.Tools {
		if t.Type != "function" {
			continue
		}
		out.Tools = append(out.Tools, format.ChatTool{
			Type: "function",
			Function: format.ChatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
				Strict:      t.Strict,
			},
		})
	}
	out.ToolChoice = responsesToolChoiceToChat(req.ToolChoice)

	return out
}

// =============================================
// Anthropic <-> Responses (request)
// =============================================

// AnthropicRequestToResponses translates an Anthropic request into a
// Responses request. Thinking blocks become reasoning input items rather
// than inline XML.
func AnthropicRequestToResponses(req *format.CreateMessageRequest) *format.ResponseRequest {
	maxTokens := req.MaxTokens
	out := &format.ResponseRequest{
		Model:           req.Model,
		Instructions:    req.System.PlainText(),
		MaxOutputTokens: &maxTokens,
		Stream:          req.Stream,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}

	var items []format.ResponseInputItem
	for _, msg := range req.Messages {
		var parts []format.ResponseContentPart
		partType := "input_text"
		if msg.Role == "assistant" {
			partType = "output_text"
		}
		flushParts := func() {
			if len(parts) > 0 {
				items = append(items, format.ResponseInputItem{
					Type: "message", Role: msg.Role,
					Content: format.ResponseItemContent{Parts: parts},
				})
				parts = nil
			}
		}
		for _, block := range msg.Content.AsBlocks() {
			switch block.Type {
			case format.BlockText:
				parts = append(parts, format.ResponseContentPart{Type: partType, Text: block.Text})
			case format.BlockThinking:
				flushParts()
				items = append(items, format.ResponseInputItem{
					Type: "reasoning",
					Summary: []format.ResponseSummaryPart{{
						Type: "summary_text", Text: block.Thinking, Signature: block.Signature,
					}},
				})
			case format.BlockToolUse:
				flushParts()
				items = append(items, format.ResponseInputItem{
					Type:   "function_call",
					CallID: block.ID,
					Name:   block.Name,
					Args:   rawToArgString(block.Input),
				})
			case format.BlockToolResult:
				flushParts()
				items = append(items, format.ResponseInputItem{
					Type:   "function_call_output",
					CallID: block.ToolUseID,
					Output: block.ToolResultContentString(),
				})
			}
		}
		flushParts()
	}
	out.Input = format.ResponseInputItems(items...)

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, format.ResponseTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	out.ToolChoice = chatToolChoiceToResponses(anthropicToolChoiceToChat(req.ToolChoice))

	return out
}

// ResponsesRequestToAnthropic translates a Responses request into an
// Anthropic request.
func ResponsesRequestToAnthropic(req *format.ResponseRequest) *format.CreateMessageRequest {
	out := &format.CreateMessageRequest{
		Model:       req.Model,
		MaxTokens:   DefaultMaxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		out.MaxTokens = *req.MaxOutputTokens
	}
	if req.Instructions != "" {
		out.System = format.SystemText(req.Instructions)
	}

	appendBlocks := func(role string, blocks ...format.ContentBlock) {
		n := len(out.Messages)
		if n > 0 && out.Messages[n-1].Role == role && !out.Messages[n-1].Content.IsText() {
			merged := append(out.Messages[n-1].Content.AsBlocks(), blocks...)
			out.Messages[n-1].Content = format.BlockContent(merged...)
			return
		}
		out.Messages = append(out.Messages, format.AnthropicMessage{
			Role: role, Content: format.BlockContent(blocks...),
		})
	}

	for _, item := range req.Input.AsItems() {
		switch item.Type {
		case "message", "":
			role := item.Role
			if role == "" {
				role = "user"
			}
			if role == "tool" {
				content, _ := json.Marshal(item.Content.PlainText())
				appendBlocks("user", format.ContentBlock{
					Type: format.BlockToolResult, ToolUseID: item.CallID, Content: content,
				})
				continue
			}
			if role != "assistant" {
				role = "user"
			}
			if s := item.Content.PlainText(); s != "" {
				appendBlocks(role, format.TextBlock(s))
			}

		case "function_call":
			appendBlocks("assistant", format.ToolUseBlock(item.CallID, item.Name, argsToJSON(item.Args)))

		case "function_call_output":
			content, _ := json.Marshal(item.Output)
			appendBlocks("user", format.ContentBlock{
				Type: format.BlockToolResult, ToolUseID: item.CallID, Content: content,
			})

		case "reasoning":
			for _, part := range item.Summary {
				appendBlocks("assistant", format.ThinkingBlock(part.Text, part.Signature))
			}
		}
	}

	for _, t := range req.Tools {
		if t.Type != "function" {
			continue
		}
		out.Tools = append(out.Tools, format.AnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	out.ToolChoice = chatToolChoiceToAnthropic(responsesToolChoiceToChat(req.ToolChoice))

	return out
}

// =============================================
// Shared helpers
// =============================================

// argsToJSON turns a JSON-string argument payload into a raw object,
// repairing malformed JSON when possible.
func argsToJSON(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	if repaired := repairJSON(arguments); repaired != "" {
		return json.RawMessage(repaired)
	}
	quoted, _ := json.Marshal(arguments)
	return json.RawMessage(fmt.Sprintf(`{"raw":%s}`, quoted))
}

// rawToArgString renders tool input as the JSON string OpenAI formats want.
// If the upstream gave a dict it is serialized; a string passes through.
func rawToArgString(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s
	}
	return string(input)
}

// stopSequences normalizes the Chat stop union (string or array) while
// keeping insertion order.
func stopSequences(raw json.RawMessage) []string {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// =============================================
// Tool choice translation
// =============================================

func chatToolChoiceToAnthropic(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		switch v.String() {
		case "none":
			return json.RawMessage(`{"type":"none"}`)
		case "required":
			return json.RawMessage(`{"type":"any"}`)
		default:
			return json.RawMessage(`{"type":"auto"}`)
		}
	}
	if name := v.Get("function.name").String(); name != "" {
		out, _ := json.Marshal(map[string]string{"type": "tool", "name": name})
		return out
	}
	if name := v.Get("name").String(); name != "" {
		out, _ := json.Marshal(map[string]string{"type": "tool", "name": name})
		return out
	}
	return json.RawMessage(`{"type":"auto"}`)
}

func anthropicToolChoiceToChat(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	v := gjson.ParseBytes(raw)
	switch v.Get("type").String() {
	case "none":
		return json.RawMessage(`"none"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "tool":
		out, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": v.Get("name").String()},
		})
		return out
	default:
		return json.RawMessage(`"auto"`)
	}
}

// chatToolChoiceToResponses flattens the Chat nesting: Responses carries the
// function name at top level.
func chatToolChoiceToResponses(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		return raw
	}
	if name := v.Get("function.name").String(); name != "" {
		out, _ := json.Marshal(map[string]string{"type": "function", "name": name})
		return out
	}
	return raw
}

func responsesToolChoiceToChat(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		return raw
	}
	if name := v.Get("name").String(); name != "" {
		out, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": name},
		})
		return out
	}
	return raw
}

// repairJSON attempts jsonrepair and returns "" on failure.
func repairJSON(s string) string {
	repaired, err := jsonRepair(s)
	if err != nil {
		return ""
	}
	if !json.Valid([]byte(repaired)) {
		return ""
	}
	return repaired
}
