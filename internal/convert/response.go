package convert

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ccproxy-dev/ccproxy/internal/format"
)

// =============================================
// Finish / stop reason mapping
// =============================================

// chatFinishFromAnthropic maps an Anthropic stop_reason to a Chat finish_reason.
func chatFinishFromAnthropic(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

// anthropicStopFromChat maps a Chat finish_reason to an Anthropic stop_reason.
func anthropicStopFromChat(finishReason string) string {
	switch finishReason {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// =============================================
// Anthropic -> Chat (response)
// =============================================

// AnthropicResponseToChat converts an Anthropic Messages response to a Chat
// Completions response. Thinking blocks serialize into the assistant text as
// inline XML; tool_use blocks become tool_calls siblings of the content.
func AnthropicResponseToChat(resp *format.MessageResponse, model string) *format.ChatCompletionResponse {
	if model == "" {
		model = resp.Model
	}
	var text strings.Builder
	var toolCalls []format.ChatToolCall
	thinkingXML := ThinkingXMLEnabled()

	for _, block := range resp.Content {
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
		}
	}

	msg := format.ChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if text.Len() > 0 {
		msg.Content = format.ChatText(text.String())
	}

	return &format.ChatCompletionResponse{
		ID:      strings.Replace(resp.ID, "msg_", "chatcmpl_", 1),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []format.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: chatFinishFromAnthropic(resp.StopReason),
		}},
		Usage: format.ChatUsageFromAnthropic(resp.Usage),
	}
}

// =============================================
// Chat -> Anthropic (response)
// =============================================

// ChatResponseToAnthropic converts a Chat Completions response to an
// Anthropic Messages response, re-parsing inline <thinking> runs into
// thinking blocks.
func ChatResponseToAnthropic(resp *format.ChatCompletionResponse, model string) *format.MessageResponse {
	if model == "" {
		model = resp.Model
	}
	out := &format.MessageResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: "end_turn",
		Usage:      format.AnthropicUsageFromChat(resp.Usage),
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = anthropicStopFromChat(choice.FinishReason)

	for _, seg := range ParseThinking(choice.Message.Content.PlainText()) {
		if seg.Thinking {
			out.Content = append(out.Content, format.ThinkingBlock(seg.Text, seg.Signature))
		} else if seg.Text != "" {
			out.Content = append(out.Content, format.TextBlock(seg.Text))
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = newCallID()
		}
		out.Content = append(out.Content, format.ToolUseBlock(id, tc.Function.Name, argsToJSON(tc.Function.Arguments)))
	}
	return out
}

// =============================================
// Responses -> Chat (response)
// =============================================

// ResponseObjectToChat converts a Responses object to a Chat response. The
// assistant output item re-packs as choices[0].message; reasoning summaries
// concatenate into the content as inline XML, one run per summary part so
// per-part signatures survive.
func ResponseObjectToChat(resp *format.ResponseObject, model string) *format.ChatCompletionResponse {
	if model == "" {
		model = resp.Model
	}
	var text strings.Builder
	var toolCalls []format.ChatToolCall
	thinkingXML := ThinkingXMLEnabled()

	for _, item := range resp.Output {
		switch item.Type {
		case format.OutputReasoning:
			if !thinkingXML {
				continue
			}
			for _, part := range item.Summary {
				text.WriteString(FormatThinking(part.Text, part.Signature))
			}
		case format.OutputMessage:
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					text.WriteString(part.Text)
				}
			}
		case format.OutputFunctionCall:
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			toolCalls = append(toolCalls, format.ChatToolCall{
				ID:   id,
				Type: "function",
				Function: format.ChatFunctionCall{
					Name:      item.Name,
					Arguments: normalizeArgString(item.Args),
				},
			})
		}
	}

	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	} else if resp.Status == format.ResponseStatusIncomplete {
		finish = "length"
	}

	msg := format.ChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if text.Len() > 0 {
		msg.Content = format.ChatText(text.String())
	}

	return &format.ChatCompletionResponse{
		ID:      strings.Replace(resp.ID, "resp_", "chatcmpl_", 1),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []format.ChatChoice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage:   format.ChatUsageFromResponse(resp.Usage),
	}
}

// =============================================
// Chat -> Responses (response)
// =============================================

// ChatResponseToResponses converts a Chat response to a Responses object.
// Inline <thinking> runs become a reasoning output item.
func ChatResponseToResponses(resp *format.ChatCompletionResponse, model string) *format.ResponseObject {
	if model == "" {
		model = resp.Model
	}
	out := &format.ResponseObject{
		ID:        newResponseID(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    format.ResponseStatusCompleted,
		Model:     model,
		Usage:     format.ResponseUsageFromChat(resp.Usage),
	}
	if len(resp.Choices) == 0 {
		out.Output = []format.ResponseOutputItem{emptyAssistantMessage()}
		return out
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		out.Status = format.ResponseStatusIncomplete
		out.IncompleteDetails = json.RawMessage(`{"reason":"max_output_tokens"}`)
	}

	var reasoning *format.ResponseOutputItem
	var text strings.Builder
	for _, seg := range ParseThinking(choice.Message.Content.PlainText()) {
		if seg.Thinking {
			if reasoning == nil {
				reasoning = &format.ResponseOutputItem{
					Type: format.OutputReasoning,
					ID:   "rs_" + out.ID[len("resp_"):],
				}
			}
			reasoning.Summary = append(reasoning.Summary, format.ResponseSummaryPart{
				Type: "summary_text", Text: seg.Text, Signature: seg.Signature,
			})
		} else {
			text.WriteString(seg.Text)
		}
	}
	if reasoning != nil {
		out.Output = append(out.Output, *reasoning)
	}

	msgItem := format.ResponseOutputItem{
		Type:   format.OutputMessage,
		ID:     "msg_" + out.ID[len("resp_"):],
		Role:   "assistant",
		Status: "completed",
	}
	if text.Len() > 0 {
		msgItem.Content = []format.ResponseContentPart{{Type: "output_text", Text: text.String()}}
	}
	out.Output = append(out.Output, msgItem)

	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = newCallID()
		}
		out.Output = append(out.Output, format.ResponseOutputItem{
			Type:   format.OutputFunctionCall,
			ID:     "fc_" + strings.TrimPrefix(id, "call_"),
			CallID: id,
			Name:   tc.Function.Name,
			Args:   normalizeArgString(tc.Function.Arguments),
			Status: "completed",
		})
	}
	return out
}

// =============================================
// Anthropic <-> Responses (response)
// =============================================

// AnthropicResponseToResponses converts an Anthropic response to a Responses
// object. Thinking blocks become reasoning summary parts.
func AnthropicResponseToResponses(resp *format.MessageResponse, model string) *format.ResponseObject {
	if model == "" {
		model = resp.Model
	}
	out := &format.ResponseObject{
		ID:        strings.Replace(resp.ID, "msg_", "resp_", 1),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    format.ResponseStatusCompleted,
		Model:     model,
		Usage:     format.ResponseUsageFromAnthropic(resp.Usage),
	}
	if resp.StopReason == "max_tokens" {
		out.Status = format.ResponseStatusIncomplete
		out.IncompleteDetails = json.RawMessage(`{"reason":"max_output_tokens"}`)
	}

	var reasoning *format.ResponseOutputItem
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case format.BlockThinking:
			if reasoning == nil {
				reasoning = &format.ResponseOutputItem{Type: format.OutputReasoning, ID: "rs_" + resp.ID}
			}
			reasoning.Summary = append(reasoning.Summary, format.ResponseSummaryPart{
				Type: "summary_text", Text: block.Thinking, Signature: block.Signature,
			})
		case format.BlockText:
			text.WriteString(block.Text)
		case format.BlockToolUse:
			out.Output = append(out.Output, format.ResponseOutputItem{
				Type:   format.OutputFunctionCall,
				ID:     "fc_" + strings.TrimPrefix(block.ID, "toolu_"),
				CallID: block.ID,
				Name:   block.Name,
				Args:   rawToArgString(block.Input),
				Status: "completed",
			})
		}
	}

	items := make([]format.ResponseOutputItem, 0, len(out.Output)+2)
	if reasoning != nil {
		items = append(items, *reasoning)
	}
	msgItem := format.ResponseOutputItem{
		Type: format.OutputMessage, ID: resp.ID, Role: "assistant", Status: "completed",
	}
	if text.Len() > 0 {
		msgItem.Content = []format.ResponseContentPart{{Type: "output_text", Text: text.String()}}
	}
	items = append(items, msgItem)
	out.Output = append(items, out.Output...)
	return out
}

// ResponseObjectToAnthropic converts a Responses object to an Anthropic
// response.
func ResponseObjectToAnthropic(resp *format.ResponseObject, model string) *format.MessageResponse {
	if model == "" {
		model = resp.Model
	}
	out := &format.MessageResponse{
		ID:         strings.Replace(resp.ID, "resp_", "msg_", 1),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: "end_turn",
		Usage:      format.AnthropicUsageFromResponse(resp.Usage),
	}
	if resp.Status == format.ResponseStatusIncomplete {
		out.StopReason = "max_tokens"
	}

	hasToolUse := false
	for _, item := range resp.Output {
		switch item.Type {
		case format.OutputReasoning:
			for _, part := range item.Summary {
				out.Content = append(out.Content, format.ThinkingBlock(part.Text, part.Signature))
			}
		case format.OutputMessage:
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					out.Content = append(out.Content, format.TextBlock(part.Text))
				}
			}
		case format.OutputFunctionCall:
			hasToolUse = true
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			out.Content = append(out.Content, format.ToolUseBlock(id, item.Name, argsToJSON(item.Args)))
		}
	}
	if hasToolUse && out.StopReason == "end_turn" {
		out.StopReason = "tool_use"
	}
	return out
}

// emptyAssistantMessage is the fallback output item guaranteeing at least
// one assistant message in a normalized Responses object.
func emptyAssistantMessage() format.ResponseOutputItem {
	return format.ResponseOutputItem{
		Type: format.OutputMessage, ID: newMessageID(), Role: "assistant", Status: "completed",
	}
}

// normalizeArgString guarantees function arguments travel as a JSON string;
// an upstream dict value is serialized.
func normalizeArgString(args string) string {
	if args == "" {
		return "{}"
	}
	return args
}
