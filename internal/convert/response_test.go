package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy-dev/ccproxy/internal/format"
)

func anthropicTextResponse() *format.MessageResponse {
	return &format.MessageResponse{
		ID:         "msg_0123456789abcdef",
		Type:       "message",
		Role:       "assistant",
		Model:      "claude-sonnet-4",
		Content:    []format.ContentBlock{format.TextBlock("Hi!")},
		StopReason: "end_turn",
		Usage:      format.AnthropicUsage{InputTokens: 5, OutputTokens: 2},
	}
}

func TestAnthropicResponseToChatBasic(t *testing.T) {
	out := AnthropicResponseToChat(anthropicTextResponse(), "gpt-4o")

	assert.Equal(t, "chatcmpl_0123456789abcdef", out.ID)
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "gpt-4o", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "Hi!", out.Choices[0].Message.Content.PlainText())
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, int64(5), out.Usage.PromptTokens)
	assert.Equal(t, int64(2), out.Usage.CompletionTokens)
	assert.Equal(t, int64(7), out.Usage.TotalTokens)
}

func TestAnthropicResponseToChatToolUse(t *testing.T) {
	resp := anthropicTextResponse()
	resp.Content = append(resp.Content,
		format.ToolUseBlock("toolu_1", "get_weather", json.RawMessage(`{"location":"SF"}`)))
	resp.StopReason = "tool_use"

	out := AnthropicResponseToChat(resp, "")
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	tc := out.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "toolu_1", tc.ID)
	assert.Equal(t, "get_weather", tc.Function.Name)
	assert.JSONEq(t, `{"location":"SF"}`, tc.Function.Arguments)
}

// Thinking content survives Anthropic -> Chat -> Anthropic with its
// signature intact.
func TestThinkingFidelityThroughChat(t *testing.T) {
	resp := &format.MessageResponse{
		ID:   "msg_think",
		Type: "message", Role: "assistant", Model: "m",
		Content: []format.ContentBlock{
			format.ThinkingBlock("let me reason", "sig-777"),
			format.TextBlock("the answer"),
		},
		StopReason: "end_turn",
		Usage:      format.AnthropicUsage{InputTokens: 1, OutputTokens: 1},
	}

	chat := AnthropicResponseToChat(resp, "")
	assert.Equal(t,
		`<thinking signature="sig-777">let me reason</thinking>the answer`,
		chat.Choices[0].Message.Content.PlainText())

	back := ChatResponseToAnthropic(chat, "m")
	require.Len(t, back.Content, 2)
	assert.Equal(t, format.BlockThinking, back.Content[0].Type)
	assert.Equal(t, "let me reason", back.Content[0].Thinking)
	assert.Equal(t, "sig-777", back.Content[0].Signature)
	assert.Equal(t, format.BlockText, back.Content[1].Type)
	assert.Equal(t, "the answer", back.Content[1].Text)
	assert.Equal(t, "end_turn", back.StopReason)
}

func TestChatResponseToAnthropicStopMapping(t *testing.T) {
	cases := map[string]string{
		"stop":       "end_turn",
		"length":     "max_tokens",
		"tool_calls": "tool_use",
		"":           "end_turn",
	}
	for finish, want := range cases {
		resp := &format.ChatCompletionResponse{
			Model: "m",
			Choices: []format.ChatChoice{{
				Message:      format.ChatMessage{Role: "assistant", Content: format.ChatText("x")},
				FinishReason: finish,
			}},
		}
		assert.Equal(t, want, ChatResponseToAnthropic(resp, "").StopReason, "finish=%q", finish)
	}
}

func TestResponseObjectToChat(t *testing.T) {
	resp := &format.ResponseObject{
		ID: "resp_abc", Object: "response", Model: "gpt-5",
		Status: format.ResponseStatusCompleted,
		Output: []format.ResponseOutputItem{
			{Type: format.OutputReasoning, Summary: []format.ResponseSummaryPart{
				{Type: "summary_text", Text: "hmm", Signature: "sg"},
			}},
			{Type: format.OutputMessage, Role: "assistant", Content: []format.ResponseContentPart{
				{Type: "output_text", Text: "done"},
			}},
		},
		Usage: &format.ResponseUsage{InputTokens: 9, OutputTokens: 4, TotalTokens: 13},
	}
	out := ResponseObjectToChat(resp, "")

	assert.Equal(t, "chatcmpl_abc", out.ID)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, `<thinking signature="sg">hmm</thinking>done`,
		out.Choices[0].Message.Content.PlainText())
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, int64(9), out.Usage.PromptTokens)
	assert.Equal(t, int64(4), out.Usage.CompletionTokens)
}

func TestResponseObjectToChatIncomplete(t *testing.T) {
	resp := &format.ResponseObject{
		ID: "resp_x", Model: "m", Status: format.ResponseStatusIncomplete,
		Output: []format.ResponseOutputItem{
			{Type: format.OutputMessage, Role: "assistant", Content: []format.ResponseContentPart{
				{Type: "output_text", Text: "trunc"},
			}},
		},
	}
	out := ResponseObjectToChat(resp, "")
	assert.Equal(t, "length", out.Choices[0].FinishReason)
}

func TestChatResponseToResponsesToolCalls(t *testing.T) {
	resp := &format.ChatCompletionResponse{
		Model: "m",
		Choices: []format.ChatChoice{{
			Message: format.ChatMessage{
				Role: "assistant",
				ToolCalls: []format.ChatToolCall{{
					ID: "call_77", Type: "function",
					Function: format.ChatFunctionCall{Name: "get_weather", Arguments: `{"location":"SF"}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
		Usage: &format.ChatUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	}
	out := ChatResponseToResponses(resp, "")

	assert.Equal(t, format.ResponseStatusCompleted, out.Status)
	require.Len(t, out.Output, 2)
	assert.Equal(t, format.OutputMessage, out.Output[0].Type)
	fc := out.Output[1]
	assert.Equal(t, format.OutputFunctionCall, fc.Type)
	assert.Equal(t, "call_77", fc.CallID)
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, `{"location":"SF"}`, fc.Args)
	require.NotNil(t, out.Usage)
	assert.Equal(t, int64(3), out.Usage.InputTokens)
	assert.Equal(t, int64(1), out.Usage.OutputTokens)
}

func TestAnthropicResponsesRoundTrip(t *testing.T) {
	in := &format.MessageResponse{
		ID: "msg_rt", Type: "message", Role: "assistant", Model: "m",
		Content: []format.ContentBlock{
			format.ThinkingBlock("plan", "s1"),
			format.TextBlock("result"),
			format.ToolUseBlock("toolu_9", "get_weather", json.RawMessage(`{"location":"SF"}`)),
		},
		StopReason: "tool_use",
		Usage:      format.AnthropicUsage{InputTokens: 8, OutputTokens: 6},
	}
	back := ResponseObjectToAnthropic(AnthropicResponseToResponses(in, ""), "")

	require.Len(t, back.Content, 3)
	assert.Equal(t, format.BlockThinking, back.Content[0].Type)
	assert.Equal(t, "plan", back.Content[0].Thinking)
	assert.Equal(t, "s1", back.Content[0].Signature)
	assert.Equal(t, "result", back.Content[1].Text)
	assert.Equal(t, format.BlockToolUse, back.Content[2].Type)
	assert.Equal(t, "toolu_9", back.Content[2].ID)
	assert.Equal(t, "tool_use", back.StopReason)
	assert.Equal(t, int64(8), back.Usage.InputTokens)
	assert.Equal(t, int64(6), back.Usage.OutputTokens)
}
