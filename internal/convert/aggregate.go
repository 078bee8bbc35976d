package convert

import (
	"encoding/json"
	"sort"

	"github.com/ccproxy-dev/ccproxy/internal/format"
)

// Stream aggregators reduce a complete event sequence to the unary response
// object the stream was describing. The stream-buffer path uses them when a
// unary client sits in front of a streaming-only upstream.

// AggregateAnthropicStream folds Anthropic stream events into a
// MessageResponse. Returns nil when the sequence never opened a message.
func AggregateAnthropicStream(payloads [][]byte) *format.MessageResponse {
	var msg *format.MessageResponse
	blocks := make(map[int]*format.ContentBlock)
	argbuf := make(map[int]string)

	for _, data := range payloads {
		var ev format.AnthropicStreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case format.EventMessageStart:
			if ev.Message != nil {
				copied := *ev.Message
				copied.Content = nil
				msg = &copied
			}
		case format.EventContentBlockStart:
			if ev.ContentBlock != nil {
				copied := *ev.ContentBlock
				blocks[ev.Index] = &copied
			}
		case format.EventContentBlockDelta:
			b := blocks[ev.Index]
			if b == nil || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case format.DeltaText:
				b.Text += ev.Delta.Text
			case format.DeltaInputJSON:
				argbuf[ev.Index] += ev.Delta.PartialJSON
			case format.DeltaThinking:
				b.Thinking += ev.Delta.Thinking
			case format.DeltaSignature:
				b.Signature += ev.Delta.Signature
			}
		case format.EventContentBlockStop:
			if b := blocks[ev.Index]; b != nil && b.Type == format.BlockToolUse {
				if args, ok := argbuf[ev.Index]; ok {
					b.Input = argsToJSON(args)
				}
			}
		case format.EventMessageDelta:
			if msg == nil {
				continue
			}
			if ev.Delta != nil {
				if ev.Delta.StopReason != "" {
					msg.StopReason = ev.Delta.StopReason
				}
				if ev.Delta.StopSequence != nil {
					msg.StopSequence = ev.Delta.StopSequence
				}
			}
			if ev.Usage != nil {
				if ev.Usage.InputTokens > 0 {
					msg.Usage.InputTokens = ev.Usage.InputTokens
				}
				if ev.Usage.OutputTokens > 0 {
					msg.Usage.OutputTokens = ev.Usage.OutputTokens
				}
			}
		}
	}
	if msg == nil {
		return nil
	}

	indexes := make([]int, 0, len(blocks))
	for i := range blocks {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		msg.Content = append(msg.Content, *blocks[i])
	}
	if msg.Content == nil {
		msg.Content = []format.ContentBlock{}
	}
	return msg
}

// AggregateChatStream folds Chat Completions chunks into a unary response.
// Returns nil when no chunk carried a recognizable shape.
func AggregateChatStream(payloads [][]byte) *format.ChatCompletionResponse {
	var (
		resp    *format.ChatCompletionResponse
		content string
		role    string
		finish  string
		calls   = make(map[int]*format.ChatToolCall)
	)

	for _, data := range payloads {
		var chunk format.ChatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil || chunk.Object != "chat.completion.chunk" {
			continue
		}
		if resp == nil {
			resp = &format.ChatCompletionResponse{
				ID:      chunk.ID,
				Object:  "chat.completion",
				Created: chunk.Created,
				Model:   chunk.Model,
			}
		}
		if chunk.Usage != nil {
			resp.Usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.Delta.Role != "" {
				role = choice.Delta.Role
			}
			if choice.Delta.Content != nil {
				content += *choice.Delta.Content
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc := calls[idx]
				if acc == nil {
					acc = &format.ChatToolCall{Type: "function"}
					calls[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Function.Name = tc.Function.Name
				}
				acc.Function.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason != nil {
				finish = *choice.FinishReason
			}
		}
	}
	if resp == nil {
		return nil
	}

	if role == "" {
		role = "assistant"
	}
	if finish == "" {
		finish = "stop"
	}
	msg := format.ChatMessage{Role: role}
	if content != "" {
		msg.Content = format.ChatText(content)
	}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		tc := calls[i]
		if tc.ID == "" {
			tc.ID = newCallID()
		}
		tc.Function.Arguments = normalizeArgString(tc.Function.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, *tc)
	}
	resp.Choices = []format.ChatChoice{{Index: 0, Message: msg, FinishReason: finish}}
	return resp
}

// AggregateResponsesStream folds Responses stream events into a final
// ResponseObject. The terminal event's snapshot wins; completed output items
// fill in when the snapshot lacks them.
func AggregateResponsesStream(payloads [][]byte) *format.ResponseObject {
	var (
		resp  *format.ResponseObject
		items []format.ResponseOutputItem
	)
	for _, data := range payloads {
		var ev format.ResponseStreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case format.EventOutputItemDone:
			if ev.Item != nil {
				items = append(items, *ev.Item)
			}
		default:
			if ev.Response != nil {
				copied := *ev.Response
				resp = &copied
			}
		}
	}
	if resp == nil {
		return nil
	}
	if len(resp.Output) == 0 {
		resp.Output = items
	}
	return resp
}
