package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// responsesToChatStream converts Responses stream events into OpenAI Chat
// Completions chunks.
type responsesToChatStream struct {
	chatID  string
	created int64
	model   string
	defs    []ToolDef

	thinkingXML bool
	started     bool

	// function-call accumulators keyed by Responses item id
	calls     map[string]*responsesCallAcc
	toolIndex int

	// reasoning summary accumulators keyed by item id + summary index
	summaries map[string]*summaryAcc

	toolEmitted bool
	usage       *format.ChatUsage
	status      string
	finished    bool
}

type responsesCallAcc struct {
	chatIndex int
	callID    string
	name      string
	args      string
	announced bool // name already sent to the client
	flushed   int
}

type summaryAcc struct {
	text      string
	signature string
}

func newResponsesToChatStream(model string, defs []ToolDef) *responsesToChatStream {
	return &responsesToChatStream{
		chatID:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		created:     time.Now().Unix(),
		model:       model,
		defs:        defs,
		thinkingXML: ThinkingXMLEnabled(),
		calls:       make(map[string]*responsesCallAcc),
		summaries:   make(map[string]*summaryAcc),
	}
}

func (s *responsesToChatStream) chunk(delta format.ChatDelta, finish *string) format.ChatCompletionChunk {
	return format.ChatCompletionChunk{
		ID:      s.chatID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []format.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func summaryKey(itemID string, index int) string {
	return fmt.Sprintf("%s#%d", itemID, index)
}

func (s *responsesToChatStream) Next(data []byte) ([]sse.Event, error) {
	var event format.ResponseStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode responses stream event: %w", err)
	}
	var out []sse.Event

	switch event.Type {
	case format.EventResponseCreated:
		if event.Response != nil && event.Response.Model != "" {
			s.model = event.Response.Model
		}
		if !s.started {
			s.started = true
			out = append(out, frame(s.chunk(format.ChatDelta{Role: "assistant"}, nil)))
		}

	case format.EventOutputItemAdded:
		if event.Item == nil || event.Item.Type != format.OutputFunctionCall {
			break
		}
		acc := &responsesCallAcc{
			chatIndex: s.toolIndex,
			callID:    event.Item.CallID,
			name:      event.Item.Name,
		}
		s.toolIndex++
		s.toolEmitted = true
		s.calls[event.Item.ID] = acc
		if acc.callID == "" {
			acc.callID = newCallID()
		}
		if acc.name != "" {
			out = append(out, s.announce(acc))
		}

	case format.EventFunctionArgsDelta:
		acc := s.calls[event.ItemID]
		if acc == nil {
			break
		}
		acc.args += event.Delta
		if !acc.announced {
			// Upstream held the name back; guess from the request tools.
			if name := InferToolName(acc.args, s.defs); name != "" {
				acc.name = name
				out = append(out, s.announce(acc))
			}
		}
		if acc.announced && acc.flushed < len(acc.args) {
			idx := acc.chatIndex
			out = append(out, frame(s.chunk(format.ChatDelta{
				ToolCalls: []format.ChatToolCall{{
					Index:    &idx,
					Function: format.ChatFunctionCall{Arguments: acc.args[acc.flushed:]},
				}},
			}, nil)))
			acc.flushed = len(acc.args)
		}

	case format.EventFunctionArgsDone:
		acc := s.calls[event.ItemID]
		if acc == nil {
			break
		}
		if event.Arguments != "" {
			acc.args = event.Arguments
		}

	case format.EventOutputItemDone:
		if event.Item == nil || event.Item.Type != format.OutputFunctionCall {
			break
		}
		acc := s.calls[event.Item.ID]
		if acc == nil {
			break
		}
		if event.Item.Name != "" {
			acc.name = event.Item.Name
		}
		if !acc.announced {
			// Trailing patch: the name arrives after the arguments.
			out = append(out, s.announce(acc))
		}
		if acc.flushed < len(acc.args) {
			idx := acc.chatIndex
			out = append(out, frame(s.chunk(format.ChatDelta{
				ToolCalls: []format.ChatToolCall{{
					Index:    &idx,
					Function: format.ChatFunctionCall{Arguments: acc.args[acc.flushed:]},
				}},
			}, nil)))
			acc.flushed = len(acc.args)
		}

	case format.EventOutputTextDelta:
		if event.Delta != "" {
			text := event.Delta
			out = append(out, frame(s.chunk(format.ChatDelta{Content: &text}, nil)))
		}

	case format.EventSummaryPartAdded:
		acc := &summaryAcc{}
		if event.Part != nil {
			acc.signature = event.Part.Signature
		}
		idx := 0
		if event.SummaryIndex != nil {
			idx = *event.SummaryIndex
		}
		s.summaries[summaryKey(event.ItemID, idx)] = acc

	case format.EventSummaryTextDelta:
		idx := 0
		if event.SummaryIndex != nil {
			idx = *event.SummaryIndex
		}
		if acc := s.summaries[summaryKey(event.ItemID, idx)]; acc != nil {
			acc.text += event.Delta
		}

	case format.EventSummaryTextDone:
		idx := 0
		if event.SummaryIndex != nil {
			idx = *event.SummaryIndex
		}
		key := summaryKey(event.ItemID, idx)
		acc := s.summaries[key]
		if acc == nil {
			break
		}
		delete(s.summaries, key)
		if event.Text != "" {
			acc.text = event.Text
		}
		// Reasoning is buffered per summary part so the emitted XML run
		// carries its signature on the opening tag.
		if s.thinkingXML && acc.text != "" {
			text := FormatThinking(acc.text, acc.signature)
			out = append(out, frame(s.chunk(format.ChatDelta{Content: &text}, nil)))
		}

	case format.EventResponseCompleted, format.EventResponseIncomplete, format.EventResponseFailed:
		if event.Response != nil {
			s.status = event.Response.Status
			if u := format.ChatUsageFromResponse(event.Response.Usage); u != nil {
				s.usage = u
			}
		}
		out = append(out, s.terminalEvents()...)
	}
	return out, nil
}

// announce sends the tool-call chunk that names the call.
func (s *responsesToChatStream) announce(acc *responsesCallAcc) sse.Event {
	acc.announced = true
	idx := acc.chatIndex
	return frame(s.chunk(format.ChatDelta{
		ToolCalls: []format.ChatToolCall{{
			Index:    &idx,
			ID:       acc.callID,
			Type:     "function",
			Function: format.ChatFunctionCall{Name: acc.name},
		}},
	}, nil))
}

func (s *responsesToChatStream) Finish() ([]sse.Event, error) {
	if s.finished {
		return nil, nil
	}
	return s.terminalEvents(), nil
}

func (s *responsesToChatStream) terminalEvents() []sse.Event {
	s.finished = true
	finish := "stop"
	switch {
	case s.toolEmitted:
		finish = "tool_calls"
	case s.status == format.ResponseStatusIncomplete:
		finish = "length"
	}
	final := s.chunk(format.ChatDelta{}, &finish)
	final.Usage = s.usage
	return []sse.Event{frame(final), doneFrame()}
}
