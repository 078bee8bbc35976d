package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// anthropicToChatStream converts Anthropic Messages stream events into
// OpenAI Chat Completions chunks.
type anthropicToChatStream struct {
	chatID  string
	created int64
	model   string

	thinkingXML bool

	// per-block state, keyed by Anthropic block index
	blocks map[int]*anthropicBlockState

	toolIndex   int // next Chat tool_calls index
	toolEmitted bool

	usage      *format.ChatUsage
	stopReason string
	finished   bool
}

type anthropicBlockState struct {
	kind      string // text | thinking | tool_use
	toolIndex int
	thinking  string
	signature string
}

func newAnthropicToChatStream(model string) *anthropicToChatStream {
	return &anthropicToChatStream{
		chatID:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		created:     time.Now().Unix(),
		model:       model,
		thinkingXML: ThinkingXMLEnabled(),
		blocks:      make(map[int]*anthropicBlockState),
	}
}

func (s *anthropicToChatStream) chunk(delta format.ChatDelta, finish *string) format.ChatCompletionChunk {
	return format.ChatCompletionChunk{
		ID:      s.chatID,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []format.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (s *anthropicToChatStream) contentChunk(text string) format.ChatCompletionChunk {
	return s.chunk(format.ChatDelta{Content: &text}, nil)
}

func (s *anthropicToChatStream) Next(data []byte) ([]sse.Event, error) {
	var event format.AnthropicStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode anthropic stream event: %w", err)
	}

	var out []sse.Event
	switch event.Type {
	case format.EventMessageStart:
		if event.Message != nil {
			if event.Message.Model != "" {
				s.model = event.Message.Model
			}
			s.usage = format.ChatUsageFromAnthropic(event.Message.Usage)
		}
		// The first chunk carries role:"assistant" exactly once.
		out = append(out, frame(s.chunk(format.ChatDelta{Role: "assistant"}, nil)))

	case format.EventContentBlockStart:
		if event.ContentBlock == nil {
			break
		}
		st := &anthropicBlockState{kind: event.ContentBlock.Type}
		s.blocks[event.Index] = st
		if event.ContentBlock.Type == format.BlockToolUse {
			st.toolIndex = s.toolIndex
			s.toolIndex++
			s.toolEmitted = true
			idx := st.toolIndex
			out = append(out, frame(s.chunk(format.ChatDelta{
				ToolCalls: []format.ChatToolCall{{
					Index: &idx,
					ID:    event.ContentBlock.ID,
					Type:  "function",
					Function: format.ChatFunctionCall{
						Name: event.ContentBlock.Name,
					},
				}},
			}, nil)))
		}

	case format.EventContentBlockDelta:
		st := s.blocks[event.Index]
		if event.Delta == nil || st == nil {
			break
		}
		switch event.Delta.Type {
		case format.DeltaText:
			if event.Delta.Text != "" {
				out = append(out, frame(s.contentChunk(event.Delta.Text)))
			}
		case format.DeltaThinking:
			st.thinking += event.Delta.Thinking
		case format.DeltaSignature:
			st.signature += event.Delta.Signature
		case format.DeltaInputJSON:
			if event.Delta.PartialJSON != "" {
				idx := st.toolIndex
				out = append(out, frame(s.chunk(format.ChatDelta{
					ToolCalls: []format.ChatToolCall{{
						Index:    &idx,
						Function: format.ChatFunctionCall{Arguments: event.Delta.PartialJSON},
					}},
				}, nil)))
			}
		}

	case format.EventContentBlockStop:
		// Thinking is buffered until the signature is known, so the emitted
		// XML run always carries its signature attribute.
		st := s.blocks[event.Index]
		if st != nil && st.kind == format.BlockThinking && s.thinkingXML && st.thinking != "" {
			out = append(out, frame(s.contentChunk(FormatThinking(st.thinking, st.signature))))
		}
		delete(s.blocks, event.Index)

	case format.EventMessageDelta:
		if event.Delta != nil && event.Delta.StopReason != "" {
			s.stopReason = event.Delta.StopReason
		}
		if event.Usage != nil {
			u := format.ChatUsageFromAnthropic(*event.Usage)
			if s.usage != nil && u.PromptTokens == 0 {
				u.PromptTokens = s.usage.PromptTokens
				u.TotalTokens = u.PromptTokens + u.CompletionTokens
			}
			s.usage = u
		}

	case format.EventMessageStop:
		out = append(out, s.terminalEvents()...)
	}
	return out, nil
}

func (s *anthropicToChatStream) Finish() ([]sse.Event, error) {
	if s.finished {
		return nil, nil
	}
	return s.terminalEvents(), nil
}

// terminalEvents emits the finish-reason chunk with the single usage record,
// then the [DONE] terminator.
func (s *anthropicToChatStream) terminalEvents() []sse.Event {
	s.finished = true
	finish := chatFinishFromAnthropic(s.stopReason)
	if s.toolEmitted {
		finish = "tool_calls"
	}
	final := s.chunk(format.ChatDelta{}, &finish)
	final.Usage = s.usage
	return []sse.Event{frame(final), doneFrame()}
}
