package convert

import (
	"encoding/json"
	"fmt"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// chatToAnthropicStream converts OpenAI Chat Completions chunks into
// Anthropic Messages stream events. Inline <thinking> runs in the content
// stream are re-parsed into thinking blocks, tolerating tags split across
// chunks.
type chatToAnthropicStream struct {
	msgID string
	model string
	defs  []ToolDef

	started  bool
	scanner  thinkingScanner
	blockIdx int

	// current open content block, nil when none
	cur *anthropicSinkBlock

	// tool accumulators keyed by the source tool_calls index
	tools     map[int]*chatToolAcc
	toolOrder []int

	usage    *format.ChatUsage
	finish   string
	finished bool
}

type anthropicSinkBlock struct {
	index     int
	kind      string // text | thinking
	signature string
}

type chatToolAcc struct {
	id       string
	name     string
	args     string
	opened   bool
	blockIdx int
	flushed  int // bytes of args already emitted as input_json_delta
}

func newChatToAnthropicStream(model string, defs []ToolDef) *chatToAnthropicStream {
	return &chatToAnthropicStream{
		msgID: newMessageID(),
		model: model,
		defs:  defs,
		tools: make(map[int]*chatToolAcc),
	}
}

func (s *chatToAnthropicStream) Next(data []byte) ([]sse.Event, error) {
	var chunk format.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("decode chat chunk: %w", err)
	}
	var out []sse.Event

	if !s.started {
		s.started = true
		if chunk.Model != "" {
			s.model = chunk.Model
		}
		out = append(out, frame(format.AnthropicStreamEvent{
			Type: format.EventMessageStart,
			Message: &format.MessageResponse{
				ID: s.msgID, Type: "message", Role: "assistant", Model: s.model,
				Content: []format.ContentBlock{},
			},
		}))
	}
	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			for _, d := range s.scanner.Feed(*choice.Delta.Content) {
				out = append(out, s.applyThinkingDelta(d)...)
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			out = append(out, s.applyToolDelta(tc)...)
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.finish = *choice.FinishReason
		}
	}
	return out, nil
}

// applyThinkingDelta routes one scanner delta into sink events.
func (s *chatToAnthropicStream) applyThinkingDelta(d thinkingDelta) []sse.Event {
	var out []sse.Event
	switch d.Kind {
	case deltaPlainText:
		out = append(out, s.ensureBlock(format.BlockText, "")...)
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockDelta,
			Index: s.cur.index,
			Delta: &format.AnthropicDelta{Type: format.DeltaText, Text: d.Text},
		}))
	case deltaThinkingStart:
		out = append(out, s.closeBlock()...)
		out = append(out, s.ensureBlock(format.BlockThinking, d.Signature)...)
	case deltaThinkingText:
		out = append(out, s.ensureBlock(format.BlockThinking, "")...)
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockDelta,
			Index: s.cur.index,
			Delta: &format.AnthropicDelta{Type: format.DeltaThinking, Thinking: d.Text},
		}))
	case deltaThinkingEnd:
		out = append(out, s.closeBlock()...)
	}
	return out
}

// ensureBlock opens a content block of the wanted kind if none is open.
func (s *chatToAnthropicStream) ensureBlock(kind, signature string) []sse.Event {
	if s.cur != nil && s.cur.kind == kind {
		return nil
	}
	out := s.closeBlock()
	s.cur = &anthropicSinkBlock{index: s.blockIdx, kind: kind, signature: signature}
	s.blockIdx++
	block := format.ContentBlock{Type: kind}
	out = append(out, frame(format.AnthropicStreamEvent{
		Type:         format.EventContentBlockStart,
		Index:        s.cur.index,
		ContentBlock: &block,
	}))
	return out
}

// closeBlock stops the open text/thinking block; a thinking block flushes
// its signature first.
func (s *chatToAnthropicStream) closeBlock() []sse.Event {
	if s.cur == nil {
		return nil
	}
	var out []sse.Event
	if s.cur.kind == format.BlockThinking && s.cur.signature != "" {
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockDelta,
			Index: s.cur.index,
			Delta: &format.AnthropicDelta{Type: format.DeltaSignature, Signature: s.cur.signature},
		}))
	}
	out = append(out, frame(format.AnthropicStreamEvent{
		Type:  format.EventContentBlockStop,
		Index: s.cur.index,
	}))
	s.cur = nil
	return out
}

// applyToolDelta accumulates a streamed tool call. The tool_use block opens
// as soon as the name is known, either from upstream or inferred from the
// recorded tool definitions; argument bytes buffered before that point are
// replayed once it opens.
func (s *chatToAnthropicStream) applyToolDelta(tc format.ChatToolCall) []sse.Event {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	acc, ok := s.tools[idx]
	if !ok {
		acc = &chatToolAcc{}
		s.tools[idx] = acc
		s.toolOrder = append(s.toolOrder, idx)
	}
	if tc.ID != "" {
		acc.id = tc.ID
	}
	if tc.Function.Name != "" {
		acc.name = tc.Function.Name
	}
	acc.args += tc.Function.Arguments

	var out []sse.Event
	if !acc.opened {
		if acc.name == "" {
			acc.name = InferToolName(acc.args, s.defs)
		}
		if acc.name == "" {
			return nil // keep buffering until the name is decidable
		}
		out = append(out, s.openTool(acc)...)
	}
	if acc.flushed < len(acc.args) {
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockDelta,
			Index: acc.blockIdx,
			Delta: &format.AnthropicDelta{Type: format.DeltaInputJSON, PartialJSON: acc.args[acc.flushed:]},
		}))
		acc.flushed = len(acc.args)
	}
	return out
}

func (s *chatToAnthropicStream) openTool(acc *chatToolAcc) []sse.Event {
	out := s.closeBlock()
	if acc.id == "" {
		acc.id = newCallID()
	}
	acc.opened = true
	acc.blockIdx = s.blockIdx
	s.blockIdx++
	out = append(out, frame(format.AnthropicStreamEvent{
		Type:  format.EventContentBlockStart,
		Index: acc.blockIdx,
		ContentBlock: &format.ContentBlock{
			Type: format.BlockToolUse, ID: acc.id, Name: acc.name,
			Input: json.RawMessage("{}"),
		},
	}))
	return out
}

func (s *chatToAnthropicStream) Finish() ([]sse.Event, error) {
	if s.finished {
		return nil, nil
	}
	s.finished = true
	var out []sse.Event
	for _, d := range s.scanner.Flush() {
		out = append(out, s.applyThinkingDelta(d)...)
	}
	out = append(out, s.closeBlock()...)

	// Flush tool calls that never resolved a name mid-stream.
	toolEmitted := false
	for _, idx := range s.toolOrder {
		acc := s.tools[idx]
		toolEmitted = true
		if !acc.opened {
			if acc.name == "" {
				acc.name = InferToolName(acc.args, s.defs)
			}
			out = append(out, s.openTool(acc)...)
			if acc.flushed < len(acc.args) {
				out = append(out, frame(format.AnthropicStreamEvent{
					Type:  format.EventContentBlockDelta,
					Index: acc.blockIdx,
					Delta: &format.AnthropicDelta{Type: format.DeltaInputJSON, PartialJSON: acc.args[acc.flushed:]},
				}))
				acc.flushed = len(acc.args)
			}
		}
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockStop,
			Index: acc.blockIdx,
		}))
	}

	stop := anthropicStopFromChat(s.finish)
	if toolEmitted {
		stop = "tool_use"
	}
	usage := format.AnthropicUsageFromChat(s.usage)
	out = append(out, frame(format.AnthropicStreamEvent{
		Type:  format.EventMessageDelta,
		Delta: &format.AnthropicDelta{StopReason: stop},
		Usage: &usage,
	}))
	out = append(out, frame(format.AnthropicStreamEvent{Type: format.EventMessageStop}))
	return out, nil
}
