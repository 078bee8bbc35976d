package convert

import (
	"encoding/json"
	"fmt"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// responsesToAnthropicStream converts Responses stream events into Anthropic
// Messages stream events.
type responsesToAnthropicStream struct {
	msgID string
	model string
	defs  []ToolDef

	started  bool
	blockIdx int

	// open text block index, -1 when none
	textBlock int

	// tool blocks keyed by Responses item id
	toolBlocks map[string]*anthropicToolBlock

	// thinking blocks keyed by item id + summary index
	thinkingBlocks map[string]*anthropicThinkingBlock

	toolEmitted bool
	usage       *format.ResponseUsage
	status      string
	finished    bool
}

type anthropicToolBlock struct {
	index  int
	opened bool
	callID string
	name   string
	args   string
}

type anthropicThinkingBlock struct {
	index     int
	signature string
}

func newResponsesToAnthropicStream(model string, defs []ToolDef) *responsesToAnthropicStream {
	return &responsesToAnthropicStream{
		msgID:          newMessageID(),
		model:          model,
		defs:           defs,
		textBlock:      -1,
		toolBlocks:     make(map[string]*anthropicToolBlock),
		thinkingBlocks: make(map[string]*anthropicThinkingBlock),
	}
}

func (s *responsesToAnthropicStream) Next(data []byte) ([]sse.Event, error) {
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
			out = append(out, frame(format.AnthropicStreamEvent{
				Type: format.EventMessageStart,
				Message: &format.MessageResponse{
					ID: s.msgID, Type: "message", Role: "assistant", Model: s.model,
					Content: []format.ContentBlock{},
				},
			}))
		}

	case format.EventOutputItemAdded:
		if event.Item == nil || event.Item.Type != format.OutputFunctionCall {
			break
		}
		callID := event.Item.CallID
		if callID == "" {
			callID = newCallID()
		}
		blk := &anthropicToolBlock{callID: callID, name: event.Item.Name}
		s.toolBlocks[event.Item.ID] = blk
		s.toolEmitted = true
		if blk.name != "" {
			out = append(out, s.openTool(blk)...)
		}

	case format.EventFunctionArgsDelta:
		blk := s.toolBlocks[event.ItemID]
		if blk == nil {
			break
		}
		blk.args += event.Delta
		if !blk.opened {
			if name := InferToolName(blk.args, s.defs); name != "" {
				blk.name = name
				out = append(out, s.openTool(blk)...)
				out = append(out, s.flushArgs(blk, blk.args)...)
			}
			break
		}
		out = append(out, s.flushArgs(blk, event.Delta)...)

	case format.EventFunctionArgsDone:
		blk := s.toolBlocks[event.ItemID]
		if blk == nil {
			break
		}
		if event.Arguments != "" && !blk.opened {
			blk.args = event.Arguments
		}

	case format.EventOutputItemDone:
		if event.Item == nil {
			break
		}
		switch event.Item.Type {
		case format.OutputFunctionCall:
			blk := s.toolBlocks[event.Item.ID]
			if blk == nil {
				break
			}
			if !blk.opened {
				if event.Item.Name != "" {
					blk.name = event.Item.Name
				}
				out = append(out, s.openTool(blk)...)
				out = append(out, s.flushArgs(blk, blk.args)...)
			}
			out = append(out, frame(format.AnthropicStreamEvent{
				Type: format.EventContentBlockStop, Index: blk.index,
			}))
			delete(s.toolBlocks, event.Item.ID)
		case format.OutputMessage:
			out = append(out, s.closeText()...)
		}

	case format.EventOutputTextDelta:
		if event.Delta == "" {
			break
		}
		if s.textBlock == -1 {
			s.textBlock = s.blockIdx
			s.blockIdx++
			out = append(out, frame(format.AnthropicStreamEvent{
				Type:         format.EventContentBlockStart,
				Index:        s.textBlock,
				ContentBlock: &format.ContentBlock{Type: format.BlockText},
			}))
		}
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockDelta,
			Index: s.textBlock,
			Delta: &format.AnthropicDelta{Type: format.DeltaText, Text: event.Delta},
		}))

	case format.EventSummaryPartAdded:
		out = append(out, s.closeText()...)
		blk := &anthropicThinkingBlock{index: s.blockIdx}
		s.blockIdx++
		if event.Part != nil {
			blk.signature = event.Part.Signature
		}
		idx := 0
		if event.SummaryIndex != nil {
			idx = *event.SummaryIndex
		}
		s.thinkingBlocks[summaryKey(event.ItemID, idx)] = blk
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:         format.EventContentBlockStart,
			Index:        blk.index,
			ContentBlock: &format.ContentBlock{Type: format.BlockThinking},
		}))

	case format.EventSummaryTextDelta:
		idx := 0
		if event.SummaryIndex != nil {
			idx = *event.SummaryIndex
		}
		blk := s.thinkingBlocks[summaryKey(event.ItemID, idx)]
		if blk == nil || event.Delta == "" {
			break
		}
		out = append(out, frame(format.AnthropicStreamEvent{
			Type:  format.EventContentBlockDelta,
			Index: blk.index,
			Delta: &format.AnthropicDelta{Type: format.DeltaThinking, Thinking: event.Delta},
		}))

	case format.EventSummaryTextDone:
		idx := 0
		if event.SummaryIndex != nil {
			idx = *event.SummaryIndex
		}
		key := summaryKey(event.ItemID, idx)
		blk := s.thinkingBlocks[key]
		if blk == nil {
			break
		}
		delete(s.thinkingBlocks, key)
		if blk.signature != "" {
			out = append(out, frame(format.AnthropicStreamEvent{
				Type:  format.EventContentBlockDelta,
				Index: blk.index,
				Delta: &format.AnthropicDelta{Type: format.DeltaSignature, Signature: blk.signature},
			}))
		}
		out = append(out, frame(format.AnthropicStreamEvent{
			Type: format.EventContentBlockStop, Index: blk.index,
		}))

	case format.EventResponseCompleted, format.EventResponseIncomplete, format.EventResponseFailed:
		if event.Response != nil {
			s.status = event.Response.Status
			if event.Response.Usage != nil {
				s.usage = event.Response.Usage
			}
		}
		out = append(out, s.terminalEvents()...)
	}
	return out, nil
}

func (s *responsesToAnthropicStream) openTool(blk *anthropicToolBlock) []sse.Event {
	out := s.closeText()
	blk.opened = true
	blk.index = s.blockIdx
	s.blockIdx++
	out = append(out, frame(format.AnthropicStreamEvent{
		Type:  format.EventContentBlockStart,
		Index: blk.index,
		ContentBlock: &format.ContentBlock{
			Type: format.BlockToolUse, ID: blk.callID, Name: blk.name,
			Input: json.RawMessage("{}"),
		},
	}))
	return out
}

func (s *responsesToAnthropicStream) flushArgs(blk *anthropicToolBlock, delta string) []sse.Event {
	if delta == "" {
		return nil
	}
	return []sse.Event{frame(format.AnthropicStreamEvent{
		Type:  format.EventContentBlockDelta,
		Index: blk.index,
		Delta: &format.AnthropicDelta{Type: format.DeltaInputJSON, PartialJSON: delta},
	})}
}

func (s *responsesToAnthropicStream) closeText() []sse.Event {
	if s.textBlock == -1 {
		return nil
	}
	idx := s.textBlock
	s.textBlock = -1
	return []sse.Event{frame(format.AnthropicStreamEvent{
		Type: format.EventContentBlockStop, Index: idx,
	})}
}

func (s *responsesToAnthropicStream) Finish() ([]sse.Event, error) {
	if s.finished {
		return nil, nil
	}
	return s.terminalEvents(), nil
}

func (s *responsesToAnthropicStream) terminalEvents() []sse.Event {
	s.finished = true
	var out []sse.Event
	out = append(out, s.closeText()...)
	for id, blk := range s.toolBlocks {
		if !blk.opened {
			out = append(out, s.openTool(blk)...)
			out = append(out, s.flushArgs(blk, blk.args)...)
		}
		out = append(out, frame(format.AnthropicStreamEvent{
			Type: format.EventContentBlockStop, Index: blk.index,
		}))
		delete(s.toolBlocks, id)
	}
	stop := "end_turn"
	switch {
	case s.toolEmitted:
		stop = "tool_use"
	case s.status == format.ResponseStatusIncomplete:
		stop = "max_tokens"
	}
	usage := format.AnthropicUsageFromResponse(s.usage)
	out = append(out, frame(format.AnthropicStreamEvent{
		Type:  format.EventMessageDelta,
		Delta: &format.AnthropicDelta{StopReason: stop},
		Usage: &usage,
	}))
	out = append(out, frame(format.AnthropicStreamEvent{Type: format.EventMessageStop}))
	return out
}
