package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// responsesEmitter centralizes Responses-sink event construction so every
// frame carries a strictly increasing, contiguous sequence_number.
type responsesEmitter struct {
	seq        int64
	responseID string
	model      string
	createdAt  int64
	outputIdx  int
}

func newResponsesEmitter(model string) *responsesEmitter {
	return &responsesEmitter{
		responseID: newResponseID(),
		model:      model,
		createdAt:  time.Now().Unix(),
	}
}

func (e *responsesEmitter) emit(ev format.ResponseStreamEvent) sse.Event {
	e.seq++
	ev.SequenceNumber = e.seq
	return frame(ev)
}

// snapshot builds the response object carried by lifecycle events.
func (e *responsesEmitter) snapshot(status string, output []format.ResponseOutputItem, usage *format.ResponseUsage) *format.ResponseObject {
	obj := &format.ResponseObject{
		ID:        e.responseID,
		Object:    "response",
		CreatedAt: e.createdAt,
		Status:    status,
		Model:     e.model,
		Output:    output,
		Usage:     usage,
	}
	if output == nil {
		obj.Output = []format.ResponseOutputItem{}
	}
	return obj
}

func (e *responsesEmitter) created() []sse.Event {
	return []sse.Event{
		e.emit(format.ResponseStreamEvent{
			Type:     format.EventResponseCreated,
			Response: e.snapshot(format.ResponseStatusInProgress, nil, nil),
		}),
		e.emit(format.ResponseStreamEvent{
			Type:     format.EventResponseInProgress,
			Response: e.snapshot(format.ResponseStatusInProgress, nil, nil),
		}),
	}
}

func (e *responsesEmitter) itemAdded(item format.ResponseOutputItem) (int, sse.Event) {
	idx := e.outputIdx
	e.outputIdx++
	return idx, e.emit(format.ResponseStreamEvent{
		Type:        format.EventOutputItemAdded,
		OutputIndex: &idx,
		Item:        &item,
	})
}

func (e *responsesEmitter) itemDone(idx int, item format.ResponseOutputItem) sse.Event {
	return e.emit(format.ResponseStreamEvent{
		Type:        format.EventOutputItemDone,
		OutputIndex: &idx,
		Item:        &item,
	})
}

func (e *responsesEmitter) terminal(status string, output []format.ResponseOutputItem, usage *format.ResponseUsage) sse.Event {
	typ := format.EventResponseCompleted
	switch status {
	case format.ResponseStatusIncomplete:
		typ = format.EventResponseIncomplete
	case format.ResponseStatusFailed:
		typ = format.EventResponseFailed
	}
	return e.emit(format.ResponseStreamEvent{
		Type:     typ,
		Response: e.snapshot(status, output, usage),
	})
}

// =============================================
// Anthropic -> Responses stream
// =============================================

// anthropicToResponsesStream converts Anthropic stream events into Responses
// stream events.
type anthropicToResponsesStream struct {
	em *responsesEmitter

	// per-source-block state keyed by Anthropic block index
	blocks map[int]*responsesItemState

	output     []format.ResponseOutputItem
	usage      *format.ResponseUsage
	stopReason string
	finished   bool
}

type responsesItemState struct {
	kind      string // text | thinking | tool_use
	outputIdx int
	itemID    string
	callID    string
	name      string
	text      string
	args      string
	signature string
	sumIndex  int
}

func newAnthropicToResponsesStream(model string) *anthropicToResponsesStream {
	return &anthropicToResponsesStream{
		em:     newResponsesEmitter(model),
		blocks: make(map[int]*responsesItemState),
	}
}

func (s *anthropicToResponsesStream) Next(data []byte) ([]sse.Event, error) {
	var event format.AnthropicStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode anthropic stream event: %w", err)
	}

	var out []sse.Event
	switch event.Type {
	case format.EventMessageStart:
		if event.Message != nil {
			if event.Message.Model != "" {
				s.em.model = event.Message.Model
			}
			s.usage = format.ResponseUsageFromAnthropic(event.Message.Usage)
		}
		out = append(out, s.em.created()...)

	case format.EventContentBlockStart:
		if event.ContentBlock == nil {
			break
		}
		st := &responsesItemState{kind: event.ContentBlock.Type}
		s.blocks[event.Index] = st
		switch event.ContentBlock.Type {
		case format.BlockText:
			st.itemID = "msg_" + s.em.responseID[len("resp_"):]
			item := format.ResponseOutputItem{
				Type: format.OutputMessage, ID: st.itemID, Role: "assistant", Status: "in_progress",
			}
			idx, ev := s.em.itemAdded(item)
			st.outputIdx = idx
			out = append(out, ev)

		case format.BlockThinking:
			st.itemID = "rs_" + s.em.responseID[len("resp_"):]
			item := format.ResponseOutputItem{Type: format.OutputReasoning, ID: st.itemID}
			idx, ev := s.em.itemAdded(item)
			st.outputIdx = idx
			zero := 0
			out = append(out, ev, s.em.emit(format.ResponseStreamEvent{
				Type:         format.EventSummaryPartAdded,
				ItemID:       st.itemID,
				OutputIndex:  &st.outputIdx,
				SummaryIndex: &zero,
				Part:         &format.ResponseSummaryPart{Type: "summary_text"},
			}))

		case format.BlockToolUse:
			st.callID = event.ContentBlock.ID
			st.name = event.ContentBlock.Name
			st.itemID = "fc_" + st.callID
			item := format.ResponseOutputItem{
				Type: format.OutputFunctionCall, ID: st.itemID,
				CallID: st.callID, Name: st.name, Status: "in_progress",
			}
			idx, ev := s.em.itemAdded(item)
			st.outputIdx = idx
			out = append(out, ev)
		}

	case format.EventContentBlockDelta:
		st := s.blocks[event.Index]
		if st == nil || event.Delta == nil {
			break
		}
		switch event.Delta.Type {
		case format.DeltaText:
			st.text += event.Delta.Text
			zero := 0
			out = append(out, s.em.emit(format.ResponseStreamEvent{
				Type:         format.EventOutputTextDelta,
				ItemID:       st.itemID,
				OutputIndex:  &st.outputIdx,
				ContentIndex: &zero,
				Delta:        event.Delta.Text,
			}))
		case format.DeltaThinking:
			st.text += event.Delta.Thinking
			zero := 0
			out = append(out, s.em.emit(format.ResponseStreamEvent{
				Type:         format.EventSummaryTextDelta,
				ItemID:       st.itemID,
				OutputIndex:  &st.outputIdx,
				SummaryIndex: &zero,
				Delta:        event.Delta.Thinking,
			}))
		case format.DeltaSignature:
			st.signature += event.Delta.Signature
		case format.DeltaInputJSON:
			st.args += event.Delta.PartialJSON
			out = append(out, s.em.emit(format.ResponseStreamEvent{
				Type:        format.EventFunctionArgsDelta,
				ItemID:      st.itemID,
				OutputIndex: &st.outputIdx,
				Delta:       event.Delta.PartialJSON,
			}))
		}

	case format.EventContentBlockStop:
		st := s.blocks[event.Index]
		if st == nil {
			break
		}
		out = append(out, s.closeBlock(st)...)
		delete(s.blocks, event.Index)

	case format.EventMessageDelta:
		if event.Delta != nil && event.Delta.StopReason != "" {
			s.stopReason = event.Delta.StopReason
		}
		if event.Usage != nil {
			u := format.ResponseUsageFromAnthropic(*event.Usage)
			if s.usage != nil && u.InputTokens == 0 {
				u.InputTokens = s.usage.InputTokens
				u.TotalTokens = u.InputTokens + u.OutputTokens
			}
			s.usage = u
		}

	case format.EventMessageStop:
		out = append(out, s.terminalEvents()...)
	}
	return out, nil
}

// closeBlock finishes the output item backing an Anthropic content block.
func (s *anthropicToResponsesStream) closeBlock(st *responsesItemState) []sse.Event {
	var out []sse.Event
	zero := 0
	switch st.kind {
	case format.BlockText:
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventOutputTextDone,
			ItemID:       st.itemID,
			OutputIndex:  &st.outputIdx,
			ContentIndex: &zero,
			Text:         st.text,
		}))
		item := format.ResponseOutputItem{
			Type: format.OutputMessage, ID: st.itemID, Role: "assistant", Status: "completed",
			Content: []format.ResponseContentPart{{Type: "output_text", Text: st.text}},
		}
		out = append(out, s.em.itemDone(st.outputIdx, item))
		s.output = append(s.output, item)

	case format.BlockThinking:
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventSummaryTextDone,
			ItemID:       st.itemID,
			OutputIndex:  &st.outputIdx,
			SummaryIndex: &zero,
			Text:         st.text,
		}))
		item := format.ResponseOutputItem{
			Type: format.OutputReasoning, ID: st.itemID,
			Summary: []format.ResponseSummaryPart{{Type: "summary_text", Text: st.text, Signature: st.signature}},
		}
		out = append(out, s.em.itemDone(st.outputIdx, item))
		s.output = append(s.output, item)

	case format.BlockToolUse:
		args := st.args
		if args == "" {
			args = "{}"
		}
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:        format.EventFunctionArgsDone,
			ItemID:      st.itemID,
			OutputIndex: &st.outputIdx,
			Arguments:   args,
		}))
		item := format.ResponseOutputItem{
			Type: format.OutputFunctionCall, ID: st.itemID,
			CallID: st.callID, Name: st.name, Args: args, Status: "completed",
		}
		out = append(out, s.em.itemDone(st.outputIdx, item))
		s.output = append(s.output, item)
	}
	return out
}

func (s *anthropicToResponsesStream) Finish() ([]sse.Event, error) {
	if s.finished {
		return nil, nil
	}
	return s.terminalEvents(), nil
}

func (s *anthropicToResponsesStream) terminalEvents() []sse.Event {
	s.finished = true
	var out []sse.Event
	// Close any blocks the upstream never stopped.
	for idx, st := range s.blocks {
		out = append(out, s.closeBlock(st)...)
		delete(s.blocks, idx)
	}
	status := format.ResponseStatusCompleted
	if s.stopReason == "max_tokens" {
		status = format.ResponseStatusIncomplete
	}
	out = append(out, s.em.terminal(status, s.output, s.usage))
	return out
}
