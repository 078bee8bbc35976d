package convert

import (
	"encoding/json"
	"fmt"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// chatToResponsesStream converts OpenAI Chat Completions chunks into
// Responses stream events. Inline <thinking> runs become reasoning items;
// each run is its own summary part carrying the parsed signature.
type chatToResponsesStream struct {
	em      *responsesEmitter
	defs    []ToolDef
	scanner thinkingScanner

	started bool

	// assistant message item, opened lazily on first plain text
	msg *responsesItemState

	// reasoning item for the currently open thinking run
	reasoning *responsesItemState

	tools     map[int]*responsesToolState
	toolOrder []int

	output   []format.ResponseOutputItem
	usage    *format.ChatUsage
	finish   string
	finished bool
}

type responsesToolState struct {
	itemID    string
	outputIdx int
	callID    string
	name      string
	args      string
	opened    bool
	flushed   int
}

func newChatToResponsesStream(model string, defs []ToolDef) *chatToResponsesStream {
	return &chatToResponsesStream{
		em:    newResponsesEmitter(model),
		defs:  defs,
		tools: make(map[int]*responsesToolState),
	}
}

func (s *chatToResponsesStream) Next(data []byte) ([]sse.Event, error) {
	var chunk format.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("decode chat chunk: %w", err)
	}
	var out []sse.Event

	if !s.started {
		s.started = true
		if chunk.Model != "" {
			s.em.model = chunk.Model
		}
		out = append(out, s.em.created()...)
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

func (s *chatToResponsesStream) applyThinkingDelta(d thinkingDelta) []sse.Event {
	var out []sse.Event
	zero := 0
	switch d.Kind {
	case deltaPlainText:
		if s.msg == nil {
			st := &responsesItemState{kind: format.BlockText}
			st.itemID = "msg_" + s.em.responseID[len("resp_"):]
			idx, ev := s.em.itemAdded(format.ResponseOutputItem{
				Type: format.OutputMessage, ID: st.itemID, Role: "assistant", Status: "in_progress",
			})
			st.outputIdx = idx
			s.msg = st
			out = append(out, ev)
		}
		s.msg.text += d.Text
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventOutputTextDelta,
			ItemID:       s.msg.itemID,
			OutputIndex:  &s.msg.outputIdx,
			ContentIndex: &zero,
			Delta:        d.Text,
		}))

	case deltaThinkingStart:
		st := &responsesItemState{kind: format.BlockThinking, signature: d.Signature}
		st.itemID = fmt.Sprintf("rs_%s_%d", s.em.responseID[len("resp_"):], s.em.outputIdx)
		idx, ev := s.em.itemAdded(format.ResponseOutputItem{Type: format.OutputReasoning, ID: st.itemID})
		st.outputIdx = idx
		s.reasoning = st
		out = append(out, ev, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventSummaryPartAdded,
			ItemID:       st.itemID,
			OutputIndex:  &st.outputIdx,
			SummaryIndex: &zero,
			Part:         &format.ResponseSummaryPart{Type: "summary_text"},
		}))

	case deltaThinkingText:
		if s.reasoning == nil {
			break
		}
		s.reasoning.text += d.Text
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventSummaryTextDelta,
			ItemID:       s.reasoning.itemID,
			OutputIndex:  &s.reasoning.outputIdx,
			SummaryIndex: &zero,
			Delta:        d.Text,
		}))

	case deltaThinkingEnd:
		if s.reasoning == nil {
			break
		}
		st := s.reasoning
		s.reasoning = nil
		item := format.ResponseOutputItem{
			Type: format.OutputReasoning, ID: st.itemID,
			Summary: []format.ResponseSummaryPart{{
				Type: "summary_text", Text: st.text, Signature: st.signature,
			}},
		}
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventSummaryTextDone,
			ItemID:       st.itemID,
			OutputIndex:  &st.outputIdx,
			SummaryIndex: &zero,
			Text:         st.text,
		}), s.em.itemDone(st.outputIdx, item))
		s.output = append(s.output, item)
	}
	return out
}

func (s *chatToResponsesStream) applyToolDelta(tc format.ChatToolCall) []sse.Event {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	acc, ok := s.tools[idx]
	if !ok {
		acc = &responsesToolState{}
		s.tools[idx] = acc
		s.toolOrder = append(s.toolOrder, idx)
	}
	if tc.ID != "" {
		acc.callID = tc.ID
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
		if acc.name == "" && acc.args != "" {
			return nil // undecidable yet; the name patches in at item done
		}
		out = append(out, s.openTool(acc)...)
	}
	if acc.flushed < len(acc.args) {
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:        format.EventFunctionArgsDelta,
			ItemID:      acc.itemID,
			OutputIndex: &acc.outputIdx,
			Delta:       acc.args[acc.flushed:],
		}))
		acc.flushed = len(acc.args)
	}
	return out
}

func (s *chatToResponsesStream) openTool(acc *responsesToolState) []sse.Event {
	if acc.callID == "" {
		acc.callID = newCallID()
	}
	acc.itemID = "fc_" + acc.callID
	acc.opened = true
	idx, ev := s.em.itemAdded(format.ResponseOutputItem{
		Type: format.OutputFunctionCall, ID: acc.itemID,
		CallID: acc.callID, Name: acc.name, Status: "in_progress",
	})
	acc.outputIdx = idx
	return []sse.Event{ev}
}

func (s *chatToResponsesStream) Finish() ([]sse.Event, error) {
	if s.finished {
		return nil, nil
	}
	s.finished = true
	var out []sse.Event
	for _, d := range s.scanner.Flush() {
		out = append(out, s.applyThinkingDelta(d)...)
	}

	zero := 0
	if s.msg != nil {
		item := format.ResponseOutputItem{
			Type: format.OutputMessage, ID: s.msg.itemID, Role: "assistant", Status: "completed",
			Content: []format.ResponseContentPart{{Type: "output_text", Text: s.msg.text}},
		}
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:         format.EventOutputTextDone,
			ItemID:       s.msg.itemID,
			OutputIndex:  &s.msg.outputIdx,
			ContentIndex: &zero,
			Text:         s.msg.text,
		}), s.em.itemDone(s.msg.outputIdx, item))
		s.output = append(s.output, item)
	}

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
				out = append(out, s.em.emit(format.ResponseStreamEvent{
					Type:        format.EventFunctionArgsDelta,
					ItemID:      acc.itemID,
					OutputIndex: &acc.outputIdx,
					Delta:       acc.args[acc.flushed:],
				}))
				acc.flushed = len(acc.args)
			}
		}
		args := acc.args
		if args == "" {
			args = "{}"
		}
		item := format.ResponseOutputItem{
			Type: format.OutputFunctionCall, ID: acc.itemID,
			CallID: acc.callID, Name: acc.name, Args: args, Status: "completed",
		}
		// The done events carry the final name even when it was unknown
		// while the arguments streamed.
		out = append(out, s.em.emit(format.ResponseStreamEvent{
			Type:        format.EventFunctionArgsDone,
			ItemID:      acc.itemID,
			OutputIndex: &acc.outputIdx,
			Arguments:   args,
		}), s.em.itemDone(acc.outputIdx, item))
		s.output = append(s.output, item)
	}

	status := format.ResponseStatusCompleted
	if s.finish == "length" && !toolEmitted {
		status = format.ResponseStatusIncomplete
	}
	out = append(out, s.em.terminal(status, s.output, format.ResponseUsageFromChat(s.usage)))
	return out, nil
}
