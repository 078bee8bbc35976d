package convert

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// StreamConverter is the per-request state machine that turns decoded
// upstream SSE payloads into sink-format frames. Instances are single-owner
// per request and never shared.
//
// Next is called once per upstream JSON payload; Finish once when the
// upstream closes, to flush accumulated state and emit terminal frames.
type StreamConverter interface {
	Next(data []byte) ([]sse.Event, error)
	Finish() ([]sse.Event, error)
}

// NewStreamConverter builds the state machine for a source/sink pair.
// clientReq is the parsed client request, used to capture tool definitions
// for mid-stream tool-name inference and the model id for echo-back.
func NewStreamConverter(source, sink format.Name, clientReq any) (StreamConverter, error) {
	model, defs := requestMeta(clientReq)
	if source == sink {
		return &passthroughStream{}, nil
	}
	switch {
	case source == format.Anthropic && sink == format.Chat:
		return newAnthropicToChatStream(model), nil
	case source == format.Anthropic && sink == format.Responses:
		return newAnthropicToResponsesStream(model), nil
	case source == format.Chat && sink == format.Anthropic:
		return newChatToAnthropicStream(model, defs), nil
	case source == format.Chat && sink == format.Responses:
		return newChatToResponsesStream(model, defs), nil
	case source == format.Responses && sink == format.Chat:
		return newResponsesToChatStream(model, defs), nil
	case source == format.Responses && sink == format.Anthropic:
		return newResponsesToAnthropicStream(model, defs), nil
	}
	return nil, fmt.Errorf("no stream converter for %s -> %s", source, sink)
}

// requestMeta pulls the model and tool definitions out of whichever request
// type the dispatcher parsed.
func requestMeta(clientReq any) (string, []ToolDef) {
	switch req := clientReq.(type) {
	case *format.ChatCompletionRequest:
		return req.Model, ToolDefsFromChat(req)
	case *format.CreateMessageRequest:
		return req.Model, ToolDefsFromAnthropic(req)
	case *format.ResponseRequest:
		return req.Model, ToolDefsFromResponses(req)
	}
	return "", nil
}

// ErrorPayload extracts a mid-stream error object, if data carries one.
// Returns the canonical single-frame error body or nil.
func ErrorPayload(data []byte) []byte {
	v := gjson.ParseBytes(data)
	if v.Get("type").String() == "error" && v.Get("error").Exists() {
		out, _ := json.Marshal(map[string]any{"error": json.RawMessage(v.Get("error").Raw)})
		return out
	}
	if e := v.Get("error"); e.IsObject() && e.Get("message").Exists() {
		return data
	}
	return nil
}

// frame marshals v into an SSE event, deriving the event name from the
// payload discriminator.
func frame(v any) sse.Event {
	data, err := json.Marshal(v)
	if err != nil {
		// Marshal of our own typed structs cannot fail in practice.
		data = []byte(`{}`)
	}
	return sse.Event{Name: sse.EventNameFor(data), Data: data}
}

// doneFrame is the OpenAI [DONE] terminator frame.
func doneFrame() sse.Event {
	return sse.Event{Data: []byte(sse.Done)}
}

// passthroughStream forwards source frames untouched when client and
// upstream speak the same format.
type passthroughStream struct {
	done bool
}

func (p *passthroughStream) Next(data []byte) ([]sse.Event, error) {
	return []sse.Event{{Name: sse.EventNameFor(data), Data: data}}, nil
}

func (p *passthroughStream) Finish() ([]sse.Event, error) {
	return nil, nil
}
