package sse

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// WriteEvent serializes one frame. A non-empty name produces an `event:`
// line ahead of the data line.
func WriteEvent(w io.Writer, name string, data []byte) error {
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// WriteJSON marshals v and writes it as a frame. When v carries a "type"
// discriminator that names a stream event (Anthropic and Responses shapes),
// the discriminator becomes the event name; OpenAI Chat chunks go out as
// bare data frames.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteEvent(w, EventNameFor(data), data)
}

// WriteDone emits the OpenAI terminator frame.
func WriteDone(w io.Writer) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", Done)
	return err
}

// EventNameFor inspects a JSON payload and returns the SSE event name it
// should travel under: the "type" value for Anthropic events and for
// Responses events (type starts with "response."), empty otherwise.
func EventNameFor(data []byte) string {
	typ := gjson.GetBytes(data, "type").String()
	if typ == "" {
		return ""
	}
	if len(typ) > len("response.") && typ[:len("response.")] == "response." {
		return typ
	}
	switch typ {
	case "message_start", "content_block_start", "content_block_delta",
		"content_block_stop", "message_delta", "message_stop", "ping", "error":
		return typ
	}
	return ""
}

// Frame renders a single frame to a byte slice, used where the pipeline
// needs the serialized length for accounting before writing.
func Frame(name string, data []byte) []byte {
	var out []byte
	if name != "" {
		out = append(out, "event: "...)
		out = append(out, name...)
		out = append(out, '\n')
	}
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
