package format

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Content block discriminators.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
	BlockImage      = "image"
)

// ContentBlock is the tagged union over Anthropic content block kinds.
// Exactly the fields for the active Type are meaningful; everything the
// decoder did not recognize is kept in Extra so a block round-trips intact.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image
	Source json.RawMessage `json:"source,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var blockKnown = map[string]bool{
	"type": true, "text": true, "id": true, "name": true, "input": true,
	"tool_use_id": true, "content": true, "is_error": true,
	"thinking": true, "signature": true, "source": true,
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = ContentBlock(a)
	b.Extra = extractExtra(data, blockKnown)
	return nil
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	type alias ContentBlock
	return marshalWithExtra(alias(b), b.Extra)
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ThinkingBlock builds a thinking content block.
func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: thinking, Signature: signature}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultContentString flattens a tool_result content payload (string or
// block list) into plain text.
func (b ContentBlock) ToolResultContentString() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var out string
		for _, blk := range blocks {
			if blk.Type == BlockText {
				out += blk.Text
			}
		}
		return out
	}
	return string(b.Content)
}

// extractExtra returns the raw fields of data not claimed by known.
func extractExtra(data []byte, known map[string]bool) map[string]json.RawMessage {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if !known[k] {
			if extra == nil {
				extra = make(map[string]json.RawMessage)
			}
			extra[k] = v
		}
	}
	return extra
}

// marshalWithExtra marshals v then splices extra fields back in. Known fields
// win on collision.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("remarshal for extras: %w", err)
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	// Stable key order keeps output deterministic for tests.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, merged[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}
