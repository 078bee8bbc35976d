package format

import (
	"encoding/json"
)

// =============================================
// Anthropic Messages API
// =============================================

// CreateMessageRequest is the Anthropic Messages request body.
type CreateMessageRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        *SystemPrompt      `json:"system,omitempty"`
	MaxTokens     int64              `json:"max_tokens"`
	Tools         []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice    json.RawMessage    `json:"tool_choice,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// AnthropicMessage is a single conversation turn.
type AnthropicMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or a list of content blocks.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

// TextContent builds a string-form content value.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s, isText: true}
}

// BlockContent builds a block-list content value.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsText reports whether the content was given as a bare string.
func (c MessageContent) IsText() bool { return c.isText }

// AsBlocks normalizes content to block form; a bare string becomes one text block.
func (c MessageContent) AsBlocks() []ContentBlock {
	if c.isText {
		return []ContentBlock{{Type: BlockText, Text: c.Text}}
	}
	return c.Blocks
}

// PlainText concatenates all text blocks (or returns the bare string).
func (c MessageContent) PlainText() string {
	if c.isText {
		return c.Text
	}
	var out string
	for _, b := range c.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.Blocks)
}

// SystemPrompt is either a string or a list of text blocks.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

// SystemText builds a string-form system prompt.
func SystemText(s string) *SystemPrompt {
	return &SystemPrompt{Text: s, isText: true}
}

// PlainText flattens the system prompt to a single string.
func (s *SystemPrompt) PlainText() string {
	if s == nil {
		return ""
	}
	if s.isText {
		return s.Text
	}
	var out string
	for _, b := range s.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.isText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Blocks)
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		s.isText = true
		return nil
	}
	s.isText = false
	return json.Unmarshal(data, &s.Blocks)
}

// AnthropicTool declares a tool the model may call.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// anthropicRequestKnown lists the fields the typed struct owns; everything
// else is preserved in Extra for round-trip.
var anthropicRequestKnown = map[string]bool{
	"model": true, "messages": true, "system": true, "max_tokens": true,
	"tools": true, "tool_choice": true, "stream": true, "temperature": true,
	"top_p": true, "stop_sequences": true,
}

func (r *CreateMessageRequest) UnmarshalJSON(data []byte) error {
	type alias CreateMessageRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = CreateMessageRequest(a)
	r.Extra = extractExtra(data, anthropicRequestKnown)
	return nil
}

func (r CreateMessageRequest) MarshalJSON() ([]byte, error) {
	type alias CreateMessageRequest
	return marshalWithExtra(alias(r), r.Extra)
}

// MessageResponse is the Anthropic Messages response body.
type MessageResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // always "message"
	Role         string         `json:"role"` // always "assistant"
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage `json:"usage"`
}

// AnthropicUsage is the Anthropic token accounting shape.
type AnthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
}

// =============================================
// Anthropic stream events
// =============================================

const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// AnthropicStreamEvent covers all Anthropic SSE event payloads; fields are
// populated depending on Type.
type AnthropicStreamEvent struct {
	Type         string              `json:"type"`
	Message      *MessageResponse    `json:"message,omitempty"`       // message_start
	Index        int                 `json:"index"`                   // content_block_* events
	ContentBlock *ContentBlock       `json:"content_block,omitempty"` // content_block_start
	Delta        *AnthropicDelta     `json:"delta,omitempty"`         // content_block_delta / message_delta
	Usage        *AnthropicUsage     `json:"usage,omitempty"`         // message_delta
	Error        *ErrorDetailPayload `json:"error,omitempty"`
}

// AnthropicDelta is the delta payload inside content_block_delta and
// message_delta events.
type AnthropicDelta struct {
	Type         string  `json:"type,omitempty"` // text_delta | input_json_delta | thinking_delta | signature_delta
	Text         string  `json:"text,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	Signature    string  `json:"signature,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaThinking  = "thinking_delta"
	DeltaSignature = "signature_delta"
)

// AnthropicIsStreamEvent reports whether the given discriminator names an
// Anthropic stream event, which controls whether the SSE serializer emits an
// `event:` line.
func AnthropicIsStreamEvent(typ string) bool {
	switch typ {
	case EventMessageStart, EventContentBlockStart, EventContentBlockDelta,
		EventContentBlockStop, EventMessageDelta, EventMessageStop, "ping", "error":
		return true
	}
	return false
}
