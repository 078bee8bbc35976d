package format

import (
	"encoding/json"
)

// =============================================
// OpenAI Chat Completions API
// =============================================

// ChatCompletionRequest is the Chat Completions request body.
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	MaxCompletionTokens *int64          `json:"max_completion_tokens,omitempty"`
	MaxTokens           *int64          `json:"max_tokens,omitempty"` // deprecated alias
	Tools               []ChatTool      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       json.RawMessage `json:"stream_options,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var chatRequestKnown = map[string]bool{
	"model": true, "messages": true, "max_completion_tokens": true,
	"max_tokens": true, "tools": true, "tool_choice": true, "stream": true,
	"stream_options": true, "temperature": true, "top_p": true, "stop": true,
	"reasoning_effort": true,
}

func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias ChatCompletionRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ChatCompletionRequest(a)
	r.Extra = extractExtra(data, chatRequestKnown)
	return nil
}

func (r ChatCompletionRequest) MarshalJSON() ([]byte, error) {
	type alias ChatCompletionRequest
	return marshalWithExtra(alias(r), r.Extra)
}

// EffectiveMaxTokens resolves max_completion_tokens with fallback to the
// deprecated max_tokens field.
func (r *ChatCompletionRequest) EffectiveMaxTokens() int64 {
	if r.MaxCompletionTokens != nil {
		return *r.MaxCompletionTokens
	}
	if r.MaxTokens != nil {
		return *r.MaxTokens
	}
	return 0
}

// ChatMessage is one Chat Completions conversation entry. Content is either a
// string or an array of typed parts.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    ChatContent     `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ChatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Refusal    json.RawMessage `json:"refusal,omitempty"`
}

// ChatContent is a string-or-parts union.
type ChatContent struct {
	Text   string
	Parts  []ChatContentPart
	isText bool
	isNull bool
}

// ChatText builds a string-form content value.
func ChatText(s string) ChatContent {
	return ChatContent{Text: s, isText: true}
}

// IsZero reports whether the content carries nothing.
func (c ChatContent) IsZero() bool {
	return !c.isText && len(c.Parts) == 0
}

// PlainText flattens the content to a single string.
func (c ChatContent) PlainText() string {
	if c.isText {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" || p.Type == "input_text" {
			out += p.Text
		}
	}
	return out
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.isNull {
		return []byte("null"), nil
	}
	if c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		c.isNull = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.Parts)
}

// ChatContentPart is one element of an array-form content value.
type ChatContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// ChatTool wraps a function declaration (Chat nests under "function").
type ChatTool struct {
	Type     string       `json:"type"` // "function"
	Function ChatFunction `json:"function"`
}

// ChatFunction is the nested function object of a Chat tool.
type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
}

// ChatToolCall is an assistant-emitted tool invocation.
type ChatToolCall struct {
	Index    *int             `json:"index,omitempty"` // streaming only
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"` // "function"
	Function ChatFunctionCall `json:"function"`
}

// ChatFunctionCall carries the function name and its JSON-string arguments.
type ChatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatCompletionResponse is the unary Chat Completions response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"` // "chat.completion"
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one response alternative (the proxy only ever emits index 0).
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage is the Chat Completions token accounting shape.
type ChatUsage struct {
	PromptTokens            int64             `json:"prompt_tokens"`
	CompletionTokens        int64             `json:"completion_tokens"`
	TotalTokens             int64             `json:"total_tokens"`
	PromptTokensDetails     *ChatPromptDetail `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *ChatOutputDetail `json:"completion_tokens_details,omitempty"`
}

// ChatPromptDetail carries cached-token accounting.
type ChatPromptDetail struct {
	CachedTokens int64 `json:"cached_tokens"`
}

// ChatOutputDetail carries reasoning-token accounting.
type ChatOutputDetail struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

// ChatCompletionChunk is one streamed Chat Completions frame.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"` // "chat.completion.chunk"
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *ChatUsage        `json:"usage,omitempty"`
}

// ChatChunkChoice is a delta entry within a streamed chunk.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatDelta is the incremental assistant payload of a chunk.
type ChatDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   *string        `json:"content,omitempty"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}
