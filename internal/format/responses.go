package format

import (
	"encoding/json"
)

// =============================================
// OpenAI Responses API
// =============================================

// ResponseRequest is the Responses API request body.
type ResponseRequest struct {
	Model             string             `json:"model"`
	Input             ResponseInput      `json:"input"`
	Instructions      string             `json:"instructions,omitempty"`
	MaxOutputTokens   *int64             `json:"max_output_tokens,omitempty"`
	Stream            bool               `json:"stream,omitempty"`
	Temperature       *float64           `json:"temperature,omitempty"`
	TopP              *float64           `json:"top_p,omitempty"`
	Tools             []ResponseTool     `json:"tools,omitempty"`
	ToolChoice        json.RawMessage    `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool              `json:"parallel_tool_calls,omitempty"`
	Reasoning         *ReasoningConfig   `json:"reasoning,omitempty"`
	Text              *ResponseTextConf  `json:"text,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var responseRequestKnown = map[string]bool{
	"model": true, "input": true, "instructions": true,
	"max_output_tokens": true, "stream": true, "temperature": true,
	"top_p": true, "tools": true, "tool_choice": true,
	"parallel_tool_calls": true, "reasoning": true, "text": true,
}

func (r *ResponseRequest) UnmarshalJSON(data []byte) error {
	type alias ResponseRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ResponseRequest(a)
	r.Extra = extractExtra(data, responseRequestKnown)
	return nil
}

func (r ResponseRequest) MarshalJSON() ([]byte, error) {
	type alias ResponseRequest
	return marshalWithExtra(alias(r), r.Extra)
}

// ReasoningConfig mirrors the Responses "reasoning" request block.
type ReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ResponseTextConf mirrors the Responses "text" request block.
type ResponseTextConf struct {
	Format json.RawMessage `json:"format,omitempty"`
}

// ResponseInput is a string-or-items union; the Responses API accepts both.
type ResponseInput struct {
	Text   string
	Items  []ResponseInputItem
	isText bool
}

// ResponseInputText builds a string-form input.
func ResponseInputText(s string) ResponseInput {
	return ResponseInput{Text: s, isText: true}
}

// ResponseInputItems builds an item-list input.
func ResponseInputItems(items ...ResponseInputItem) ResponseInput {
	return ResponseInput{Items: items}
}

// IsText reports whether the input was given as a bare string.
func (i ResponseInput) IsText() bool { return i.isText }

// AsItems normalizes to item form; a bare string becomes one user message.
func (i ResponseInput) AsItems() []ResponseInputItem {
	if i.isText {
		return []ResponseInputItem{{
			Type:    "message",
			Role:    "user",
			Content: ResponseItemContent{Parts: []ResponseContentPart{{Type: "input_text", Text: i.Text}}},
		}}
	}
	return i.Items
}

func (i ResponseInput) MarshalJSON() ([]byte, error) {
	if i.isText {
		return json.Marshal(i.Text)
	}
	return json.Marshal(i.Items)
}

func (i *ResponseInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.Text = s
		i.isText = true
		return nil
	}
	i.isText = false
	return json.Unmarshal(data, &i.Items)
}

// ResponseInputItem is one element of an array-form input. Message items
// carry role+content; function_call_output items carry call_id+output.
type ResponseInputItem struct {
	Type    string                `json:"type,omitempty"`
	Role    string                `json:"role,omitempty"`
	Content ResponseItemContent   `json:"content,omitempty"`
	ID      string                `json:"id,omitempty"`
	CallID  string                `json:"call_id,omitempty"`
	Name    string                `json:"name,omitempty"`
	Args    string                `json:"arguments,omitempty"`
	Output  string                `json:"output,omitempty"`
	Summary []ResponseSummaryPart `json:"summary,omitempty"`
}

// ResponseItemContent is a string-or-parts union used by message input items.
type ResponseItemContent struct {
	Text   string
	Parts  []ResponseContentPart
	isText bool
}

func (c ResponseItemContent) PlainText() string {
	if c.isText {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		switch p.Type {
		case "input_text", "output_text", "text":
			out += p.Text
		}
	}
	return out
}

func (c ResponseItemContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *ResponseItemContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.Parts)
}

// ResponseContentPart is a typed content fragment of a Responses message.
type ResponseContentPart struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// ResponseTool is a flattened tool declaration (Responses puts name/
// description/parameters at the top level, unlike Chat).
type ResponseTool struct {
	Type        string          `json:"type"` // "function"
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
}

// Response object statuses.
const (
	ResponseStatusInProgress = "in_progress"
	ResponseStatusCompleted  = "completed"
	ResponseStatusIncomplete = "incomplete"
	ResponseStatusFailed     = "failed"
)

// ResponseObject is the unary Responses API reply.
type ResponseObject struct {
	ID                string               `json:"id"`
	Object            string               `json:"object"` // "response"
	CreatedAt         int64                `json:"created_at"`
	Status            string               `json:"status"`
	Model             string               `json:"model"`
	Output            []ResponseOutputItem `json:"output"`
	ParallelToolCalls bool                 `json:"parallel_tool_calls"`
	Usage             *ResponseUsage       `json:"usage,omitempty"`
	Reasoning         *ReasoningConfig     `json:"reasoning,omitempty"`
	Error             *ErrorDetailPayload  `json:"error,omitempty"`
	IncompleteDetails json.RawMessage      `json:"incomplete_details,omitempty"`
}

// Output item discriminators.
const (
	OutputMessage      = "message"
	OutputReasoning    = "reasoning"
	OutputFunctionCall = "function_call"
)

// ResponseOutputItem is the tagged union over Responses output kinds.
type ResponseOutputItem struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// message
	Role    string                `json:"role,omitempty"`
	Status  string                `json:"status,omitempty"`
	Content []ResponseContentPart `json:"content,omitempty"`

	// reasoning
	Summary []ResponseSummaryPart `json:"summary,omitempty"`

	// function_call
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   string `json:"arguments,omitempty"`
}

// ResponseSummaryPart is one reasoning summary fragment; the signature is an
// opaque provider blob carried through conversions untouched.
type ResponseSummaryPart struct {
	Type      string `json:"type"` // "summary_text"
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// ResponseUsage is the Responses token accounting shape.
type ResponseUsage struct {
	InputTokens         int64                 `json:"input_tokens"`
	InputTokensDetails  *ResponseInputDetail  `json:"input_tokens_details,omitempty"`
	OutputTokens        int64                 `json:"output_tokens"`
	OutputTokensDetails *ResponseOutputDetail `json:"output_tokens_details,omitempty"`
	TotalTokens         int64                 `json:"total_tokens"`
}

// ResponseInputDetail carries cached-token accounting.
type ResponseInputDetail struct {
	CachedTokens int64 `json:"cached_tokens"`
}

// ResponseOutputDetail carries reasoning-token accounting.
type ResponseOutputDetail struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

// =============================================
// Responses stream events
// =============================================

const (
	EventResponseCreated       = "response.created"
	EventResponseInProgress    = "response.in_progress"
	EventOutputItemAdded       = "response.output_item.added"
	EventOutputTextDelta       = "response.output_text.delta"
	EventOutputTextDone        = "response.output_text.done"
	EventSummaryPartAdded      = "response.reasoning_summary_part.added"
	EventSummaryTextDelta      = "response.reasoning_summary_text.delta"
	EventSummaryTextDone       = "response.reasoning_summary_text.done"
	EventFunctionArgsDelta     = "response.function_call_arguments.delta"
	EventFunctionArgsDone      = "response.function_call_arguments.done"
	EventOutputItemDone        = "response.output_item.done"
	EventResponseCompleted     = "response.completed"
	EventResponseIncomplete    = "response.incomplete"
	EventResponseFailed        = "response.failed"
)

// ResponseStreamEvent covers all Responses SSE payloads; fields are populated
// depending on Type. SequenceNumber is strictly increasing per stream.
type ResponseStreamEvent struct {
	Type           string                `json:"type"`
	SequenceNumber int64                 `json:"sequence_number"`
	Response       *ResponseObject       `json:"response,omitempty"`
	OutputIndex    *int                  `json:"output_index,omitempty"`
	Item           *ResponseOutputItem   `json:"item,omitempty"`
	ItemID         string                `json:"item_id,omitempty"`
	ContentIndex   *int                  `json:"content_index,omitempty"`
	SummaryIndex   *int                  `json:"summary_index,omitempty"`
	Part           *ResponseSummaryPart  `json:"part,omitempty"`
	Delta          string                `json:"delta,omitempty"`
	Text           string                `json:"text,omitempty"`
	Arguments      string                `json:"arguments,omitempty"`
}
