// Package format defines the typed wire models for the three API shapes the
// proxy speaks: Anthropic Messages, OpenAI Chat Completions, and OpenAI
// Responses. Every request/response type survives a decode/encode round trip:
// unknown fields are kept opaquely in an Extra map instead of being dropped.
package format

// Name identifies one of the supported wire formats.
type Name string

const (
	Anthropic Name = "anthropic"
	Chat      Name = "openai_chat"
	Responses Name = "openai_responses"
)

// Valid reports whether the format name is one the proxy knows.
func (n Name) Valid() bool {
	switch n {
	case Anthropic, Chat, Responses:
		return true
	}
	return false
}
