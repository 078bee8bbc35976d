package convert

import (
	"fmt"
	"os"
	"strings"
)

// Reasoning content has no native container in OpenAI Chat Completions, so
// it is serialized into assistant text as <thinking signature="...">...</thinking>.
// Rules: the opening tag may carry a signature attribute, the closing tag
// never does, nested openers are literal text, and streamed tags may be
// split across chunk boundaries.

const (
	thinkingOpen  = "<thinking"
	thinkingClose = "</thinking>"
)

// ThinkingXMLEnabled reports whether <thinking> serialization into OpenAI
// output is enabled. Defaults to on; LLM__OPENAI_THINKING_XML or
// OPENAI_STREAM_ENABLE_THINKING_SERIALIZATION turn it off with a falsy value.
func ThinkingXMLEnabled() bool {
	for _, key := range []string{"LLM__OPENAI_THINKING_XML", "OPENAI_STREAM_ENABLE_THINKING_SERIALIZATION"} {
		if v, ok := os.LookupEnv(key); ok {
			return truthy(v)
		}
	}
	return true
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// FormatThinking renders a thinking block as inline XML. The signature
// attribute is omitted when empty.
func FormatThinking(text, signature string) string {
	if signature == "" {
		return fmt.Sprintf("<thinking>%s</thinking>", text)
	}
	return fmt.Sprintf("<thinking signature=%q>%s</thinking>", signature, text)
}

// Segment is one run of parsed assistant text: either plain content or the
// inside of a thinking block.
type Segment struct {
	Thinking  bool
	Text      string
	Signature string
}

// ParseThinking splits assistant text into plain and thinking segments.
// A second opener inside a block stays literal.
func ParseThinking(content string) []Segment {
	var sc thinkingScanner
	deltas := sc.Feed(content)
	deltas = append(deltas, sc.Flush()...)

	var segs []Segment
	appendSeg := func(thinking bool, sig, text string) {
		if text == "" && !thinking {
			return
		}
		n := len(segs)
		if n > 0 && segs[n-1].Thinking == thinking && (!thinking || segs[n-1].Signature == sig) {
			segs[n-1].Text += text
			return
		}
		segs = append(segs, Segment{Thinking: thinking, Text: text, Signature: sig})
	}

	var sig string
	for _, d := range deltas {
		switch d.Kind {
		case deltaThinkingStart:
			sig = d.Signature
			appendSeg(true, sig, "")
		case deltaThinkingText:
			appendSeg(true, sig, d.Text)
		case deltaThinkingEnd:
			sig = ""
		case deltaPlainText:
			appendSeg(false, "", d.Text)
		}
	}
	return segs
}

// thinking scanner delta kinds
const (
	deltaPlainText = iota
	deltaThinkingStart
	deltaThinkingText
	deltaThinkingEnd
)

type thinkingDelta struct {
	Kind      int
	Text      string
	Signature string
}

// thinkingScanner is the streaming XML scanner. It tolerates opening and
// closing tags split across Feed calls by withholding any trailing run that
// is still a viable tag prefix.
type thinkingScanner struct {
	inside  bool
	pending string
}

// Feed consumes a chunk of assistant text and returns the deltas that are
// certain so far.
func (s *thinkingScanner) Feed(chunk string) []thinkingDelta {
	s.pending += chunk
	var out []thinkingDelta

	emit := func(kind int, text, sig string) {
		if kind == deltaPlainText || kind == deltaThinkingText {
			if text == "" {
				return
			}
			n := len(out)
			if n > 0 && out[n-1].Kind == kind {
				out[n-1].Text += text
				return
			}
		}
		out = append(out, thinkingDelta{Kind: kind, Text: text, Signature: sig})
	}

	for {
		tag := thinkingClose
		if !s.inside {
			tag = thinkingOpen
		}
		idx := strings.Index(s.pending, "<")
		if idx == -1 {
			// No tag candidate at all; everything is content.
			emit(s.contentKind(), s.pending, "")
			s.pending = ""
			return out
		}

		// Text ahead of the candidate is settled content.
		emit(s.contentKind(), s.pending[:idx], "")
		s.pending = s.pending[idx:]

		if !strings.HasPrefix(s.pending, tag) {
			if isPrefix(s.pending, tag) {
				// Could still become a tag once more bytes arrive.
				return out
			}
			// Not our tag; the "<" is literal.
			emit(s.contentKind(), "<", "")
			s.pending = s.pending[1:]
			continue
		}

		if s.inside {
			emit(deltaThinkingEnd, "", "")
			s.inside = false
			s.pending = s.pending[len(thinkingClose):]
			continue
		}

		// Opening tag: find the terminating ">" which may not have arrived.
		end := strings.Index(s.pending, ">")
		if end == -1 {
			return out
		}
		rest := s.pending[len(thinkingOpen):end]
		sig, ok := parseThinkingAttrs(rest)
		if !ok {
			// Malformed opener such as <thinkingfoo>; keep it literal.
			emit(s.contentKind(), s.pending[:end+1], "")
			s.pending = s.pending[end+1:]
			continue
		}
		emit(deltaThinkingStart, "", sig)
		s.inside = true
		s.pending = s.pending[end+1:]
	}
}

// Flush releases whatever is withheld. An unterminated block is closed.
func (s *thinkingScanner) Flush() []thinkingDelta {
	var out []thinkingDelta
	if s.pending != "" {
		out = append(out, thinkingDelta{Kind: s.contentKind(), Text: s.pending})
		s.pending = ""
	}
	if s.inside {
		out = append(out, thinkingDelta{Kind: deltaThinkingEnd})
		s.inside = false
	}
	return out
}

func (s *thinkingScanner) contentKind() int {
	if s.inside {
		return deltaThinkingText
	}
	return deltaPlainText
}

// parseThinkingAttrs parses the attribute region of an opening tag. Accepts
// an empty region or a single signature="..." attribute.
func parseThinkingAttrs(attrs string) (signature string, ok bool) {
	if attrs == "" {
		return "", true
	}
	if attrs[0] != ' ' && attrs[0] != '\t' {
		return "", false
	}
	attrs = strings.TrimSpace(attrs)
	if attrs == "" {
		return "", true
	}
	if !strings.HasPrefix(attrs, "signature=\"") {
		return "", false
	}
	val := attrs[len("signature=\""):]
	if !strings.HasSuffix(val, "\"") {
		return "", false
	}
	return val[:len(val)-1], true
}

// isPrefix reports whether s is a strict prefix of tag (split-tag case).
func isPrefix(s, tag string) bool {
	return len(s) < len(tag) && strings.HasPrefix(tag, s)
}
