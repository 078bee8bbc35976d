// Package sse implements the server-sent-events wire codec used on both
// sides of the proxy: an incremental parser for upstream bytes and a
// serializer for the frames sent back to clients.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// Done is the OpenAI stream terminator payload.
const Done = "[DONE]"

// Event is one parsed SSE frame. Name is empty when no `event:` line was
// present. Data holds the joined `data:` payload.
type Event struct {
	Name string
	Data []byte
}

// IsDone reports whether the frame is the [DONE] terminator.
func (e Event) IsDone() bool {
	return strings.TrimSpace(string(e.Data)) == Done
}

// Parser is an incremental SSE parser. Feed it arbitrary byte chunks; it
// returns frames as soon as their terminating blank line arrives. The frame
// sequence is independent of how the bytes were chunked.
type Parser struct {
	buf bytes.Buffer
}

// Feed appends b to the internal buffer and returns all completed events.
func (p *Parser) Feed(b []byte) []Event {
	p.buf.Write(b)
	var events []Event
	for {
		raw := p.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		sep := 2
		if crlf := bytes.Index(raw, []byte("\r\n\r\n")); crlf != -1 && (idx == -1 || crlf < idx) {
			idx, sep = crlf, 4
		}
		if idx == -1 {
			return events
		}
		block := make([]byte, idx)
		copy(block, raw[:idx])
		p.buf.Next(idx + sep)
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}
}

// Close flushes any trailing partial frame. Called when the upstream closes
// without a final blank line; the fragment is parsed best-effort.
func (p *Parser) Close() []Event {
	if p.buf.Len() == 0 {
		return nil
	}
	block := p.buf.Bytes()
	p.buf = bytes.Buffer{}
	if ev, ok := parseBlock(block); ok {
		return []Event{ev}
	}
	return nil
}

// parseBlock decodes the lines of one event block. Multi-line data values
// are joined with \n per the SSE spec. Blocks with no data are dropped.
func parseBlock(block []byte) (Event, bool) {
	var ev Event
	var data []string
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Name = strings.TrimSpace(string(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			v := string(line[len("data:"):])
			data = append(data, strings.TrimPrefix(v, " "))
		case bytes.HasPrefix(line, []byte(":")):
			// comment line, ignore
		}
	}
	if len(data) == 0 {
		return ev, false
	}
	ev.Data = []byte(strings.Join(data, "\n"))
	return ev, true
}

// Scanner layers JSON decoding over Parser. Non-JSON frames are dropped with
// a log line; the [DONE] terminator flips Done instead of being yielded.
type Scanner struct {
	parser Parser
	Done   bool
}

// Feed parses bytes and returns the decoded JSON events.
func (s *Scanner) Feed(b []byte) []Event {
	return s.filter(s.parser.Feed(b))
}

// Close flushes the trailing fragment.
func (s *Scanner) Close() []Event {
	return s.filter(s.parser.Close())
}

func (s *Scanner) filter(events []Event) []Event {
	out := events[:0]
	for _, ev := range events {
		if ev.IsDone() {
			s.Done = true
			continue
		}
		if !json.Valid(ev.Data) {
			logrus.WithField("data", truncate(string(ev.Data), 200)).
				Warn("Dropping SSE event with invalid JSON payload")
			continue
		}
		out = append(out, ev)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
