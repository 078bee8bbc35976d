// Package proxy dispatches client requests to provider upstreams: format
// translation, credential-backed authorization, streaming and buffering
// pipelines, and lifecycle hook emission.
package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/ccproxy-dev/ccproxy/internal/convert"
	"github.com/ccproxy-dev/ccproxy/internal/format"
)

// translateRequest converts a parsed client request into the upstream
// format. Identical formats pass through.
func translateRequest(req any, from, to format.Name) (any, error) {
	if from == to {
		return req, nil
	}
	switch r := req.(type) {
	case *format.ChatCompletionRequest:
		switch to {
		case format.Anthropic:
			return convert.ChatRequestToAnthropic(r), nil
		case format.Responses:
			return convert.ChatRequestToResponses(r), nil
		}
	case *format.CreateMessageRequest:
		switch to {
		case format.Chat:
			return convert.AnthropicRequestToChat(r), nil
		case format.Responses:
			return convert.AnthropicRequestToResponses(r), nil
		}
	case *format.ResponseRequest:
		switch to {
		case format.Chat:
			return convert.ResponsesRequestToChat(r), nil
		case format.Anthropic:
			return convert.ResponsesRequestToAnthropic(r), nil
		}
	}
	return nil, fmt.Errorf("no request translation %s -> %s", from, to)
}

// translateResponseBody converts an upstream unary response body back into
// the client format.
func translateResponseBody(body []byte, from, to format.Name, model string) ([]byte, error) {
	if from == to {
		return body, nil
	}
	var out any
	switch from {
	case format.Anthropic:
		var resp format.MessageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode upstream %s response: %w", from, err)
		}
		switch to {
		case format.Chat:
			out = convert.AnthropicResponseToChat(&resp, model)
		case format.Responses:
			out = convert.AnthropicResponseToResponses(&resp, model)
		}
	case format.Chat:
		var resp format.ChatCompletionResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode upstream %s response: %w", from, err)
		}
		switch to {
		case format.Anthropic:
			out = convert.ChatResponseToAnthropic(&resp, model)
		case format.Responses:
			out = convert.ChatResponseToResponses(&resp, model)
		}
	case format.Responses:
		var resp format.ResponseObject
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode upstream %s response: %w", from, err)
		}
		switch to {
		case format.Chat:
			out = convert.ResponseObjectToChat(&resp, model)
		case format.Anthropic:
			out = convert.ResponseObjectToAnthropic(&resp, model)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("no response translation %s -> %s", from, to)
	}
	return json.Marshal(out)
}

// requestModel returns the model id the client asked for.
func requestModel(req any) string {
	switch r := req.(type) {
	case *format.ChatCompletionRequest:
		return r.Model
	case *format.CreateMessageRequest:
		return r.Model
	case *format.ResponseRequest:
		return r.Model
	}
	return ""
}

// requestStreaming reports whether the client asked for a streaming
// response.
func requestStreaming(req any) bool {
	switch r := req.(type) {
	case *format.ChatCompletionRequest:
		return r.Stream
	case *format.CreateMessageRequest:
		return r.Stream
	case *format.ResponseRequest:
		return r.Stream
	}
	return false
}

// setStreaming forces the stream flag on a translated request before it is
// sent upstream.
func setStreaming(req any, stream bool) {
	switch r := req.(type) {
	case *format.ChatCompletionRequest:
		r.Stream = stream
	case *format.CreateMessageRequest:
		r.Stream = stream
	case *format.ResponseRequest:
		r.Stream = stream
	}
}
