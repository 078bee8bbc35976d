package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ccproxy-dev/ccproxy/internal/convert"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/hooks"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// bufferStream serves a unary client against a streaming-only upstream: the
// upstream call is forced to stream, all chunks are collected, and the final
// response object is reconstructed in the client format.
func (d *Dispatcher) bufferStream(c *gin.Context, req *request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), d.settings.UpstreamTimeout.Std())
	defer cancel()

	payload, err := json.Marshal(req.translated)
	if err != nil {
		d.fail(c, req.provider, req.id, req.sessionID, format.ErrInternal, err.Error(), nil)
		return
	}
	payload = forceStreamingBody(payload)

	resp, err := d.sendRaw(ctx, req, payload)
	if err != nil {
		kind, msg := upstreamErrorKind(err)
		d.fail(c, req.provider, req.id, req.sessionID, kind, msg, nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		d.forwardUpstreamError(c, req, resp.StatusCode, resp.Header.Get("Content-Type"), body)
		return
	}

	d.emit(ctx, hooks.ProviderStreamStart, req.provider.Name(), req.sessionID, map[string]any{
		"request_id": req.id,
		"buffered":   true,
	})

	parser := &sse.Parser{}
	var (
		raw      bytes.Buffer
		payloads [][]byte
		chunks   int
	)
	collect := func(events []sse.Event) {
		for _, ev := range events {
			if ev.IsDone() {
				continue
			}
			payloads = append(payloads, ev.Data)
			chunks++
			d.emit(ctx, hooks.ProviderStreamChunk, req.provider.Name(), req.sessionID, map[string]any{
				"request_id": req.id,
				"bytes":      len(ev.Data),
				"buffered":   true,
			})
		}
	}
	buf := make([]byte, streamReadBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			raw.Write(buf[:n])
			collect(parser.Feed(buf[:n]))
		}
		if readErr != nil {
			if readErr != io.EOF && ctx.Err() == nil {
				logrus.WithField("request_id", req.id).Debugf("Buffered stream read error: %v", readErr)
			}
			break
		}
	}
	collect(parser.Close())

	d.emit(ctx, hooks.ProviderStreamEnd, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":   req.id,
		"total_chunks": chunks,
		"total_bytes":  raw.Len(),
		"cancelled":    c.Request.Context().Err() != nil,
	})

	upstreamBody := reconstructResponse(req.provider.UpstreamFormat(), payloads, raw.Bytes())
	if upstreamBody == nil {
		d.fail(c, req.provider, req.id, req.sessionID, format.ErrServiceUnavailable, "upstream stream yielded no response object", nil)
		return
	}

	out, err := translateResponseBody(upstreamBody, req.provider.UpstreamFormat(), req.clientFormat, requestModel(req.parsed))
	if err != nil {
		d.fail(c, req.provider, req.id, req.sessionID, format.ErrInternal, err.Error(), nil)
		return
	}
	out = normalizeBuffered(out, req.clientFormat)
	out = mergeScannedUsage(out, payloads, req.clientFormat)

	d.emit(ctx, hooks.ProviderResponseReceived, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":  req.id,
		"status_code": resp.StatusCode,
		"buffered":    true,
	})

	c.Header("X-Request-ID", req.id)
	c.Data(http.StatusOK, "application/json", out)
	d.complete(c, req, http.StatusOK)
}

// sendRaw issues the upstream call with a pre-serialized body.
func (d *Dispatcher) sendRaw(ctx context.Context, req *request, payload []byte) (*http.Response, error) {
	url := req.provider.UpstreamURL(req.endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	d.emit(ctx, hooks.ProviderRequestSent, req.provider.Name(), req.sessionID, map[string]any{
		"request_id": req.id,
		"url":        url,
		"buffered":   true,
	})
	return d.client.Do(httpReq)
}

// forceStreamingBody sets stream:true on a JSON body. A body that is not an
// object is wrapped, preserving the payload under original_data.
func forceStreamingBody(body []byte) []byte {
	if gjson.ValidBytes(body) && gjson.ParseBytes(body).IsObject() {
		out, err := sjson.SetBytes(body, "stream", true)
		if err == nil {
			return out
		}
	}
	wrapped, _ := json.Marshal(map[string]any{
		"stream":        true,
		"original_data": json.RawMessage(body),
	})
	return wrapped
}

// reconstructResponse turns collected stream payloads into the upstream
// format's unary response body. Fallback chain: format aggregator, whole
// buffer as JSON, last data payload.
func reconstructResponse(upstream format.Name, payloads [][]byte, raw []byte) []byte {
	var obj any
	switch upstream {
	case format.Anthropic:
		if m := convert.AggregateAnthropicStream(payloads); m != nil {
			obj = m
		}
	case format.Chat:
		if m := convert.AggregateChatStream(payloads); m != nil {
			obj = m
		}
	case format.Responses:
		if m := convert.AggregateResponsesStream(payloads); m != nil {
			obj = m
		}
	}
	if obj != nil {
		out, err := json.Marshal(obj)
		if err == nil {
			return out
		}
	}
	// Upstream may have answered with a plain JSON body despite the
	// streaming request.
	trimmed := bytes.TrimSpace(raw)
	if gjson.ValidBytes(trimmed) && gjson.ParseBytes(trimmed).IsObject() {
		return trimmed
	}
	if len(payloads) > 0 {
		return payloads[len(payloads)-1]
	}
	return nil
}

// normalizeBuffered patches structural gaps in a reconstructed response so
// the client always sees a well-formed object in its format.
func normalizeBuffered(body []byte, sink format.Name) []byte {
	switch sink {
	case format.Responses:
		if !gjson.GetBytes(body, "output.0").Exists() {
			body, _ = sjson.SetBytes(body, "output", []map[string]any{{
				"type":    "message",
				"role":    "assistant",
				"status":  "completed",
				"content": []map[string]any{{"type": "output_text", "text": ""}},
			}})
		}
		if !gjson.GetBytes(body, "usage").Exists() {
			body, _ = sjson.SetBytes(body, "usage", map[string]int64{
				"input_tokens": 0, "output_tokens": 0, "total_tokens": 0,
			})
		}
	case format.Chat:
		if !gjson.GetBytes(body, "usage").Exists() {
			body, _ = sjson.SetBytes(body, "usage", map[string]int64{
				"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0,
			})
		}
	}
	return body
}

// mergeScannedUsage scans all stream payloads for the last usage object (top
// level or under response) and merges it in when the reconstructed body has
// no usage counts.
func mergeScannedUsage(body []byte, payloads [][]byte, sink format.Name) []byte {
	var usage gjson.Result
	for _, p := range payloads {
		if u := gjson.GetBytes(p, "usage"); u.IsObject() {
			usage = u
		}
		if u := gjson.GetBytes(p, "response.usage"); u.IsObject() {
			usage = u
		}
	}
	if !usage.Exists() {
		return body
	}

	input := firstInt(usage, "input_tokens", "prompt_tokens")
	output := firstInt(usage, "output_tokens", "completion_tokens")
	if input == 0 && output == 0 {
		return body
	}

	var inKey, outKey, totalKey string
	switch sink {
	case format.Anthropic:
		inKey, outKey = "usage.input_tokens", "usage.output_tokens"
	case format.Chat:
		inKey, outKey, totalKey = "usage.prompt_tokens", "usage.completion_tokens", "usage.total_tokens"
	case format.Responses:
		inKey, outKey, totalKey = "usage.input_tokens", "usage.output_tokens", "usage.total_tokens"
	}
	if gjson.GetBytes(body, inKey).Int() != 0 || gjson.GetBytes(body, outKey).Int() != 0 {
		return body
	}
	body, _ = sjson.SetBytes(body, inKey, input)
	body, _ = sjson.SetBytes(body, outKey, output)
	if totalKey != "" {
		body, _ = sjson.SetBytes(body, totalKey, input+output)
	}
	return body
}

func firstInt(v gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r.Int()
		}
	}
	return 0
}
