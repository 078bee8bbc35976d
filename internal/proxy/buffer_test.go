package proxy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ccproxy-dev/ccproxy/internal/credentials"
	"github.com/ccproxy-dev/ccproxy/internal/format"
)

func TestForceStreamingBody(t *testing.T) {
	out := forceStreamingBody([]byte(`{"model":"m","max_tokens":10}`))
	v := gjson.ParseBytes(out)
	assert.True(t, v.Get("stream").Bool())
	assert.Equal(t, "m", v.Get("model").String())

	// Already-set stream flags are overwritten, not duplicated.
	out = forceStreamingBody([]byte(`{"stream":false}`))
	assert.True(t, gjson.GetBytes(out, "stream").Bool())

	// Non-object bodies are wrapped with the payload preserved.
	out = forceStreamingBody([]byte(`[1,2,3]`))
	v = gjson.ParseBytes(out)
	assert.True(t, v.Get("stream").Bool())
	assert.Equal(t, `[1,2,3]`, v.Get("original_data").Raw)
}

func TestReconstructResponseFromAggregator(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":3,"output_tokens":0}}}`),
		[]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		[]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`),
		[]byte(`{"type":"content_block_stop","index":0}`),
		[]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`),
		[]byte(`{"type":"message_stop"}`),
	}
	out := reconstructResponse(format.Anthropic, payloads, nil)
	require.NotNil(t, out)
	v := gjson.ParseBytes(out)
	assert.Equal(t, "hi", v.Get("content.0.text").String())
	assert.Equal(t, "end_turn", v.Get("stop_reason").String())
}

func TestReconstructResponseFallsBackToRawBody(t *testing.T) {
	// An upstream that ignored stream:true and answered with plain JSON.
	raw := []byte("\n" + `{"id":"msg_1","type":"message","content":[]}` + "\n")
	out := reconstructResponse(format.Anthropic, nil, raw)
	assert.Equal(t, "msg_1", gjson.GetBytes(out, "id").String())
}

func TestReconstructResponseFallsBackToLastPayload(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"partial":1}`),
		[]byte(`{"partial":2}`),
	}
	out := reconstructResponse(format.Anthropic, payloads, []byte("not json"))
	assert.Equal(t, int64(2), gjson.GetBytes(out, "partial").Int())

	assert.Nil(t, reconstructResponse(format.Anthropic, nil, nil))
}

func TestNormalizeBuffered(t *testing.T) {
	out := normalizeBuffered([]byte(`{"id":"resp_1","object":"response"}`), format.Responses)
	v := gjson.ParseBytes(out)
	assert.Equal(t, "message", v.Get("output.0.type").String())
	assert.Equal(t, "output_text", v.Get("output.0.content.0.type").String())
	assert.True(t, v.Get("usage").Exists())

	// Present output and usage are left alone.
	in := `{"output":[{"type":"message","content":[{"type":"output_text","text":"hi"}]}],"usage":{"input_tokens":4,"output_tokens":1,"total_tokens":5}}`
	out = normalizeBuffered([]byte(in), format.Responses)
	assert.JSONEq(t, in, string(out))

	out = normalizeBuffered([]byte(`{"object":"chat.completion"}`), format.Chat)
	assert.True(t, gjson.GetBytes(out, "usage").Exists())
	assert.Equal(t, int64(0), gjson.GetBytes(out, "usage.total_tokens").Int())

	// The Anthropic sink has no structural requirements.
	out = normalizeBuffered([]byte(`{"type":"message"}`), format.Anthropic)
	assert.Equal(t, `{"type":"message"}`, string(out))
}

func TestMergeScannedUsageFillsZeroUsage(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"type":"message_delta","usage":{"input_tokens":7,"output_tokens":2}}`),
		[]byte(`{"type":"response.completed","response":{"usage":{"input_tokens":9,"output_tokens":3}}}`),
	}
	body := []byte(`{"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`)
	out := mergeScannedUsage(body, payloads, format.Chat)
	v := gjson.ParseBytes(out)
	// The last scanned usage wins.
	assert.Equal(t, int64(9), v.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(3), v.Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(12), v.Get("usage.total_tokens").Int())
}

func TestMergeScannedUsageKeepsNonZeroUsage(t *testing.T) {
	payloads := [][]byte{[]byte(`{"usage":{"input_tokens":100,"output_tokens":50}}`)}
	body := []byte(`{"usage":{"input_tokens":3,"output_tokens":1}}`)
	out := mergeScannedUsage(body, payloads, format.Anthropic)
	assert.Equal(t, int64(3), gjson.GetBytes(out, "usage.input_tokens").Int())
}

func TestMergeScannedUsageNoUsageInStream(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":0,"output_tokens":0}}`)
	out := mergeScannedUsage(body, [][]byte{[]byte(`{"type":"ping"}`)}, format.Anthropic)
	assert.Equal(t, string(body), string(out))

	// All-zero scanned usage is not merged either.
	out = mergeScannedUsage(body, [][]byte{[]byte(`{"usage":{"input_tokens":0,"output_tokens":0}}`)}, format.Anthropic)
	assert.Equal(t, string(body), string(out))
}

func TestFirstInt(t *testing.T) {
	v := gjson.Parse(`{"prompt_tokens":5}`)
	assert.Equal(t, int64(5), firstInt(v, "input_tokens", "prompt_tokens"))
	assert.Equal(t, int64(0), firstInt(v, "output_tokens", "completion_tokens"))
}

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Api-Key", "sk-123")
	h.Set("Cookie", "session=abc")
	h.Set("User-Agent", "anthropic-sdk")
	h.Set("Content-Type", "application/json")

	out := sanitizeHeaders(h)
	assert.NotContains(t, out, "Authorization")
	assert.NotContains(t, out, "X-Api-Key")
	assert.NotContains(t, out, "Cookie")
	assert.Equal(t, "anthropic-sdk", out["User-Agent"])
	assert.Equal(t, "application/json", out["Content-Type"])
}

func TestCredentialErrorKind(t *testing.T) {
	kind, _ := credentialErrorKind(&credentials.OAuthError{Code: "server_error", Transient: true})
	assert.Equal(t, format.ErrServiceUnavailable, kind)

	kind, _ = credentialErrorKind(&credentials.OAuthError{Code: "invalid_grant"})
	assert.Equal(t, format.ErrAuthentication, kind)

	kind, _ = credentialErrorKind(credentials.ErrNotFound)
	assert.Equal(t, format.ErrAuthentication, kind)

	kind, _ = credentialErrorKind(errors.New("disk full"))
	assert.Equal(t, format.ErrInternal, kind)
}

func TestUpstreamErrorKind(t *testing.T) {
	kind, _ := upstreamErrorKind(context.DeadlineExceeded)
	assert.Equal(t, format.ErrTimeout, kind)

	kind, _ = upstreamErrorKind(errors.New("connection refused"))
	assert.Equal(t, format.ErrServiceUnavailable, kind)
}
