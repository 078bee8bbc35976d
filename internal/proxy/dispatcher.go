package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ccproxy-dev/ccproxy/internal/config"
	"github.com/ccproxy-dev/ccproxy/internal/credentials"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/hooks"
	"github.com/ccproxy-dev/ccproxy/internal/plugin"
)

// Dispatcher is the entry point used by the HTTP layer. One instance serves
// all providers; per-request state lives on the stack.
type Dispatcher struct {
	registry *plugin.Registry
	hooks    *hooks.Manager
	client   *http.Client
	settings *config.Settings
}

// NewDispatcher builds a dispatcher over the shared HTTP client pool.
func NewDispatcher(registry *plugin.Registry, hookManager *hooks.Manager, client *http.Client, settings *config.Settings) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		hooks:    hookManager,
		client:   client,
		settings: settings,
	}
}

// Handle serves one proxied completion request.
func (d *Dispatcher) Handle(c *gin.Context, provider plugin.Provider, endpoint string, clientFormat format.Name) {
	started := time.Now()
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	sessionID := c.GetHeader("session_id")

	d.emit(c.Request.Context(), hooks.RequestStarted, provider.Name(), sessionID, map[string]any{
		"request_id": requestID,
		"method":     c.Request.Method,
		"url":        c.Request.URL.String(),
		"headers":    sanitizeHeaders(c.Request.Header),
	})

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		d.fail(c, provider, requestID, sessionID, format.ErrInvalidRequest, "cannot read request body", nil)
		return
	}

	parsed, err := format.ParseRequest(clientFormat, body)
	if err != nil {
		var ve *format.ValidationError
		if errors.As(err, &ve) {
			d.fail(c, provider, requestID, sessionID, format.ErrInvalidRequest, ve.Message, map[string]any{"path": ve.Path})
		} else {
			d.fail(c, provider, requestID, sessionID, format.ErrInvalidRequest, err.Error(), nil)
		}
		return
	}

	upstreamFormat := provider.UpstreamFormat()
	translated, err := translateRequest(parsed, clientFormat, upstreamFormat)
	if err != nil {
		d.fail(c, provider, requestID, sessionID, format.ErrInternal, err.Error(), nil)
		return
	}

	headers, err := provider.Headers(c.Request.Context())
	if err != nil {
		kind, msg := credentialErrorKind(err)
		d.fail(c, provider, requestID, sessionID, kind, msg, nil)
		return
	}
	if sessionID != "" {
		headers.Set("X-Session-ID", sessionID)
	}

	req := &request{
		id:           requestID,
		sessionID:    sessionID,
		provider:     provider,
		endpoint:     endpoint,
		clientFormat: clientFormat,
		parsed:       parsed,
		translated:   translated,
		headers:      headers,
		started:      started,
	}

	switch {
	case requestStreaming(parsed):
		setStreaming(translated, true)
		d.stream(c, req)
	case provider.StreamingOnly():
		d.bufferStream(c, req)
	default:
		setStreaming(translated, false)
		d.unary(c, req)
	}
}

// request carries the per-request state shared by the unary, streaming, and
// buffering paths.
type request struct {
	id           string
	sessionID    string
	provider     plugin.Provider
	endpoint     string
	clientFormat format.Name
	parsed       any
	translated   any
	headers      http.Header
	started      time.Time
}

func (d *Dispatcher) unary(c *gin.Context, req *request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), d.settings.UpstreamTimeout.Std())
	defer cancel()

	resp, err := d.send(ctx, req)
	if err != nil {
		kind, msg := upstreamErrorKind(err)
		d.fail(c, req.provider, req.id, req.sessionID, kind, msg, nil)
		return
	}
	defer resp.Body.Close()

	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		d.fail(c, req.provider, req.id, req.sessionID, format.ErrServiceUnavailable, "error reading upstream response", nil)
		return
	}

	if resp.StatusCode >= 400 {
		d.forwardUpstreamError(c, req, resp.StatusCode, resp.Header.Get("Content-Type"), upstreamBody)
		return
	}

	d.emit(ctx, hooks.ProviderResponseReceived, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":  req.id,
		"status_code": resp.StatusCode,
	})

	out, err := translateResponseBody(upstreamBody, req.provider.UpstreamFormat(), req.clientFormat, requestModel(req.parsed))
	if err != nil {
		d.fail(c, req.provider, req.id, req.sessionID, format.ErrInternal, err.Error(), nil)
		return
	}

	c.Header("X-Request-ID", req.id)
	c.Data(http.StatusOK, "application/json", out)
	d.complete(c, req, http.StatusOK)
}

// send issues the upstream HTTP call and emits PROVIDER_REQUEST_SENT.
func (d *Dispatcher) send(ctx context.Context, req *request) (*http.Response, error) {
	payload, err := json.Marshal(req.translated)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}
	url := req.provider.UpstreamURL(req.endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
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
	})
	return d.client.Do(httpReq)
}

// forwardUpstreamError returns the provider's error body unchanged.
func (d *Dispatcher) forwardUpstreamError(c *gin.Context, req *request, status int, contentType string, body []byte) {
	d.emit(c.Request.Context(), hooks.ProviderError, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":  req.id,
		"status_code": status,
	})
	d.emit(c.Request.Context(), hooks.RequestFailed, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":  req.id,
		"status_code": status,
	})
	if contentType == "" {
		contentType = "application/json"
	}
	c.Header("X-Request-ID", req.id)
	c.Data(status, contentType, body)
}

func (d *Dispatcher) complete(c *gin.Context, req *request, status int) {
	d.emit(c.Request.Context(), hooks.RequestCompleted, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":  req.id,
		"status_code": status,
		"duration_ms": time.Since(req.started).Milliseconds(),
	})
}

// fail writes a locally generated error envelope and emits REQUEST_FAILED.
func (d *Dispatcher) fail(c *gin.Context, provider plugin.Provider, requestID, sessionID, kind, message string, details any) {
	status := format.StatusForKind(kind)
	d.emit(c.Request.Context(), hooks.RequestFailed, provider.Name(), sessionID, map[string]any{
		"request_id":  requestID,
		"status_code": status,
		"error":       message,
	})
	envelope := format.NewErrorResponse(kind, message)
	envelope.Error.Details = details
	c.Header("X-Request-ID", requestID)
	c.JSON(status, envelope)
}

func (d *Dispatcher) emit(ctx context.Context, ev hooks.Event, provider, sessionID string, data map[string]any) {
	hc := &hooks.HookContext{
		Event:     ev,
		Timestamp: time.Now(),
		Provider:  provider,
		Data:      data,
		Metadata:  map[string]any{},
	}
	if sessionID != "" {
		hc.Metadata["session_id"] = sessionID
	}
	d.hooks.EmitContext(ctx, hc)
}

// sanitizeHeaders strips authorization material before hooks see headers.
func sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "cookie":
			continue
		}
		out[k] = vs[0]
	}
	return out
}

// credentialErrorKind maps credential manager failures to client error
// kinds.
func credentialErrorKind(err error) (string, string) {
	var oe *credentials.OAuthError
	if errors.As(err, &oe) {
		if oe.Transient {
			return format.ErrServiceUnavailable, "credential refresh temporarily unavailable"
		}
		return format.ErrAuthentication, "upstream credentials are invalid or revoked"
	}
	if errors.Is(err, credentials.ErrNotFound) {
		return format.ErrAuthentication, "no upstream credentials configured"
	}
	return format.ErrInternal, err.Error()
}

// upstreamErrorKind maps transport failures to client error kinds.
func upstreamErrorKind(err error) (string, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return format.ErrTimeout, "upstream request timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return format.ErrTimeout, "upstream request timed out"
	}
	logrus.Debugf("Upstream call failed: %v", err)
	return format.ErrServiceUnavailable, "upstream request failed"
}
