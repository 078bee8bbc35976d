package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ccproxy-dev/ccproxy/internal/convert"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/hooks"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// hopByHopHeaders are never copied from the upstream response.
var hopByHopHeaders = map[string]bool{
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"cache-control":     true,
}

const streamReadBufferSize = 4096

// stream runs the streaming pipeline: upstream SSE in, converted SSE out.
func (d *Dispatcher) stream(c *gin.Context, req *request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), d.settings.UpstreamTimeout.Std())
	defer cancel()

	resp, err := d.send(ctx, req)
	if err != nil {
		kind, msg := upstreamErrorKind(err)
		d.fail(c, req.provider, req.id, req.sessionID, kind, msg, nil)
		return
	}
	defer resp.Body.Close()

	// An upstream error before stream start is forwarded verbatim.
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		d.forwardUpstreamError(c, req, resp.StatusCode, resp.Header.Get("Content-Type"), body)
		return
	}

	converter, err := convert.NewStreamConverter(req.provider.UpstreamFormat(), req.clientFormat, req.parsed)
	if err != nil {
		d.fail(c, req.provider, req.id, req.sessionID, format.ErrInternal, err.Error(), nil)
		return
	}

	for k, vs := range resp.Header {
		if hopByHopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Request-ID", req.id)
	c.Writer.WriteHeader(resp.StatusCode)

	d.emit(ctx, hooks.ProviderStreamStart, req.provider.Name(), req.sessionID, map[string]any{
		"request_id": req.id,
	})

	w := &streamWriter{dispatcher: d, gin: c, req: req, ctx: ctx}
	parser := &sse.Parser{}
	buf := make([]byte, streamReadBufferSize)
	upstreamDone := false

	for !upstreamDone {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				if w.handleUpstreamEvent(converter, ev) {
					upstreamDone = true
					break
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF && ctx.Err() == nil {
				logrus.WithField("request_id", req.id).Debugf("Upstream stream read error: %v", readErr)
			}
			break
		}
	}

	cancelled := c.Request.Context().Err() != nil
	if !w.errored && !cancelled {
		for _, ev := range parser.Close() {
			if w.handleUpstreamEvent(converter, ev) {
				break
			}
		}
		if !w.errored {
			if frames, err := converter.Finish(); err == nil {
				w.writeFrames(frames)
			} else {
				logrus.WithField("request_id", req.id).Warnf("Stream finish failed: %v", err)
			}
		}
	}

	d.emit(context.Background(), hooks.ProviderStreamEnd, req.provider.Name(), req.sessionID, map[string]any{
		"request_id":   req.id,
		"total_chunks": w.chunks,
		"total_bytes":  w.bytes,
		"cancelled":    cancelled,
	})
	if !cancelled {
		d.complete(c, req, resp.StatusCode)
	}
}

// streamWriter writes converted frames to the client and keeps the per
// stream accounting the end hook reports.
type streamWriter struct {
	dispatcher *Dispatcher
	gin        *gin.Context
	req        *request
	ctx        context.Context

	chunks  int
	bytes   int
	errored bool
}

// handleUpstreamEvent feeds one upstream SSE event through the converter.
// It returns true when the stream is finished, either by a terminator or a
// mid-stream error.
func (w *streamWriter) handleUpstreamEvent(converter convert.StreamConverter, ev sse.Event) bool {
	if ev.IsDone() {
		return true
	}
	if errBody := convert.ErrorPayload(ev.Data); errBody != nil {
		// A mid-stream error is a single data frame with no event name and
		// no [DONE] after it.
		w.writeFrames([]sse.Event{{Data: errBody}})
		w.errored = true
		return true
	}
	frames, err := converter.Next(ev.Data)
	if err != nil {
		logrus.WithField("request_id", w.req.id).Warnf("Dropping malformed stream event: %v", err)
		return false
	}
	w.writeFrames(frames)
	return false
}

func (w *streamWriter) writeFrames(frames []sse.Event) {
	for _, ev := range frames {
		var frame []byte
		if ev.IsDone() {
			frame = sse.Frame("", []byte(sse.Done))
		} else {
			frame = sse.Frame(ev.Name, ev.Data)
		}
		if _, err := w.gin.Writer.Write(frame); err != nil {
			return
		}
		if f, ok := w.gin.Writer.(http.Flusher); ok {
			f.Flush()
		}
		w.chunks++
		w.bytes += len(frame)
		w.dispatcher.emit(w.ctx, hooks.ProviderStreamChunk, w.req.provider.Name(), w.req.sessionID, map[string]any{
			"request_id": w.req.id,
			"bytes":      len(frame),
		})
	}
}
