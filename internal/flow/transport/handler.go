// Package transport is the HTTP client for the remote job API.
//
// Calls are modelled as Requests flowing through a composable Handler
// pipeline. The core handler performs the HTTP exchange and maps non-2xx
// responses onto *flowerrors.RemoteError; middlewares add logging, client-side
// rate limiting and per-call timeouts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// Handler processes job API requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// Middleware executes in the order provided with first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs HTTP exchanges
// against baseURL. header is added to every request.
func NewHTTPHandler(client *http.Client, baseURL string, header http.Header) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHandler{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
	}
}

// httpHandler is the core handler that makes actual HTTP requests.
type httpHandler struct {
	client  *http.Client
	baseURL string
	header  http.Header
}

// Handle implements Handler by making one HTTP request.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, h.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range h.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", req.Operation, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", req.Operation, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, newRemoteError(req.Operation, httpResp, raw)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: %w: body is not JSON", req.Operation, flowerrors.ErrInvalidResponse)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
		LatencyMs:  latency.Milliseconds(),
	}, nil
}

// newRemoteError maps a non-2xx response onto a classified RemoteError.
func newRemoteError(op OperationType, resp *http.Response, body []byte) *flowerrors.RemoteError {
	remoteErr := &flowerrors.RemoteError{
		Op:         string(op),
		StatusCode: resp.StatusCode,
		Type:       flowerrors.TypeForStatus(resp.StatusCode),
		Message:    errorMessage(resp.Status, body),
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if d := retry.ParseRetryAfter(header); d > 0 {
			remoteErr.RetryAfter = int(math.Ceil(d.Seconds()))
		}
	}
	return remoteErr
}

// errorMessage extracts a message from common JSON error shapes, falling back
// to the raw body or the status line.
func errorMessage(status string, body []byte) string {
	var doc struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		switch {
		case doc.Message != "":
			return doc.Message
		case doc.Detail != "":
			return doc.Detail
		}
		if s, ok := doc.Error.(string); ok && s != "" {
			return s
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		const maxLen = 512
		if len(text) > maxLen {
			text = text[:maxLen]
		}
		return text
	}
	return status
}
