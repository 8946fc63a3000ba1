package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
)

// ErrMissingBaseURL is returned by NewClient without a remote base URL.
var ErrMissingBaseURL = errors.New("remote base_url is required")

// Client calls the remote job API. Submit, Trigger and GetStatus make a
// single attempt: the first two are not idempotent and status reads are
// retried by the poll loop that owns them. Fetch retries locally under the
// retry policy.
type Client struct {
	handler Handler
	routes  configuration.RoutesConfig
	policy  *retry.Policy
}

// NewClient builds a client with the default pipeline:
// logging, rate limit, timeout, HTTP.
func NewClient(cfg configuration.RemoteConfig, policy *retry.Policy) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base_url: %w", err)
	}

	header := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	logger := slog.Default().With("component", "transport")
	core := NewHTTPHandler(cfg.HTTPClient, cfg.BaseURL, header)
	h := Chain(core,
		NewLoggingMiddleware(logger),
		NewRateLimitMiddleware(cfg.RequestsPerSecond, cfg.Burst),
		NewTimeoutMiddleware(cfg.HTTPTimeout),
	)
	return NewClientWithHandler(h, cfg.Routes, policy), nil
}

// NewClientWithHandler builds a client over an existing pipeline. Empty
// routes fall back to the defaults, a nil policy to the default retry
// settings.
func NewClientWithHandler(h Handler, routes configuration.RoutesConfig, policy *retry.Policy) *Client {
	defaults := configuration.DefaultRoutes()
	if routes.Submit == "" {
		routes.Submit = defaults.Submit
	}
	if routes.Status == "" {
		routes.Status = defaults.Status
	}
	if routes.Trigger == "" {
		routes.Trigger = defaults.Trigger
	}
	if routes.Resource == "" {
		routes.Resource = defaults.Resource
	}
	if policy == nil {
		policy = retry.MustNew(configuration.DefaultConfig().Retry)
	}
	return &Client{
		handler: h,
		routes:  routes,
		policy:  policy,
	}
}

// Submit creates a remote job from input and returns its id.
func (c *Client) Submit(ctx context.Context, input json.RawMessage) (string, error) {
	resp, err := c.handler.Handle(ctx, &Request{
		Operation: OpSubmit,
		Method:    http.MethodPost,
		Path:      c.routes.Submit,
		Body:      input,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("submit: %w: %w", flowerrors.ErrInvalidResponse, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("submit: %w: missing job_id", flowerrors.ErrInvalidResponse)
	}
	return out.JobID, nil
}

// GetStatus reads the current status of jobID.
func (c *Client) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	resp, err := c.handler.Handle(ctx, &Request{
		Operation: OpGetStatus,
		Method:    http.MethodGet,
		Path:      expand(c.routes.Status, jobID, "", ""),
		JobID:     jobID,
	})
	if err != nil {
		return domain.JobStatus{}, err
	}

	var status domain.JobStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return domain.JobStatus{}, fmt.Errorf("get_status %s: %w: %w", jobID, flowerrors.ErrInvalidResponse, err)
	}
	if err := status.Validate(); err != nil {
		return domain.JobStatus{}, fmt.Errorf("get_status %s: %w: %w", jobID, flowerrors.ErrInvalidResponse, err)
	}
	return status, nil
}

// Trigger starts action on jobID and returns the raw response document.
func (c *Client) Trigger(ctx context.Context, jobID, action string, input json.RawMessage) (json.RawMessage, error) {
	resp, err := c.handler.Handle(ctx, &Request{
		Operation: OpTrigger,
		Method:    http.MethodPost,
		Path:      expand(c.routes.Trigger, jobID, action, ""),
		Body:      input,
		JobID:     jobID,
		Action:    action,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Fetch reads a job resource, retrying transient failures.
func (c *Client) Fetch(ctx context.Context, jobID, resource string) (json.RawMessage, error) {
	op := "fetch " + resource
	return retry.Value(ctx, c.policy, op, retry.KindRead, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := c.handler.Handle(ctx, &Request{
			Operation: OpFetch,
			Method:    http.MethodGet,
			Path:      expand(c.routes.Resource, jobID, "", resource),
			JobID:     jobID,
			Resource:  resource,
		})
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
}

// expand substitutes path parameters, escaping each value.
func expand(route, jobID, action, resource string) string {
	return strings.NewReplacer(
		"{job_id}", url.PathEscape(jobID),
		"{action}", url.PathEscape(action),
		"{resource}", url.PathEscape(resource),
	).Replace(route)
}
