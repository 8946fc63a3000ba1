// Package retry decides whether a failed remote call may be repeated and how
// long to wait before repeating it. Only idempotent reads are ever retried;
// non-idempotent triggers surface their first failure to the caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

var (
	// Configuration validation errors.
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")

	// Runtime errors.
	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// Kind distinguishes operations that are safe to repeat from those that are not.
type Kind int

const (
	// KindRead is an idempotent read such as a status poll or a resource fetch.
	KindRead Kind = iota
	// KindTrigger is a non-idempotent call such as submit or start validation.
	KindTrigger
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Verdict is the outcome of classifying a failure.
type Verdict int

const (
	// Fatal failures are surfaced to the caller immediately.
	Fatal Verdict = iota
	// Retryable failures may be repeated after a backoff.
	Retryable
)

// String returns the verdict name used in logs.
func (v Verdict) String() string {
	if v == Retryable {
		return "retryable"
	}
	return "fatal"
}

// RetryAfterProvider defines an interface for error types that can provide
// a specific duration to wait before retrying.
type RetryAfterProvider interface {
	// GetRetryAfter returns the recommended duration to wait before the next attempt.
	// If no specific duration is available, it should return zero.
	GetRetryAfter() time.Duration
}

// Policy classifies failures and computes backoff. It is safe for concurrent
// use; attempt counters live in each Do invocation, not in the Policy.
type Policy struct {
	config configuration.RetryConfig
	logger *slog.Logger
	stats  *retryStats
}

// New validates cfg and returns a Policy.
func New(cfg configuration.RetryConfig) (*Policy, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = configuration.DefaultBackoffMultiplier
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}

	return &Policy{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		stats:  &retryStats{},
	}, nil
}

// MustNew is New for configurations known to be valid, such as defaults.
func MustNew(cfg configuration.RetryConfig) *Policy {
	p, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// WithLogger returns a copy of the policy that logs to logger. Stats are shared.
func (p *Policy) WithLogger(logger *slog.Logger) *Policy {
	cp := *p
	cp.logger = logger
	return &cp
}

// MaxAttempts returns the attempt cap for one invocation of an idempotent read.
func (p *Policy) MaxAttempts() int { return p.config.MaxAttempts }

// Classify decides whether err, returned by an operation of the given kind,
// may be retried.
//
// Non-idempotent triggers are always fatal. For reads, rate limiting,
// timeouts, connection failures and gateway unavailability are retryable;
// client errors, remote job failures, exhausted retries, cancellation and
// anything unrecognised are fatal.
func (p *Policy) Classify(kind Kind, err error) Verdict {
	if err == nil || kind != KindRead {
		return Fatal
	}
	if isRetryable(err) {
		return Retryable
	}
	return Fatal
}

// isRetryable evaluates error types to determine retry eligibility for reads.
// Specific types are checked before the RetryAfterProvider interface so their
// classification takes precedence.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var exhausted *flowerrors.ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}

	var remoteFailure *flowerrors.RemoteFailure
	if errors.As(err, &remoteFailure) {
		return false
	}

	var rateLimitErr *flowerrors.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var remoteErr *flowerrors.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.IsRetryable()
	}

	var workflowErr *flowerrors.WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if flowerrors.IsNetworkError(err) {
		return true
	}

	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return true
	}

	return false
}
