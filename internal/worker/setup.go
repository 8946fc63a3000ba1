// Package worker provides initialization and setup utilities for Temporal workers.
// It also builds the session engine components shared by the worker and the
// command line, keeping the flow packages free of wiring logic.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	"github.com/ahrav/go-reviewflow/internal/flow/lock"
	"github.com/ahrav/go-reviewflow/internal/flow/poll"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
	"github.com/ahrav/go-reviewflow/internal/flow/sequencer"
	"github.com/ahrav/go-reviewflow/internal/flow/store"
	"github.com/ahrav/go-reviewflow/internal/flow/transport"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

// InitializeStore opens the configured session store backend.
func InitializeStore(ctx context.Context, cfg configuration.StoreConfig) (*store.Store, error) {
	switch cfg.Backend {
	case configuration.StoreBackendMemory:
		return store.New(store.NewMemoryBackend()), nil
	case configuration.StoreBackendSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = configuration.DefaultSQLitePath
		}
		backend, err := store.OpenSQLite(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		return store.New(backend), nil
	case configuration.StoreBackendRedis:
		client, err := store.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis store: %w", err)
		}
		return store.New(store.NewRedisBackend(client)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// InitializeLocker creates the single-flight guard. The returned close
// function releases any connection the locker holds.
func InitializeLocker(ctx context.Context, cfg *configuration.Config) (lock.Locker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Lock.Backend {
	case configuration.LockBackendMemory, "":
		return lock.NewRegistry(), noop, nil
	case configuration.LockBackendRedis:
		client, err := store.DialRedis(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to initialize redis locker: %w", err)
		}
		ttl := cfg.Lock.LeaseTTL
		if ttl <= 0 {
			ttl = configuration.DefaultLeaseTTL
		}
		locker, err := lock.NewRedisLocker(client, ttl)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return locker, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

// InitializePolicy builds the retry policy shared by the client and the
// poll engine.
func InitializePolicy(cfg *configuration.Config, logger *slog.Logger) (*retry.Policy, error) {
	policy, err := retry.New(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry policy: %w", err)
	}
	if logger != nil {
		policy = policy.WithLogger(logger)
	}
	return policy, nil
}

// InitializeClient creates the HTTP job API client.
func InitializeClient(cfg *configuration.Config, policy *retry.Policy) (*transport.Client, error) {
	client, err := transport.NewClient(cfg.Remote, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job api client: %w", err)
	}
	return client, nil
}

var offline = transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
	return nil, transport.ErrMissingBaseURL
})

// Components holds everything InitializeSequencer built. Close releases the
// store and lock connections after cancelling any running poll task.
type Components struct {
	Sequencer *sequencer.Sequencer
	Store     *store.Store
	Engine    *poll.Engine
	Client    *transport.Client
	Policy    *retry.Policy

	closeLocker func() error
}

// Close cancels poll tasks and closes backend connections.
func (c *Components) Close() error {
	c.Engine.CancelAll()
	return errors.Join(c.closeLocker(), c.Store.Close())
}

// InitializeSequencer wires a sequencer for sessionID from cfg. A nil sink
// logs events through logger.
func InitializeSequencer(
	ctx context.Context,
	cfg *configuration.Config,
	sessionID string,
	sink events.EventSink,
	logger *slog.Logger,
) (*Components, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NewLogEventSink(logger.With("component", "events"))
	}

	opts, err := sequencer.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	policy, err := InitializePolicy(cfg, logger.With("component", "retry"))
	if err != nil {
		return nil, err
	}
	client, err := InitializeClient(cfg, policy)
	switch {
	case errors.Is(err, transport.ErrMissingBaseURL):
		// Local navigation still works; remote calls fail when attempted.
		client = transport.NewClientWithHandler(offline, cfg.Remote.Routes, policy)
	case err != nil:
		return nil, err
	}

	st, err := InitializeStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	locker, closeLocker, err := InitializeLocker(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pollCfg := cfg.Poll
	if pollCfg.FetchTimeout <= 0 {
		pollCfg.FetchTimeout = cfg.CallTimeout
	}
	engine := poll.New(policy, pollCfg, poll.WithLogger(logger.With("component", "poll")))

	seq, err := sequencer.New(ctx, sessionID, opts, sequencer.Dependencies{
		Store:  st,
		Locker: locker,
		Engine: engine,
		API:    client,
		Events: sink,
		Logger: logger,
	})
	if err != nil {
		_ = closeLocker()
		_ = st.Close()
		return nil, err
	}

	return &Components{
		Sequencer:   seq,
		Store:       st,
		Engine:      engine,
		Client:      client,
		Policy:      policy,
		closeLocker: closeLocker,
	}, nil
}
