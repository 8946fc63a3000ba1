// Package activity holds the plumbing shared by reviewflow's Temporal
// activities: execution info, logging, heartbeats and session events. Every
// helper also works on a plain context, where logs go to slog and heartbeats
// are skipped, so activity bodies can be unit tested directly.
package activity

import (
	"context"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-reviewflow/pkg/events"
)

const (
	emitAttempts   = 2
	emitRetryDelay = 200 * time.Millisecond
)

// Logger is the subset shared by the Temporal activity logger and
// *slog.Logger.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Info identifies the activity execution behind a context.
type Info struct {
	WorkflowID string
	RunID      string
	ActivityID string
	TaskQueue  string
	Attempt    int32
}

// Base is embedded by activity types.
type Base struct {
	sink   events.EventSink
	logger *slog.Logger
}

// NewBase returns a Base that emits to sink and logs to logger outside an
// activity. A nil sink drops events; a nil logger uses the default logger.
func NewBase(sink events.EventSink, logger *slog.Logger) Base {
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	if logger == nil {
		logger = slog.Default().With("component", "activity")
	}
	return Base{sink: sink, logger: logger}
}

// Info reports the execution behind ctx. The flag is false outside an
// activity.
func (b Base) Info(ctx context.Context) (Info, bool) {
	if !activity.IsActivity(ctx) {
		return Info{}, false
	}
	info := activity.GetInfo(ctx)
	return Info{
		WorkflowID: info.WorkflowExecution.ID,
		RunID:      info.WorkflowExecution.RunID,
		ActivityID: info.ActivityID,
		TaskQueue:  info.TaskQueue,
		Attempt:    info.Attempt,
	}, true
}

// Log returns the activity logger, or the fallback slog logger outside an
// activity.
func (b Base) Log(ctx context.Context) Logger {
	if activity.IsActivity(ctx) {
		return activity.GetLogger(ctx)
	}
	return b.logger
}

// Heartbeat records progress details. It does nothing outside an activity.
func (b Base) Heartbeat(ctx context.Context, details ...any) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}

// Emit appends env to the sink, retrying once after a short pause. Event
// delivery never fails the activity; a lost event is logged.
func (b Base) Emit(ctx context.Context, env events.Envelope) {
	log := b.Log(ctx)

	var err error
	for attempt := range emitAttempts {
		if attempt > 0 {
			t := time.NewTimer(emitRetryDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				log.Warn("event dropped", "event_type", env.Type, "session_id", env.SessionID, "error", ctx.Err())
				return
			}
		}
		if err = b.sink.Append(ctx, env); err == nil {
			log.Debug("event emitted", "event_type", env.Type, "event_id", env.ID, "job_id", env.JobID)
			return
		}
	}
	log.Error("event dropped",
		"event_type", env.Type,
		"session_id", env.SessionID,
		"attempts", emitAttempts,
		"error", err)
}
