// Package worker exposes helpers to register workflows/activities with a Temporal worker.
package worker

import (
	sdkactivity "go.temporal.io/sdk/activity"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-reviewflow/internal/activity"
	"github.com/ahrav/go-reviewflow/internal/flow/retry"
	"github.com/ahrav/go-reviewflow/internal/workflow"
	pkgactivity "github.com/ahrav/go-reviewflow/pkg/activity"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

// Registry is the subset of a Temporal worker used for registration.
// sdkworker.Worker and the test environments satisfy it.
type Registry interface {
	RegisterWorkflow(w any)
	RegisterActivityWithOptions(a any, options sdkactivity.RegisterOptions)
}

var _ Registry = (sdkworker.Worker)(nil)

// RegisterAll registers the durable polling workflow and its activities.
// It must be called once during worker startup, before the worker starts.
// A nil sink disables activity events.
func RegisterAll(w Registry, api activity.StatusFetcher, policy *retry.Policy, sink events.EventSink) {
	statusActivities := activity.NewStatusActivities(pkgactivity.NewBase(sink, nil), api, policy)

	w.RegisterWorkflow(workflow.PollJobWorkflow)
	w.RegisterActivityWithOptions(statusActivities.GetJobStatus, sdkactivity.RegisterOptions{
		Name: activity.GetJobStatusName,
	})
}
