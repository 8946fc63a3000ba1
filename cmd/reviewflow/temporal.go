package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-reviewflow/internal/worker"
	"github.com/ahrav/go-reviewflow/internal/workflow"
)

func (a *app) dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
		Logger:    sdklog.NewStructuredLogger(a.logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", a.cfg.Temporal.HostPort, err)
	}
	return c, nil
}

func (a *app) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker that polls remote jobs durably",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := worker.InitializePolicy(a.cfg, a.logger.With("component", "retry"))
			if err != nil {
				return err
			}
			api, err := worker.InitializeClient(a.cfg, policy)
			if err != nil {
				return err
			}

			c, err := a.dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			w := sdkworker.New(c, a.cfg.Temporal.TaskQueue, sdkworker.Options{})
			worker.RegisterAll(w, api, policy, a.sink)

			a.logger.Info("worker starting",
				"task_queue", a.cfg.Temporal.TaskQueue,
				"namespace", a.cfg.Temporal.Namespace)

			stop := make(chan any)
			go func() {
				<-cmd.Context().Done()
				close(stop)
			}()
			return w.Run(stop)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var (
		interval time.Duration
		maxPolls int
	)
	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Follow a job to completion through the Temporal worker",
		Long: `Start a durable poll workflow for a job and wait for its result.
Without a job id the job bound to --session is watched. The workflow keeps
running if this command is interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if interval <= 0 {
				interval = a.cfg.Poll.Interval
			}
			req := workflow.PollRequest{
				SessionID: a.v.GetString("session"),
				Interval:  interval,
				MaxPolls:  maxPolls,
			}
			if len(args) == 1 {
				req.JobID = args[0]
			} else {
				err := a.withSession(ctx, func(ctx context.Context, c *worker.Components) error {
					jobID, err := c.Sequencer.JobID(ctx)
					req.JobID = jobID
					return err
				})
				if err != nil {
					return err
				}
			}

			c, err := a.dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
				ID:        "poll-job-" + req.JobID,
				TaskQueue: a.cfg.Temporal.TaskQueue,
			}, workflow.PollJobWorkflow, req)
			if err != nil {
				return fmt.Errorf("start poll workflow: %w", err)
			}
			a.logger.Info("poll workflow started",
				"workflow_id", run.GetID(),
				"run_id", run.GetRunID())

			var result workflow.PollResult
			if err := run.Get(ctx, &result); err != nil {
				return err
			}
			return a.printJSON(result)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "status poll interval (default from config)")
	cmd.Flags().IntVar(&maxPolls, "max-polls", 0, "maximum number of status reads")
	return cmd
}
