package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-reviewflow/internal/domain"
	"github.com/ahrav/go-reviewflow/internal/flow/sequencer"
	"github.com/ahrav/go-reviewflow/internal/worker"
)

func (a *app) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := uuid.NewString()
			return a.withSessionID(cmd.Context(), id, func(_ context.Context, c *worker.Components) error {
				_, err := fmt.Fprintln(a.out, c.Sequencer.SessionID())
				return err
			})
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the session state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				session, err := c.Sequencer.Session(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(session)
			})
		},
	}
}

func (a *app) submitCmd() *cobra.Command {
	var (
		input   string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create the remote job for the session",
		Long: `Create the remote job for the session and bind it.

A session already bound to a job is left alone unless --replace is given,
which creates a new job and rebinds the session to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := a.readInput(input)
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				submit := c.Sequencer.Submit
				if replace {
					submit = c.Sequencer.Resubmit
				}
				outcome, jobID, err := submit(ctx, raw)
				if err != nil {
					return err
				}
				if outcome == sequencer.OutcomeBusy {
					return a.busy(c.Sequencer, sequencer.OperationSubmit)
				}
				_, err = fmt.Fprintln(a.out, jobID)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input file, - for stdin")
	cmd.Flags().BoolVar(&replace, "replace", false, "create a new job even if the session is bound")
	return cmd
}

func (a *app) triggerCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "trigger <operation>",
		Short: "Start a remote action on the bound job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readInput(input)
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				outcome, resp, err := c.Sequencer.Trigger(ctx, args[0], raw)
				if err != nil {
					return err
				}
				if outcome == sequencer.OutcomeBusy {
					return a.busy(c.Sequencer, args[0])
				}
				return a.printRaw(resp)
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input file, - for stdin")
	return cmd
}

func (a *app) awaitCmd() *cobra.Command {
	var (
		input     string
		resource  string
		noAdvance bool
	)
	cmd := &cobra.Command{
		Use:   "await <operation>",
		Short: "Trigger an action, wait for the job and store the result",
		Long: `Trigger an action on the bound job, poll its status until it finishes and
store the result under the current step. On success the session advances
unless --no-advance is given. With --resource the named job resource is
fetched and stored instead of the status result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readInput(input)
			if err != nil {
				return err
			}
			action := sequencer.StepAction{
				Operation: args[0],
				Await:     true,
				Resource:  resource,
				Advance:   !noAdvance,
			}
			if raw != nil {
				action.Input = raw
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				outcome, result, err := c.Sequencer.Execute(ctx, action)
				if err != nil {
					return err
				}
				if outcome == sequencer.OutcomeBusy {
					return a.busy(c.Sequencer, args[0])
				}
				return a.printRaw(result)
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input file, - for stdin")
	cmd.Flags().StringVarP(&resource, "resource", "r", "", "job resource to fetch as the step result")
	cmd.Flags().BoolVar(&noAdvance, "no-advance", false, "store the result without moving to the next step")
	return cmd
}

func (a *app) advanceCmd() *cobra.Command {
	var result string
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Store a result for the current step and move to the next one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var payload any
			if result != "" {
				if !json.Valid([]byte(result)) {
					return fmt.Errorf("--result is not valid JSON")
				}
				payload = json.RawMessage(result)
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				step, err := c.Sequencer.Advance(ctx, payload)
				if err != nil {
					return err
				}
				if c.Sequencer.IsComplete() {
					_, err = fmt.Fprintf(a.out, "%s (complete)\n", step)
					return err
				}
				_, err = fmt.Fprintln(a.out, step)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "JSON result to store for the current step")
	return cmd
}

func (a *app) gotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto <step>",
		Short: "Move to a step without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				if err := c.Sequencer.GoTo(ctx, domain.StepID(args[0])); err != nil {
					return err
				}
				_, err := fmt.Fprintln(a.out, c.Sequencer.Current())
				return err
			})
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear all session state and return to the first step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				if err := c.Sequencer.Reset(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(a.out, c.Sequencer.Current())
				return err
			})
		},
	}
}

func (a *app) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <resource>",
		Short: "Print a resource of the bound job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, c *worker.Components) error {
				jobID, err := c.Sequencer.JobID(ctx)
				if err != nil {
					return err
				}
				doc, err := c.Client.Fetch(ctx, jobID, args[0])
				if err != nil {
					return err
				}
				return a.printRaw(doc)
			})
		},
	}
}
