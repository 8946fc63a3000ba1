package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	"github.com/ahrav/go-reviewflow/internal/flow/sequencer"
	"github.com/ahrav/go-reviewflow/internal/worker"
	"github.com/ahrav/go-reviewflow/pkg/events"
)

var errSessionRequired = errors.New("a session id is required (--session or REVIEWFLOW_SESSION)")

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer
	errOut  io.Writer
	in      io.Reader

	cfg    *configuration.Config
	logger *slog.Logger
	// sink receives session and activity events.
	sink events.EventSink
}

// NewRootCommand builds the command tree. Command output goes to out, logs
// to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		out:    out,
		errOut: errOut,
		in:     os.Stdin,
	}

	root := &cobra.Command{
		Use:   "reviewflow",
		Short: "Drive reviewer discovery sessions against the remote job service",
		Long: `reviewflow steps a session through its pipeline: submit the manuscript,
trigger each remote action, wait for it to finish and store the result.

Session state lives in the configured store, so every command picks up where
the previous one left off.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "",
		"config file (YAML, JSON or TOML)")
	root.PersistentFlags().StringP("session", "s", "",
		"session id")
	_ = a.v.BindPFlag("session", root.PersistentFlags().Lookup("session"))

	root.AddCommand(
		a.newCmd(),
		a.showCmd(),
		a.submitCmd(),
		a.triggerCmd(),
		a.awaitCmd(),
		a.advanceCmd(),
		a.gotoCmd(),
		a.resetCmd(),
		a.fetchCmd(),
		a.workerCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) load(_ *cobra.Command, _ []string) error {
	cfg, err := configuration.LoadWith(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = configuration.NewLogger(cfg.Observability, a.errOut)
	a.sink = events.NewLogEventSink(a.logger.With("component", "events"))
	return nil
}

func (a *app) sessionID() (string, error) {
	id := a.v.GetString("session")
	if id == "" {
		return "", errSessionRequired
	}
	return id, nil
}

// withSession wires the components for the selected session, runs fn and
// releases them.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, c *worker.Components) error) error {
	id, err := a.sessionID()
	if err != nil {
		return err
	}
	return a.withSessionID(ctx, id, fn)
}

func (a *app) withSessionID(ctx context.Context, id string, fn func(ctx context.Context, c *worker.Components) error) error {
	components, err := worker.InitializeSequencer(ctx, a.cfg, id, a.sink, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := components.Close(); cerr != nil {
			a.logger.Warn("failed to close session components", "error", cerr)
		}
	}()
	return fn(ctx, components)
}

// busy reports a dropped invocation. It is not an error.
func (a *app) busy(seq *sequencer.Sequencer, op string) error {
	_, err := fmt.Fprintf(a.out, "%s is already running for session %s; request dropped\n", op, seq.SessionID())
	return err
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printRaw(raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(a.out, string(raw))
		return err
	}
	return a.printJSON(v)
}

// readInput loads a JSON document from path, or from stdin when path is "-".
// An empty path means no input.
func (a *app) readInput(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return nil, nil
	case "-":
		data, err = io.ReadAll(a.in)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("input %s is not valid JSON", path)
	}
	return data, nil
}
