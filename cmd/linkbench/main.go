package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/internal/linkproc"
	"github.com/pingsantohq/linkbench/internal/logging"
)

// Dependencies lets tests replace the process-level collaborators.
type Dependencies struct {
	Stdout    io.Writer
	Stderr    io.Writer
	Now       func() time.Time
	Launcher  linkproc.Launcher
	NewLogger func(verbose bool) (*zap.Logger, error)
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewLogger == nil {
		d.NewLogger = logging.New
	}
	return d
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand(Dependencies{}).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(deps Dependencies) *cobra.Command {
	deps = deps.withDefaults()
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "linkbench",
		Short: "Parameter sweeps and stress runs for a LoRa link program",
		Long: `linkbench runs a link program in transmit and receive roles against a
radio bench, counts what each role reports, and writes one CSV row per trial.`,
		// Usage is printed for usage errors only, by withUsage and the
		// flag error func, never for run failures.
		SilenceUsage: true,
	}
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		cmd.PrintErrln(cmd.UsageString())
		return err
	})
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Harness configuration file (or set LINKBENCH_CONFIG)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newSweepCommand(deps, opts),
		newStressCommand(deps, opts),
		newMakeConfigCommand(deps, opts),
		newBundleCommand(deps, opts),
	)
	return root
}

// withUsage prints the command's usage on stderr when its arguments are wrong.
func withUsage(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			cmd.PrintErrln(cmd.UsageString())
			return err
		}
		return nil
	}
}

func loadConfig(ctx context.Context, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Resolve(ctx, opts.configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(deps Dependencies, opts *rootOptions) (*zap.SugaredLogger, func(), error) {
	logger, err := deps.NewLogger(opts.verbose)
	if err != nil {
		return nil, nil, err
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}
