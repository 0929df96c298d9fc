package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/linkbench/internal/classify"
	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/internal/health"
	"github.com/pingsantohq/linkbench/internal/metrics"
	"github.com/pingsantohq/linkbench/internal/report"
	"github.com/pingsantohq/linkbench/internal/synth"
	"github.com/pingsantohq/linkbench/internal/trial"
	"github.com/pingsantohq/linkbench/internal/verify"
)

type benchOptions struct {
	outputDir string
	configDir string
}

func (b *benchOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.outputDir, "output-dir", "", "Directory for the report, log, manifest and metrics snapshot (default from config)")
	cmd.Flags().StringVar(&b.configDir, "config-dir", "", "Directory the role documents are written to (default from config)")
}

type benchPlan struct {
	kind        report.Kind
	executable  string
	observation time.Duration
	seconds     float64
}

func newSweepCommand(deps Dependencies, opts *rootOptions) *cobra.Command {
	bench := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "sweep <path_to_link_executable> [observation_seconds]",
		Short: "Run one trial for every bandwidth, coding rate and spreading factor",
		Args:  withUsage(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var observation time.Duration
			if len(args) == 2 {
				seconds, err := parseSeconds(args[1])
				if err != nil {
					return err
				}
				observation = trial.Seconds(seconds)
			}
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(args) < 2 {
				observation = cfg.Run.Observation
			}
			return runBench(cmd.Context(), deps, opts, bench, cfg, benchPlan{
				kind:        report.KindSweep,
				executable:  args[0],
				observation: observation,
			})
		},
	}
	bench.register(cmd)
	return cmd
}

func newStressCommand(deps Dependencies, opts *rootOptions) *cobra.Command {
	bench := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "stress <observation_seconds> <path_to_link_executable>",
		Short: "Run a single long trial with the configured stress parameters",
		Args:  withUsage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := parseSeconds(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return runBench(cmd.Context(), deps, opts, bench, cfg, benchPlan{
				kind:        report.KindStress,
				executable:  args[1],
				observation: trial.Seconds(seconds),
				seconds:     seconds,
			})
		},
	}
	bench.register(cmd)
	return cmd
}

func parseSeconds(raw string) (float64, error) {
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("observation seconds %q: %w", raw, err)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, fmt.Errorf("observation seconds must be a non-negative number, got %q", raw)
	}
	return seconds, nil
}

func runBench(ctx context.Context, deps Dependencies, opts *rootOptions, bench *benchOptions, cfg config.Config, plan benchPlan) (err error) {
	if bench.outputDir != "" {
		cfg.Output.Dir = bench.outputDir
	}
	if bench.configDir != "" {
		cfg.Link.ConfigDir = bench.configDir
	}

	logger, syncLogger, err := newLogger(deps, opts)
	if err != nil {
		return err
	}
	defer syncLogger()

	verifier, err := verify.FromConfig(cfg.Link)
	if err != nil {
		return err
	}

	startedAt := deps.Now()
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	rep, err := report.Open(cfg.Output.Dir, plan.kind, startedAt)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rep.Close()) }()

	progressLog, err := report.OpenLog(cfg.Output.Dir, startedAt, runID)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, progressLog.Close()) }()

	store := metrics.NewStore()
	store.SetRun(runID, plan.kind.String())

	runnerOpts := []trial.Option{
		trial.WithLauncher(deps.Launcher),
		trial.WithClassifier(classify.NewMarkerClassifier(cfg.Markers)),
		trial.WithLogger(logger),
		trial.WithMetrics(store.TrialRecorder()),
		trial.WithProgress(deps.Stdout),
		trial.WithProgressLog(progressLog),
		trial.WithCooldown(cfg.Run.Cooldown),
		trial.WithGrace(cfg.Run.Grace()),
	}
	if verifier != nil {
		link := cfg.Link
		runnerOpts = append(runnerOpts, trial.WithVerifier(verifier, func(executable string) string {
			return verify.SignaturePath(link, executable)
		}))
	}
	runner := trial.New(synth.New(cfg, ""), rep, runnerOpts...)

	logger.Infof("%s run starting: executable=%s observation=%s report=%s", plan.kind, plan.executable, plan.observation, rep.Path())

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	trials := 0
	execute := func(ctx context.Context) error {
		switch plan.kind {
		case report.KindStress:
			if _, err := runner.Stress(ctx, plan.executable, cfg.Stress.Parameters, plan.seconds); err != nil {
				return err
			}
			trials = 1
			return nil
		default:
			n, err := runner.Sweep(ctx, plan.executable, cfg.Sweep, plan.observation)
			trials = n
			return err
		}
	}

	var runErr error
	if cfg.Run.MetricsAddr == "" {
		runErr = execute(runCtx)
	} else {
		checker := health.NewChecker(store, health.StaleAfter(plan.observation, cfg.Run.Grace(), cfg.Run.Cooldown))
		checker.ObserveRunStart(deps.Now())
		grp, groupCtx := errgroup.WithContext(runCtx)
		serveCtx, stopServing := context.WithCancel(groupCtx)
		grp.Go(func() error {
			return serveMonitoring(serveCtx, cfg.Run.MetricsAddr, store, checker, logger)
		})
		grp.Go(func() error {
			defer stopServing()
			return execute(groupCtx)
		})
		runErr = grp.Wait()
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Warnf("run interrupted after %d trials", trials)
	}

	return multierr.Combine(runErr, finishRun(deps, logger, cfg, plan, runID, startedAt, trials, runErr, store, rep, progressLog))
}

func finishRun(deps Dependencies, logger *zap.SugaredLogger, cfg config.Config, plan benchPlan, runID string, startedAt time.Time, trials int, runErr error, store *metrics.Store, rep *report.Writer, progressLog *report.ProgressLog) error {
	// Artifacts are written even when the run was interrupted.
	ctx := context.Background()

	metricsPath, snapErr := store.WriteSnapshot(ctx, cfg.Output.Dir, startedAt)
	manifest := config.Manifest{
		RunID:       runID,
		Mode:        plan.kind.String(),
		Executable:  plan.executable,
		Dialect:     cfg.Link.Dialect,
		Observation: plan.observation,
		StartedAt:   startedAt,
		FinishedAt:  deps.Now(),
		Trials:      trials,
		ReportPath:  rep.Path(),
		LogPath:     progressLog.Path(),
		MetricsPath: metricsPath,
	}
	if runErr != nil {
		manifest.LastError = runErr.Error()
	}
	manifestPath, manifestErr := config.SaveManifest(ctx, cfg.Output.Dir, manifest)
	if manifestErr == nil {
		logger.Infof("%s run finished: %d trials, report=%s manifest=%s", plan.kind, trials, rep.Path(), manifestPath)
	}
	return multierr.Combine(snapErr, manifestErr)
}
