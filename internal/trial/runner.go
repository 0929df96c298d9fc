// Package trial drives the link program through parameter trials: write the
// role documents, run both roles for an observation window, stop them, count
// markers and record the row.
package trial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/linkbench/internal/classify"
	"github.com/pingsantohq/linkbench/internal/config"
	"github.com/pingsantohq/linkbench/internal/linkproc"
	"github.com/pingsantohq/linkbench/internal/logging"
	"github.com/pingsantohq/linkbench/internal/metrics"
	"github.com/pingsantohq/linkbench/internal/report"
	"github.com/pingsantohq/linkbench/internal/synth"
	"github.com/pingsantohq/linkbench/pkg/types"
)

// ErrNegativeObservation is returned for an observation window below zero.
var ErrNegativeObservation = errors.New("observation must not be negative")

// ConfigWriter persists the two role documents for a parameter triple.
type ConfigWriter interface {
	WritePair(params types.Parameters) (synth.Paths, error)
}

// ReportSink receives one row per completed trial.
type ReportSink interface {
	Write(res types.TrialResult) error
}

// ProgressRecorder mirrors completed trials into the run's log artifact.
type ProgressRecorder interface {
	Record(res types.TrialResult)
}

// Verifier checks the link executable before the first trial.
type Verifier interface {
	Verify(ctx context.Context, artifactPath, signaturePath string) error
}

type Option func(*Runner)

func WithLauncher(l linkproc.Launcher) Option {
	return func(r *Runner) {
		if l != nil {
			r.launcher = l
		}
	}
}

func WithClassifier(c classify.Classifier) Option {
	return func(r *Runner) {
		if c != nil {
			r.classifier = c
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(rec metrics.TrialRecorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

// WithProgress sets where the "Did:" lines go.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.progress = w
		}
	}
}

func WithProgressLog(rec ProgressRecorder) Option {
	return func(r *Runner) {
		r.progressLog = rec
	}
}

// WithCooldown enforces a minimum gap between trial starts.
func WithCooldown(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithGrace bounds how long a terminated role may take to exit before it is killed.
func WithGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.grace = d
		}
	}
}

func WithVerifier(v Verifier, signaturePath func(executable string) string) Option {
	return func(r *Runner) {
		r.verifier = v
		r.signaturePath = signaturePath
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner executes trials strictly one after another: both roles share the
// radio bench, so trials never overlap.
type Runner struct {
	configs     ConfigWriter
	report      ReportSink
	launcher    linkproc.Launcher
	classifier  classify.Classifier
	logger      *zap.SugaredLogger
	metrics     metrics.TrialRecorder
	progress    io.Writer
	progressLog ProgressRecorder
	limiter     *rate.Limiter
	grace       time.Duration
	now         func() time.Time

	verifier      Verifier
	signaturePath func(string) string
}

func New(configs ConfigWriter, report ReportSink, opts ...Option) *Runner {
	r := &Runner{
		configs:    configs,
		report:     report,
		classifier: classify.NewMarkerClassifier(config.Default().Markers),
		logger:     logging.Nop(),
		metrics:    metrics.NoopTrialRecorder{},
		progress:   io.Discard,
		grace:      config.DefaultTerminationGrace,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.launcher == nil {
		r.launcher = &linkproc.ExecLauncher{Logger: r.logger}
	}
	return r
}

// Sweep runs one trial per member of the domain's Cartesian product, ordered
// by bandwidth, then coding rate, then spreading factor. It returns the
// number of rows written.
func (r *Runner) Sweep(ctx context.Context, executable string, domain config.SweepConfig, observation time.Duration) (int, error) {
	if err := r.prepare(ctx, executable, observation); err != nil {
		return 0, err
	}
	total := len(domain.Bandwidths) * len(domain.CodingRates) * len(domain.SpreadingFactors)
	r.logger.Infof("sweep starting: %d trials, observation %s", total, observation)

	done := 0
	for _, bw := range domain.Bandwidths {
		for _, cr := range domain.CodingRates {
			for _, sf := range domain.SpreadingFactors {
				params := types.Parameters{Bandwidth: bw, CodingRate: cr, SpreadingFactor: sf}
				counts, err := r.runTrial(ctx, executable, params, observation)
				if err != nil {
					return done, fmt.Errorf("trial %s: %w", params, err)
				}
				res := types.TrialResult{Parameters: &params, Counts: counts}
				if err := r.record(res); err != nil {
					return done, err
				}
				fmt.Fprintf(r.progress, "Did: %s (sent=%d received=%d crc_errors=%d)\n",
					params, counts.Sent, counts.Received, counts.CRCErrors)
				done++
			}
		}
	}
	r.logger.Infof("sweep finished: %d trials", done)
	return done, nil
}

// Stress runs a single trial with params for the operator's duration in
// seconds. The row records seconds as given, not the rounded wait.
func (r *Runner) Stress(ctx context.Context, executable string, params types.Parameters, seconds float64) (types.TrialResult, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return types.TrialResult{}, fmt.Errorf("stress duration must be finite, got %v", seconds)
	}
	if seconds < 0 {
		return types.TrialResult{}, fmt.Errorf("%w: %vs", ErrNegativeObservation, seconds)
	}
	duration := Seconds(seconds)
	if err := r.prepare(ctx, executable, duration); err != nil {
		return types.TrialResult{}, err
	}
	r.logger.Infof("stress starting: %s for %s", params, duration)
	counts, err := r.runTrial(ctx, executable, params, duration)
	if err != nil {
		return types.TrialResult{}, fmt.Errorf("stress trial: %w", err)
	}
	res := types.TrialResult{Counts: counts, Duration: seconds}
	if err := r.record(res); err != nil {
		return types.TrialResult{}, err
	}
	fmt.Fprintf(r.progress, "Did: %s for %ss (sent=%d received=%d crc_errors=%d)\n",
		params, report.FormatSeconds(seconds), counts.Sent, counts.Received, counts.CRCErrors)
	return res, nil
}

func (r *Runner) prepare(ctx context.Context, executable string, observation time.Duration) error {
	if observation < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeObservation, observation)
	}
	if executable == "" {
		return linkproc.ErrExecutableRequired
	}
	if r.configs == nil || r.report == nil {
		return errors.New("trial runner requires a config writer and a report")
	}
	if r.verifier == nil {
		return nil
	}
	sig := executable + ".minisig"
	if r.signaturePath != nil {
		sig = r.signaturePath(executable)
	}
	if err := r.verifier.Verify(ctx, executable, sig); err != nil {
		return fmt.Errorf("verify link executable %q: %w", executable, err)
	}
	r.logger.Infof("link executable %s verified against %s", executable, sig)
	return nil
}

func (r *Runner) record(res types.TrialResult) error {
	if err := r.report.Write(res); err != nil {
		return fmt.Errorf("record trial: %w", err)
	}
	if r.progressLog != nil {
		r.progressLog.Record(res)
	}
	return nil
}

func (r *Runner) runTrial(ctx context.Context, executable string, params types.Parameters, observation time.Duration) (types.Counts, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return types.Counts{}, err
		}
	}
	start := r.now()

	paths, err := r.configs.WritePair(params)
	if err != nil {
		return types.Counts{}, fmt.Errorf("write configs: %w", err)
	}

	receiver, err := r.launcher.Launch(ctx, types.RoleReceive, executable, paths.Receive)
	if err != nil {
		return types.Counts{}, err
	}
	transmitter, err := r.launcher.Launch(ctx, types.RoleTransmit, executable, paths.Transmit)
	if err != nil {
		if _, stopErr := r.stop(receiver); stopErr != nil {
			r.logger.Warnf("stop receive process after failed transmit launch: %v", stopErr)
		}
		return types.Counts{}, err
	}

	observeErr := sleep(ctx, observation)
	captures, err := r.stop(receiver, transmitter)
	if observeErr != nil {
		return types.Counts{}, observeErr
	}
	if err != nil {
		return types.Counts{}, err
	}

	var rxText, txText string
	for _, c := range captures {
		if c.Role == types.RoleTransmit {
			txText = classify.Decode(c.Stdout)
		} else {
			rxText = classify.Decode(c.Stdout)
		}
	}
	counts := classify.Pair(r.classifier, txText, rxText)
	elapsed := r.now().Sub(start)
	r.metrics.ObserveTrial(counts, elapsed)
	r.logger.Debugf("trial %s: sent=%d received=%d crc_errors=%d elapsed=%s",
		params, counts.Sent, counts.Received, counts.CRCErrors, elapsed)
	return counts, nil
}

// stop terminates every process, then drains them concurrently.
func (r *Runner) stop(procs ...linkproc.Process) ([]linkproc.Capture, error) {
	for _, p := range procs {
		if err := p.Terminate(); err != nil {
			r.logger.Warnf("terminate %s process: %v", p.Role(), err)
		}
	}

	captures := make([]linkproc.Capture, len(procs))
	var g errgroup.Group
	for i, p := range procs {
		i, p := i, p
		g.Go(func() error {
			c, err := p.Wait(r.grace)
			captures[i] = c
			return err
		})
	}
	err := g.Wait()

	for _, c := range captures {
		if c.Forced {
			r.metrics.IncForcedKills()
			r.logger.Warnf("%s process ignored termination for %s and was killed", c.Role, r.grace)
		}
	}
	if err != nil {
		return captures, fmt.Errorf("drain link processes: %w", err)
	}
	return captures, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Seconds converts an operator-supplied number of seconds to the nearest
// nanosecond.
func Seconds(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
