// Command hearingpipe drives one hearing-transcription job end to end
// from the command line. Its root-command and signal-handling shape
// mirrors alnah-go-transcript's cmd/transcript/main.go (godotenv load,
// signal.NotifyContext, cobra root command, an error-to-exit-code table),
// generalized from that CLI's record/transcribe/live/structure commands
// to this pipeline's single transcribe operation plus a config probe.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlegis/hearing-transcribe/internal/audioprobe"
	"github.com/openlegis/hearing-transcribe/internal/cleanup"
	"github.com/openlegis/hearing-transcribe/internal/config"
	"github.com/openlegis/hearing-transcribe/internal/credential"
	"github.com/openlegis/hearing-transcribe/internal/logging"
	"github.com/openlegis/hearing-transcribe/internal/memmon"
	"github.com/openlegis/hearing-transcribe/internal/metadatastore"
	"github.com/openlegis/hearing-transcribe/internal/metrics"
	"github.com/openlegis/hearing-transcribe/internal/pipeline"
	"github.com/openlegis/hearing-transcribe/internal/pipelineerr"
	"github.com/openlegis/hearing-transcribe/internal/planner"
	"github.com/openlegis/hearing-transcribe/internal/preflight"
	"github.com/openlegis/hearing-transcribe/internal/progress"
	"github.com/openlegis/hearing-transcribe/internal/ratelimit"
	"github.com/openlegis/hearing-transcribe/internal/resourcepool"
	"github.com/openlegis/hearing-transcribe/internal/retry"
	"github.com/openlegis/hearing-transcribe/internal/slicer"
	"github.com/openlegis/hearing-transcribe/internal/speechapi"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes. ExitInterrupt matches the teacher's 128+SIGINT convention.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitSetup      = 3
	ExitValidation = 4
	ExitInterrupt  = 130
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:           "hearingpipe",
		Short:         "Transcribe legislative hearing recordings into time-aligned, attributed transcripts",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(transcribeCmd())
	rootCmd.AddCommand(configProbeCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, pipelineerr.ErrCancelled) {
		return ExitInterrupt
	}
	if isCobraUsageError(err) {
		return ExitUsage
	}
	if errors.Is(err, credential.ErrCredentialMissing) || errors.Is(err, audioprobe.ErrProbeUnavailable) {
		return ExitSetup
	}
	if errors.Is(err, audioprobe.ErrNotFound) || errors.Is(err, audioprobe.ErrUnreadableAudio) ||
		errors.Is(err, planner.ErrPlanInfeasible) {
		return ExitValidation
	}
	var pf *pipelineerr.PreflightFailed
	if errors.As(err, &pf) {
		return ExitValidation
	}
	return ExitGeneral
}

var cobraUsageErrorPatterns = []string{
	"required flag", "unknown flag", "unknown shorthand",
	"flag needs an argument", "invalid argument", "accepts ", "requires at least",
}

func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, p := range cobraUsageErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// transcribeCmd runs one job from a local audio file to a persisted
// transcript, printing progress updates as it goes.
func transcribeCmd() *cobra.Command {
	var (
		audioPath   string
		jobID       string
		title       string
		committee   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Transcribe a single hearing recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			if audioPath == "" {
				return fmt.Errorf("required flag --audio not set")
			}
			if jobID == "" {
				jobID = uuid.NewString()
			}

			cfg, err := config.Load("hearingpipe", []string{".", "./config"})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(os.Getenv("HEARING_TRANSCRIBE_ENV") == "production")
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()
			jobLogger := logging.WithJob(logger, jobID)

			services, err := buildServices(cfg)
			if err != nil {
				return fmt.Errorf("build services: %w", err)
			}
			defer services.Close()

			if metricsAddr != "" {
				startMetricsServer(cmd.Context(), metricsAddr, jobLogger)
			}

			if title != "" || committee != "" {
				if err := services.store.Create(cmd.Context(), metadatastore.Hearing{
					ID: jobID, Title: title, Committee: committee, Date: time.Now(),
				}); err != nil {
					jobLogger.Warn("seed hearing record failed, proceeding", zap.Error(err))
				}
			}

			go services.monitor.Run(cmd.Context())
			go services.cleanupSched.Run(cmd.Context())

			handle := services.pipeline.Submit(cmd.Context(), jobID, audioPath)

			for {
				pollCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
				transcript, err := handle.AwaitResult(pollCtx)
				cancel()

				if err == nil {
					fmt.Printf("done: %d chars, %.1fs\n", len(transcript.Text), transcript.DurationS)
					return nil
				}
				if errors.Is(err, context.DeadlineExceeded) {
					if rec, ok := handle.Progress(); ok {
						jobLogger.Info("progress", zap.String("stage", string(rec.Stage)), zap.Float64("overall_percent", rec.OverallPercent))
					}
					continue
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "path to the hearing recording")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (generated if omitted)")
	cmd.Flags().StringVar(&title, "title", "", "hearing title, seeded into the metadata store")
	cmd.Flags().StringVar(&committee, "committee", "", "committee name, seeded into the metadata store")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// startMetricsServer runs a /metrics endpoint backed by the default
// Prometheus registerer (which buildServices passes to metrics.New, so
// every pipeline metric is registered there) until ctx is cancelled.
func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// configProbeCmd prints the resolved configuration, useful for verifying
// environment-variable overrides before running a real job.
func configProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("hearingpipe", []string{".", "./config"})
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", cfg)
			return nil
		},
	}
}

// serviceSet owns every long-lived dependency a job needs, built once per
// process invocation rather than as global singletons (SPEC_FULL.md's
// "Global singletons -> owned services" decision).
type serviceSet struct {
	store        *metadatastore.Store
	monitor      *memmon.Monitor
	cleanupSched *cleanup.Scheduler
	pool         *resourcepool.Pool
	pipeline     *pipeline.Pipeline
	metrics      *metrics.Registry
}

func (s *serviceSet) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.pool != nil {
		_ = s.pool.Close()
	}
}

func buildServices(cfg config.Config) (*serviceSet, error) {
	scratchRoot := cfg.ScratchRoot
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}

	store, err := metadatastore.Open("hearing-transcribe.db")
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	creds := credential.NewChain(credential.EnvProvider{})
	apiKey, err := creds.Get("OPENAI_API_KEY")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	monitor := memmon.New(memmon.WithCapBytes(uint64(cfg.MemoryCapMB) * 1024 * 1024))

	pool := resourcepool.New(scratchRoot, resourcepool.WithPressureSource(monitor))
	cleanupSched := cleanup.New(cleanup.WithPressureSource(monitor))

	prober := audioprobe.New("ffprobe")
	slice := slicer.New("ffmpeg")

	openaiClient := openai.NewClient(apiKey)
	speech := speechapi.New(openaiClient, speechapi.WithModel(cfg.OpenAIModel))

	limiter := ratelimit.New(
		ratelimit.WithCapacity(cfg.RateLimitCapacity),
		ratelimit.WithRefillPerSecond(cfg.RateLimitRefillPerS),
	)
	retryPolicy := retry.New()
	reporter := progress.New(progress.WithSnapshotDir(cfg.ProgressDir))

	preflightChecker := preflight.New(
		preflight.WithSystemStats(systemStatsAdapter{monitor: monitor}),
		preflight.WithProber(prober),
		preflight.WithHearingStore(store),
		preflight.WithCredentialProvider(creds),
		preflight.WithScratchRoot(scratchRoot),
	)

	plannerCfg := planner.Config{
		MaxUploadBytes:   cfg.MaxUploadBytes,
		OverlapSeconds:   cfg.OverlapSeconds,
		TargetSliceBytes: cfg.MaxUploadBytes,
	}

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)

	p := pipeline.New(
		pipeline.WithPreflight(preflightChecker),
		pipeline.WithPlannerConfig(plannerCfg),
		pipeline.WithProber(prober),
		pipeline.WithSlicer(slice),
		pipeline.WithResourcePool(pool),
		pipeline.WithSpeechClient(speech),
		pipeline.WithRateLimiter(limiter),
		pipeline.WithRetryPolicy(retryPolicy),
		pipeline.WithReporter(reporter),
		pipeline.WithCleanupScheduler(cleanupSched),
		pipeline.WithMetadataStore(store),
		pipeline.WithMetrics(metricsRegistry),
		pipeline.WithMaxConcurrentSlices(cfg.MaxConcurrentSlices),
		pipeline.WithOutputDir(cfg.OutputDir),
	)

	return &serviceSet{
		store:        store,
		monitor:      monitor,
		cleanupSched: cleanupSched,
		pool:         pool,
		pipeline:     p,
		metrics:      metricsRegistry,
	}, nil
}

// systemStatsAdapter satisfies preflight.SystemStats over gopsutil's
// disk/cpu packages and the process's shared memmon.Monitor, so Preflight's
// "system" check and the pipeline's memory-pressure discipline read the
// same live sample.
type systemStatsAdapter struct {
	monitor *memmon.Monitor
}

func (a systemStatsAdapter) FreeMemoryMiB(ctx context.Context) (uint64, error) {
	return a.monitor.Sample().SystemAvailMiB, nil
}

func (a systemStatsAdapter) FreeDiskGiB(ctx context.Context, path string) (float64, error) {
	if path == "" {
		path = "."
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / (1024 * 1024 * 1024), nil
}

func (a systemStatsAdapter) CPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}
