package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/cadence/pkg/config"
	"github.com/cuemby/cadence/pkg/coordinator"
	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/scheduler"
	"github.com/cuemby/cadence/pkg/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run schedulers against the configured targets",
	Long: `Run plans every configured target, shares the workers out by score and
runs one scheduler per target until interrupted.

Examples:
  # Run every target in the configuration
  cadence run -c cadence.yaml

  # Run two targets and accept budget commands on stdin
  cadence run -c cadence.yaml --target joesguns --target foodnstuff --control-stdin`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSlice("target", nil, "Targets to run (default: every configured target)")
	runCmd.Flags().Bool("control-stdin", false, "Read newline-delimited JSON budget commands from stdin")
	runCmd.Flags().Int("record-every", 4, "Record one snapshot in every N when storage is enabled")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	names, _ := cmd.Flags().GetStringSlice("target")
	controlStdin, _ := cmd.Flags().GetBool("control-stdin")
	recordEvery, _ := cmd.Flags().GetInt("record-every")

	specs, err := targetSpecs(cfg, names)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithComponent("cli")
	runID := uuid.NewString()
	metrics.SetVersion(Version)

	world := cfg.World()
	pool, err := cfg.Pool(ctx, world)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Close()
	metrics.UpdateComponent(metrics.ComponentPool, true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()

	if cfg.Storage.DataDir != "" {
		store, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()

		recorder := storage.NewRecorder(store, broker, runID, recordEvery)
		recorder.Start()
		defer recorder.Stop()
		metrics.UpdateComponent(metrics.ComponentStore, true, "")
	}

	if cfg.Metrics.Addr != "" {
		server := newHTTPServer(cfg.Metrics.Addr)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics and health")
	}

	schedCfg := cfg.SchedulerConfig()
	schedCfg.RunID = runID

	coord := coordinator.New(coordinator.Options{
		Scheduler:   schedCfg,
		MaxPrepTime: cfg.Coordinator.MaxPrepTime,
	}, pool, world, broker)

	if controlStdin {
		go readControl(ctx, os.Stdin, coord)
	}

	logger.Info().
		Str("run_id", runID).
		Int("targets", len(specs)).
		Int("workers", len(cfg.Workers)).
		Msg("Starting")
	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")

	if err := coord.Run(ctx, specs); err != nil {
		metrics.UpdateComponent(metrics.ComponentScheduler, false, err.Error())
		return err
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// readControl submits commands read from r until it is exhausted or ctx ends
func readControl(ctx context.Context, r io.Reader, coord *coordinator.Coordinator) {
	logger := log.WithComponent("control")
	dec := protocol.NewDecoder(r)

	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			logger.Debug().Msg("Control stream closed")
			return
		}
		if errors.Is(err, protocol.ErrStream) {
			logger.Error().Err(err).Msg("Control stream failed")
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring malformed control message")
			continue
		}

		cmd, ok := msg.(protocol.Command)
		if !ok {
			logger.Warn().Str("type", string(msg.MessageType())).Msg("Ignoring non-command control message")
			continue
		}
		if err := coord.Submit(ctx, cmd); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("Control command partly rejected")
		}
	}
}

func newHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// targetSpecs returns the scheduler specs of the named targets, or of every
// configured target when names is empty
func targetSpecs(cfg *config.Config, names []string) ([]scheduler.TargetSpec, error) {
	if len(names) == 0 {
		for _, t := range cfg.Targets {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}

	specs := make([]scheduler.TargetSpec, 0, len(names))
	for _, name := range names {
		t, ok := cfg.Target(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", coordinator.ErrUnknownTarget, name)
		}
		specs = append(specs, scheduler.TargetSpec{Name: t.Name, Budget: t.InitialBudget(), MinHacks: t.MinHacks})
	}
	return specs, nil
}
