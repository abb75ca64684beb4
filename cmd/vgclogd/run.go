package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vgclog/internal/archive"
	"vgclog/internal/clock"
	"vgclog/internal/collector"
	"vgclog/internal/config"
	"vgclog/internal/hook"
	"vgclog/internal/logger"
	"vgclog/internal/metrics"
	"vgclog/internal/output"
	"vgclog/internal/server"
	"vgclog/internal/verbose"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runFlags struct {
	configFile string
	target     string
	files      int
	cycles     int
	modes      []string
	heartbeat  time.Duration
	quantum    time.Duration
	adminAddr  string
	logLevel   string
	logPretty  bool

	interval time.Duration
	workers  int
}

var flags runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulated collector with verbose GC output",
	Long: `Run loads configuration from the environment, then the --config YAML
file, then explicit flags, and runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "YAML config file overlaid on the environment")
	f.StringVar(&flags.target, "target", "", "sink: stderr, stdout, trace, hook or a file template")
	f.IntVar(&flags.files, "files", 0, "number of rotation files, 0 for a single file")
	f.IntVar(&flags.cycles, "cycles", 0, "GC cycles per file when rotating")
	f.StringSliceVar(&flags.modes, "modes", nil, "collector modes: standard, realtime, region")
	f.DurationVar(&flags.heartbeat, "heartbeat", 0, "realtime heartbeat interval")
	f.DurationVar(&flags.quantum, "quantum", 0, "simulated realtime quantum length")
	f.StringVar(&flags.adminAddr, "admin", "", "admin HTTP address, empty disables")
	f.StringVar(&flags.logLevel, "log-level", "", "log level")
	f.BoolVar(&flags.logPretty, "log-pretty", false, "console log format")

	f.DurationVar(&flags.interval, "interval", 200*time.Millisecond, "simulated collection interval")
	f.IntVar(&flags.workers, "workers", 4, "simulated collector threads")
}

// resolveConfig layers environment, file and explicitly set flags.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flags.configFile != "" {
		if cfg, err = config.LoadFile(flags.configFile, cfg); err != nil {
			return config.Config{}, err
		}
	}

	f := cmd.Flags()
	if f.Changed("target") {
		cfg.VerboseTarget = flags.target
	}
	if f.Changed("files") {
		cfg.VerboseFiles = flags.files
	}
	if f.Changed("cycles") {
		cfg.VerboseCycles = flags.cycles
	}
	if f.Changed("modes") {
		cfg.Modes = flags.modes
	}
	if f.Changed("heartbeat") {
		cfg.Heartbeat = flags.heartbeat
	}
	if f.Changed("quantum") {
		cfg.Quantum = flags.quantum
	}
	if f.Changed("admin") {
		cfg.AdminAddr = flags.adminAddr
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if f.Changed("log-pretty") {
		cfg.LogPretty = flags.logPretty
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger.Init(cfg)
	log := logger.Component("vgclogd")
	m := metrics.New()

	// ====================================================================
	// Archive: finished log files go to S3, failures to the local spool
	// ====================================================================
	var arch *archive.Manager
	env := output.Env{}

	if cfg.Archive.Enabled() {
		up, err := archive.NewS3Uploader(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		arch, err = archive.New(cfg, up, logger.Component("archive"), m)
		if err != nil {
			return err
		}
		arch.Start()
		env.OnFileClosed = func(path string) { arch.Enqueue(path) }
	}

	// ====================================================================
	// Verbose pipeline
	// ====================================================================
	reg := hook.NewRegistry("collector")
	clk := clock.NewSystem()

	mgr := verbose.NewManager(verbose.Options{
		Registry:  reg,
		Clock:     clk,
		Log:       logger.Component("verbose"),
		Metrics:   m,
		Env:       env,
		Modes:     cfg.Modes,
		Heartbeat: cfg.Heartbeat,
	})

	spec := output.Spec{Target: cfg.VerboseTarget, Files: cfg.VerboseFiles, Cycles: cfg.VerboseCycles}
	if err := mgr.Configure(spec); err != nil {
		return fmt.Errorf("configure verbose output: %w", err)
	}
	if err := mgr.Enable(); err != nil {
		return err
	}

	sim := collector.New(collector.Options{
		Registry: reg,
		Clock:    clk,
		Log:      logger.Component("collector"),
		Modes:    cfg.Modes,
		Workers:  flags.workers,
		Quantum:  cfg.Quantum,
	})

	// ====================================================================
	// Run until the context is cancelled
	// ====================================================================
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sim.Run(gctx, flags.interval)
	})

	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      server.NewHandler(mgr, m, logger.Component("admin")).Routes(),
			ReadTimeout:  8 * time.Second,
			WriteTimeout: 8 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g.Go(func() error {
			log.Info().Str("addr", cfg.AdminAddr).Msg("admin server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	log.Info().Strs("modes", cfg.Modes).Str("target", cfg.VerboseTarget).Msg("verbose gc running")
	runErr := g.Wait()

	// ====================================================================
	// Shutdown: stop collecting, close sinks, then drain the archive.
	// Closing the file sink hands its last file to the archive.
	// ====================================================================
	log.Info().Msg("shutting down")
	mgr.Shutdown()

	if arch != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		arch.Shutdown(sctx)
		cancel()
	}

	log.Info().Str("metrics", m.String()).Msg("shutdown complete")
	return runErr
}
