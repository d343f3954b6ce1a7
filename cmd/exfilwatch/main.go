package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"exfilwatch/internal/config"
	"exfilwatch/internal/engine"
	"exfilwatch/internal/findings"
	"exfilwatch/internal/logs"
	"exfilwatch/internal/observability"
	"exfilwatch/internal/source"
)

var (
	configFile    string
	lookbackHours int
	windowMinutes int
	outputPath    string
	verbose       bool

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "exfilwatch",
		Short:         "Behavioral exfil detector - correlates AI-assistant recon activity with file exfil events",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().IntVar(&lookbackHours, "lookback-hours", 0, "Hours of audit history to sweep (overrides config)")
	rootCmd.PersistentFlags().IntVar(&windowMinutes, "window-minutes", 0, "Correlation window in minutes (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "Findings output file (default: stdout)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(runCmd(), serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one detection sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			sugar := logger.Sugar().With("run_id", uuid.NewString())

			e, err := engine.New(engine.Options{
				Config:  cfg,
				Logger:  sugar,
				Metrics: observability.NewMetricsManager(sugar),
			})
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := e.Run(ctx, outputPath)
			if err != nil {
				return err
			}
			if result.HasHigh() {
				return errHighFinding
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run periodic sweeps and expose /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			sugar := logger.Sugar().With("run_id", uuid.NewString())

			e, err := engine.New(engine.Options{
				Config:  cfg,
				Logger:  sugar,
				Metrics: observability.NewMetricsManager(sugar),
			})
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return e.Serve(ctx, outputPath)
		},
	}
}

// setup loads config, applies flag overrides, and builds the logger. All
// failures here are configuration errors.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	if lookbackHours > 0 {
		cfg.LookbackHours = lookbackHours
	}
	if windowMinutes > 0 {
		cfg.WindowMinutes = windowMinutes
	}
	if verbose && cfg.Logging != nil {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errConfig, err)
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: logger: %v", errConfig, err)
	}
	return cfg, logger, nil
}

var (
	errConfig      = errors.New("configuration")
	errHighFinding = errors.New("high severity findings present")
)

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errHighFinding):
		return ExitCodeHighFinding
	case errors.Is(err, errConfig), errors.Is(err, source.ErrUnavailable):
		return ExitCodeConfigOrSource
	case errors.Is(err, findings.ErrEmission):
		return ExitCodeInternal
	default:
		return ExitCodeInternal
	}
}
