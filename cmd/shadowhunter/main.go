package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shadow-hunter/shadowhunter-go/internal/config"
	"github.com/shadow-hunter/shadowhunter-go/internal/logs"
	"github.com/shadow-hunter/shadowhunter-go/internal/runtime"
)

var (
	configFile string
	dataDir    string
	live       bool
	iface      string
	reset      bool
	inMemory   bool
	port       int
	seed       int64
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "shadowhunter",
		Short:   "Shadow Hunter - real-time detection of unsanctioned AI service usage on the network",
		Version: version,
		RunE:    runDaemon,
		// Exit codes are managed below; cobra must not double-print.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.shadowhunter)")
	rootCmd.PersistentFlags().BoolVar(&live, "live", false, "Capture live traffic instead of running the synthetic generator")
	rootCmd.PersistentFlags().StringVar(&iface, "interface", "", "Network interface for live capture")
	rootCmd.PersistentFlags().BoolVar(&reset, "reset", false, "Delete the persistent graph before starting")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "inmemory", false, "Use a non-persistent graph store")
	rootCmd.PersistentFlags().IntVar(&port, "port", config.DefaultPort, "HTTP/WS bind port")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", config.DefaultSeed, "Deterministic seed for the synthetic generator")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")

	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, exitCodeDescription(code))
		os.Exit(code)
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, runtime.ErrCaptureInit):
		return ExitCodeCaptureError
	case errors.Is(err, runtime.ErrBind):
		return ExitCodeBindError
	default:
		return ExitCodeConfigError
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, err
	}

	// CLI flags override file values only when set explicitly.
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("live") {
		cfg.Live = live
	}
	if flags.Changed("interface") {
		cfg.Interface = iface
	}
	if flags.Changed("reset") {
		cfg.Reset = reset
	}
	if flags.Changed("inmemory") {
		cfg.InMemory = inMemory
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Logging == nil {
		cfg.Logging = logs.DefaultLogConfig()
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	runtime.Version = version
	rt, err := runtime.New(cfg, sugar)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	sugar.Infow("shadowhunter running",
		"port", cfg.Port, "live", cfg.Live, "inmemory", cfg.InMemory, "version", version)

	// Block until a signal arrives or a background component fails.
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Wait() }()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			rt.Stop()
			return fmt.Errorf("runtime failed: %w", err)
		}
	}

	rt.Stop()
	return nil
}
