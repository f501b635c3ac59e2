package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danthegoodman1/trackguard/internal/config"
	"github.com/danthegoodman1/trackguard/internal/daemon"
	"github.com/danthegoodman1/trackguard/internal/metrics"
	"github.com/danthegoodman1/trackguard/internal/store"
	"github.com/danthegoodman1/trackguard/internal/tunnel"
)

var (
	Version = "dev"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the trackguard daemon",
	Long: `Start the trackguard daemon which:
- Creates the TUN interface and routes traffic through it
- Drops packets addressed to known trackers and forwards everything else
- Records blocked attempts and keeps the tracker list up to date`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel)

	logger.Info().
		Str("version", Version).
		Str("tunnel", cfg.Tunnel.Name).
		Str("data_dir", cfg.DataDir).
		Bool("auto_update", cfg.Trackers.AutoUpdate).
		Msg("starting trackguard daemon")

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return err
		}
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	server, err := daemon.NewServer(cfg, st, logger, Version, daemon.WithMetrics(metrics.New()))
	if err != nil {
		return err
	}

	dev, err := tunnel.Open(cfg.TunnelDevice())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info().Str("interface", dev.Name()).Msg("filtering")
	return server.Run(ctx, dev, dev.Name())
}

func setupLogger(level string) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "trace":
		lvl = zerolog.TraceLevel
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("PRETTY") == "1" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}
