package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openmusicplayer/mediafetch/internal/config"
	"github.com/openmusicplayer/mediafetch/internal/logger"
)

// version is set at build time
var version = "dev"

var (
	log zerolog.Logger
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mediafetch",
	Short: "Queue-driven media downloader",
	Long: `mediafetch downloads single items or whole playlists, merges the best
audio and video streams with optional subtitles, and can transcode the
result to audio. Requests are queued in Redis and executed by workers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and sets up the process logger
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log = logger.Configure(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		Output:      os.Stderr,
	})
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
