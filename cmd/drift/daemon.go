package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/offlinehq/driftsync/internal/engine"
	"github.com/offlinehq/driftsync/internal/monitor"
	"github.com/offlinehq/driftsync/internal/stream"
	"github.com/offlinehq/driftsync/internal/ui"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the long-lived sync daemon:

  1. Probes remote connectivity and syncs on reconnect
  2. Runs a periodic non-forced sync while online
  3. Watches the wake file for foreground/visibility triggers
  4. Serves the status stream on localhost (WebSocket + /status)

Logs rotate in <data-dir>/logs/daemon.log unless --foreground is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := daemonLogger()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		api, err := newRemoteClient()
		if err != nil {
			return err
		}

		failmonConfig := monitor.DefaultFailureConfig()
		failmonConfig.Logger = log.New(logger.Writer(), "[failmon] ", log.LstdFlags)
		failmon := monitor.NewFailureMonitor(failmonConfig)

		engConfig := engine.DefaultConfig()
		engConfig.MaxRetries = viper.GetInt("sync.max_retries")
		engConfig.OnFailure = failmon.RecordFailure
		engConfig.Logger = log.New(logger.Writer(), "[engine] ", log.LstdFlags)

		eng, err := engine.New(st, api, engConfig)
		if err != nil {
			return err
		}
		defer eng.Close()

		server, err := stream.NewServer(eng, &stream.Config{
			Port:   viper.GetInt("daemon.port"),
			Logger: log.New(logger.Writer(), "[stream] ", log.LstdFlags),
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()

		netmonConfig := monitor.DefaultConfig()
		netmonConfig.SyncInterval = viper.GetDuration("sync.interval")
		netmonConfig.Logger = log.New(logger.Writer(), "[netmon] ", log.LstdFlags)

		netmon, err := monitor.New(eng, api.HealthURL(), wakeFilePath(), netmonConfig)
		if err != nil {
			return err
		}
		if err := netmon.Start(); err != nil {
			return err
		}
		defer netmon.Stop()

		logger.Printf("Daemon started (status stream on %s)", server.Addr())
		fmt.Printf("%s Daemon running, status stream on %s\n", ui.RenderPass("✓"), server.Addr())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh

		logger.Printf("Received %v, shutting down", sig)
		fmt.Printf("\n%s Shutting down\n", ui.RenderMuted("·"))
		return nil
	},
}

// daemonLogger writes to a rotated log file, or stderr with --foreground.
func daemonLogger() *log.Logger {
	if daemonForeground {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	logPath := filepath.Join(dataDir(), "logs", "daemon.log")
	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)

	return log.New(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[daemon] ", log.LstdFlags)
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "log to stderr instead of the rotated log file")
	rootCmd.AddCommand(daemonCmd)
}
