package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/offlinehq/driftsync/internal/remote"
	"github.com/offlinehq/driftsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "drift",
	Short: "Local-first sync engine for habit tracking data",
	Long: `drift keeps a durable local store of habits, entries, day summaries and
routines, queues every local change while offline, and reconciles with the
remote row API when connectivity allows.

All data lives in a local SQLite database; the remote system is an
availability optimization, never a requirement.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.driftsync/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (default ~/.driftsync)")
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

// initConfig reads the config file and DRIFT_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".driftsync"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("DRIFT")
	viper.AutomaticEnv()

	viper.SetDefault("data_dir", defaultDataDir())
	viper.SetDefault("remote.base_url", "")
	viper.SetDefault("remote.api_key", "")
	viper.SetDefault("sync.interval", 5*time.Minute)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("daemon.port", 7431)

	// Missing config file is fine; env and defaults still apply.
	_ = viper.ReadInConfig()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driftsync"
	}
	return filepath.Join(home, ".driftsync")
}

func dataDir() string {
	return viper.GetString("data_dir")
}

func dbPath() string {
	return filepath.Join(dataDir(), "drift.db")
}

func wakeFilePath() string {
	return filepath.Join(dataDir(), "wake")
}

// openStore opens the local database, creating it on first use.
func openStore() (*store.Store, error) {
	st, err := store.Open(dbPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return st, nil
}

// newRemoteClient builds the remote client from configuration.
func newRemoteClient() (*remote.Client, error) {
	baseURL := viper.GetString("remote.base_url")
	if baseURL == "" {
		return nil, fmt.Errorf("remote.base_url is not configured (set it in %s or DRIFT_REMOTE_BASE_URL)", configPath())
	}
	return remote.New(baseURL, viper.GetString("remote.api_key"), nil), nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(defaultDataDir(), "config.yaml")
}
