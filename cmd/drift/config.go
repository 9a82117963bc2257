package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the merged configuration: defaults, config file, environment
(DRIFT_*), and flags. API keys are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := viper.AllSettings()
		redactAPIKey(settings)

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()

		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return nil
	},
}

func redactAPIKey(settings map[string]any) {
	remoteCfg, ok := settings["remote"].(map[string]any)
	if !ok {
		return
	}
	if key, _ := remoteCfg["api_key"].(string); key != "" {
		remoteCfg["api_key"] = "<redacted>"
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
}
