package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/offlinehq/driftsync/internal/engine"
	"github.com/offlinehq/driftsync/internal/record"
	"github.com/offlinehq/driftsync/internal/store"
	"github.com/offlinehq/driftsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display the current sync status.

Asks the running daemon first; falls back to local store counts when no
daemon is reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if status, ok := daemonStatus(); ok {
			printStatus(status, true)
			return nil
		}
		return localStatus()
	},
}

// daemonStatus fetches the live snapshot from the daemon's status endpoint.
func daemonStatus() (engine.Status, bool) {
	url := fmt.Sprintf("http://127.0.0.1:%d/status", viper.GetInt("daemon.port"))
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return engine.Status{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return engine.Status{}, false
	}

	var status engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return engine.Status{}, false
	}
	return status, true
}

// localStatus reads counts straight from the store when no daemon runs.
func localStatus() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	pending, err := st.CountPendingActions(ctx)
	if err != nil {
		return err
	}

	status := engine.Status{PendingActionCount: pending}
	if raw, err := st.GetSetting(ctx, store.SettingLastSync); err == nil && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			status.LastSyncedAt = &t
		}
	}

	printStatus(status, false)

	fmt.Println()
	for _, table := range record.Tables() {
		count, err := st.CountRecords(ctx, table)
		if err != nil {
			return err
		}
		fmt.Printf("   %-14s %d records\n", table, count)
	}
	return nil
}

func printStatus(status engine.Status, live bool) {
	source := "local store (no daemon running)"
	if live {
		source = "daemon"
	}
	fmt.Printf("\n%s Sync status (%s)\n\n", ui.RenderAccent("drift"), ui.RenderMuted(source))

	online := ui.RenderFail("offline")
	if status.IsOnline {
		online = ui.RenderPass("online")
	}
	fmt.Printf("   Connectivity:    %s\n", online)

	if status.IsSyncing {
		fmt.Printf("   Cycle:           %s\n", ui.RenderAccent("in flight"))
	}

	fmt.Printf("   Pending actions: %d\n", status.PendingActionCount)

	if status.LastSyncedAt != nil {
		fmt.Printf("   Last synced:     %s\n", status.LastSyncedAt.Format(time.RFC3339))
	} else {
		fmt.Printf("   Last synced:     %s\n", ui.RenderMuted("never"))
	}

	if status.LastError != "" {
		fmt.Printf("   Last error:      %s\n", ui.RenderWarn(status.LastError))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
