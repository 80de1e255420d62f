package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	syncFull        bool
	syncRetryFailed bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync pass against the remote store",
	Long: `Push pending local changes to the remote store and pull remote
changes back. A manual pass bypasses the background cooldown.

With --full, every local category and link is uploaded regardless of
queue state. With --retry-failed, previously failed queue records are
reset to pending and replayed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		engine, err := a.requireEngine()
		if err != nil {
			return err
		}

		switch {
		case syncFull:
			if err := engine.FullUpload(ctx); err != nil {
				return err
			}
			fmt.Println("Full upload complete")
		case syncRetryFailed:
			n, err := engine.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Retried %d failed record(s)\n", n)
		default:
			if err := engine.Sync(ctx); err != nil {
				return err
			}
			fmt.Println("Sync complete")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage mode and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if a.engine == nil {
			fmt.Printf("Storage: %s\nSync:    not configured\n", a.store.Mode())
			return nil
		}

		status, err := a.engine.Status(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}

		fmt.Printf("Storage: %s\n", a.store.Mode())
		fmt.Printf("State:   %s\n", status.State)
		fmt.Printf("Enabled: %v\n", status.Enabled)
		fmt.Printf("Online:  %v\n", status.Online)
		if status.LastSyncAt != "" {
			fmt.Printf("Last:    %s\n", status.LastSyncAt)
		}
		for st, n := range status.Queue {
			fmt.Printf("Queue:   %s=%d\n", st, n)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "upload all local data, ignoring the queue")
	syncCmd.Flags().BoolVar(&syncRetryFailed, "retry-failed", false, "reset failed queue records and replay them")
	syncCmd.MarkFlagsMutuallyExclusive("full", "retry-failed")
}
