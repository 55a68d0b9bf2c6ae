package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stacklok/content-sync/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the work queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue statistics as JSON",
	RunE:  runQueueStats,
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale locks, orphaned locks and corrupt items",
	RunE:  runQueueCleanup,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every item and lock from the queue",
	RunE:  runQueueClear,
}

func init() {
	queueCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := queueCmd.MarkPersistentFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueCleanupCmd)
	queueCmd.AddCommand(queueClearCmd)
}

// openQueue opens the work queue for the data directory named by the
// configuration, without wiring the rest of the engine
func openQueue(cmd *cobra.Command) (*queue.Queue, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFromFlag(configPath)
	if err != nil {
		return nil, err
	}
	return queue.New(filepath.Join(cfg.GetDataDir(), "queue"))
}

func runQueueStats(cmd *cobra.Command, _ []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(q.QueueStats(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format queue stats: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

func runQueueCleanup(cmd *cobra.Command, _ []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	if err := q.Cleanup(); err != nil {
		return fmt.Errorf("queue cleanup failed: %w", err)
	}
	slog.Info("Queue cleanup complete")
	return nil
}

func runQueueClear(cmd *cobra.Command, _ []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	if err := q.Clear(); err != nil {
		return fmt.Errorf("queue clear failed: %w", err)
	}
	slog.Info("Queue cleared")
	return nil
}
