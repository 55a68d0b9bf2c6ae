package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync SOURCE_ID",
	Short: "Run a one-shot sync for a single source",
	Long: `Run a single synchronization pass for one configured source and
print the resulting statistics as JSON.

Fingerprints, cache state and sync status are shared with the serve
command, so a one-shot sync skips content that is already up to date.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().Bool("force-detail", false, "Fetch full record detail regardless of strategy")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	sourceID := args[0]

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := loadConfigFromFlag(configPath)
	if err != nil {
		return err
	}

	syncOpts, err := syncOptionsFromConfig(cfg.Fetch)
	if err != nil {
		return err
	}
	syncOpts.ForceDetail, err = cmd.Flags().GetBool("force-detail")
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, nil, syncOpts)
	if err != nil {
		return err
	}

	result, err := eng.coordinator.TriggerSync(cmd.Context(), sourceID)
	if err != nil {
		return fmt.Errorf("sync failed for source '%s': %w", sourceID, err)
	}

	output, err := json.MarshalIndent(result.Stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format sync stats: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
