package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipdeck/clipd/internal/cursor"
)

func newPurgeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Prune history beyond the retention limit",
		Long: `Physically deletes entries beyond the newest history-limit survivors,
including tombstoned ones, and compacts the change log up to this instance's
durable cursor. Processes whose cursors fall behind the compaction floor
recover by replaying from scratch.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runPurge(v) },
	}

	f := cmd.Flags()
	f.String("instance", defaultInstance(), "instance whose cursor bounds log compaction")
	f.String("socket", "", "signal socket path (default: runtime dir)")
	f.Int("history-limit", defaultHistoryLimit, "entries to keep")
	addDataFlag(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runPurge(v *viper.Viper) error {
	setupLogging(v)

	dataDir := v.GetString("data-dir")
	s, err := openStore(dataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	// An absent cursor file loads as zero, which compacts nothing.
	tok, err := cursor.NewFile(filepath.Join(dataDir, "state"), v.GetString("instance")).Load()
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	if err := s.Purge(context.Background(), v.GetInt("history-limit"), tok, "cli-purge"); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	slog.Info("purged history", "limit", v.GetInt("history-limit"), "compacted_before", tok)

	notifyStoreChanged(v)
	return nil
}
