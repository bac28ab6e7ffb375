package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"snsgrab/pkg/checkpoint"
	"snsgrab/pkg/config"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ui"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <platform> <real-name>",
	Short: "List the resume snapshots of a subject",
	Long: `List the snapshots written for a subject, oldest first, with the size of
each bucket. The newest one is what the resume commands pick by default.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, subject := args[0], args[1]
		if err := checkPlatform(platform); err != nil {
			return err
		}
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := checkpoint.Open(ctx, cfg.Checkpoint.BucketURL, logger.NewNopLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := store.List(ctx, platform, subject)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			ui.PrintInfo("No snapshots", subject)
			return nil
		}
		for _, key := range keys {
			snap, err := store.Load(ctx, key)
			if err != nil {
				ui.PrintWarning("Unreadable snapshot "+key, err)
				continue
			}
			parts := make([]string, 0, len(models.Kinds))
			for _, k := range models.Kinds {
				parts = append(parts, fmt.Sprintf("%s=%d", k, snap.Buckets.Len(k)))
			}
			fmt.Fprintf(ui.Output, "%s  %s\n", key, strings.Join(parts, " "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
}
