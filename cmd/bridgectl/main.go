// Command bridgectl is the offline maintenance CLI for the bridge engine.
// It operates directly on the engine's database and is never invoked by the
// sync cycle itself.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// Version is set at build time via ldflags
var Version = "dev"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Maintenance commands for the bridge engine database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the configuration file")

	cmd.AddCommand(newCleanupChangesCommand(opts))
	cmd.AddCommand(newDeactivateMappingCommand(opts))
	cmd.AddCommand(newMappingsReportCommand(opts))
	cmd.AddCommand(newResolveIssueCommand(opts))

	return cmd
}

// openRepos opens the configured database for one command invocation.
func openRepos(ctx context.Context, opts *rootOptions) (*store.Repositories, func(), error) {
	cfg, err := config.Load(opts.configPath, Version)
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRepositories(db), func() { _ = db.Close() }, nil
}

func newCleanupChangesCommand(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup-changes",
		Short: "Delete settled change-queue entries past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repos, closeDB, err := openRepos(ctx, opts)
			if err != nil {
				return err
			}
			defer closeDB()

			deleted, err := repos.Changes.Cleanup(ctx, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			stats, err := repos.Changes.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries; remaining: %d pending, %d synced, %d failed\n",
				deleted, stats.Pending, stats.Synced, stats.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "delete synced/failed entries older than this many days")

	return cmd
}

func newDeactivateMappingCommand(opts *rootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "deactivate-mapping <tracker-company-id>",
		Short: "Soft-disable one company mapping so the next cycle re-resolves it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repos, closeDB, err := openRepos(ctx, opts)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repos.Mappings.Deactivate(ctx, args[0], note); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated mapping for tracker company %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "deactivated via bridgectl", "note recorded on the mapping")

	return cmd
}

func newMappingsReportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mappings-report",
		Short: "Print every company mapping and the active count",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repos, closeDB, err := openRepos(ctx, opts)
			if err != nil {
				return err
			}
			defer closeDB()

			mappings, err := repos.Mappings.List(ctx)
			if err != nil {
				return err
			}
			active, err := repos.Mappings.CountActive(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d mappings, %d active\n\n", len(mappings), active)
			for _, m := range mappings {
				lastSynced := "never"
				if m.LastSynced != nil {
					lastSynced = m.LastSynced.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-10s %-14s %-14s %-8s last synced %s  %s\n",
					m.TrackerCompanyID, m.CRMCompanyID, m.CompanyName, m.SyncStatus, lastSynced, m.Notes)
			}
			return nil
		},
	}
}

func newResolveIssueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-issue <issue-id>",
		Short: "Mark one reconciliation issue as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid issue id %q", args[0])
			}

			ctx := cmd.Context()
			repos, closeDB, err := openRepos(ctx, opts)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repos.Issues.Resolve(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved issue %d\n", id)
			return nil
		},
	}
}
