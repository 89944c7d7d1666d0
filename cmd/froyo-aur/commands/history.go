package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-aur/pkg/stores"
)

func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("--db is required")
	}
	return stores.Open(ctx, dbPath)
}

func withStore(cmd *cobra.Command, fn func(context.Context, *stores.SQLiteStore) error) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded invocations",
		Long: `Inspect the invocation history recorded with --db.

Every install, upgrade and removal is recorded with its request, outcome
and per-package results. The package state table keeps the last action
taken on each package.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPackagesCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var filter stores.InvocationFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent invocations",
		Example: `  froyo-aur --db aur.db history list
  froyo-aur --db aur.db history list --package yay-bin --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				recs, err := store.ListInvocations(ctx, filter)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, recs)
				}
				for _, r := range recs {
					check := ""
					if r.CheckMode {
						check = " (check)"
					}
					fmt.Fprintf(w, "%s  %s  %-8s %-8s %-7s %s%s\n",
						r.ID, r.StartedAt.Format(time.RFC3339), r.Operation, r.Helper, r.Status,
						strings.Join(r.Packages, ","), check)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Operation, "operation", "", "only install, upgrade or remove")
	cmd.Flags().StringVar(&filter.Package, "package", "", "only invocations touching this package")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of invocations")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "skip this many invocations")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <invocation-id>",
		Short: "Show one invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				rec, err := store.GetInvocation(ctx, args[0])
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("invocation %s not found", args[0])
				}
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, rec)
				}
				fmt.Fprintf(w, "id:        %s\n", rec.ID)
				fmt.Fprintf(w, "operation: %s\n", rec.Operation)
				fmt.Fprintf(w, "helper:    %s\n", rec.Helper)
				fmt.Fprintf(w, "status:    %s (rc %d)\n", rec.Status, rec.RC)
				fmt.Fprintf(w, "started:   %s\n", rec.StartedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "duration:  %s\n", rec.Duration())
				if rec.Msg != "" {
					fmt.Fprintf(w, "msg:       %s\n", rec.Msg)
				}
				if rec.Error != nil {
					fmt.Fprintf(w, "error:     [%s] %s\n", rec.ErrorKind, *rec.Error)
				}
				for _, p := range rec.Results {
					fmt.Fprintf(w, "  %-32s %s\n", p.Package, p.Phase)
				}
				return nil
			})
		},
	}
}

func newHistoryPackagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "Show the last recorded action per package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				states, err := store.ListPackageStates(ctx)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, states)
				}
				for _, s := range states {
					installed := "absent"
					if s.Installed {
						installed = "installed"
					}
					fmt.Fprintf(w, "%-32s %-9s %-9s %s\n", s.Name, installed, s.LastAction, s.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete old invocations",
		Example: `  froyo-aur --db aur.db history prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				n, err := store.PruneInvocations(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("Pruned invocations")
				fmt.Fprintf(cmd.OutOrStdout(), "%d invocations deleted\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete invocations started before this age")
	return cmd
}
