package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/botsview/internal/config"
	"github.com/wesm/botsview/internal/db"
)

// PruneConfig holds parsed CLI options for the prune command.
type PruneConfig struct {
	Filter db.PruneFilter
	DryRun bool
	Yes    bool
}

// Validate checks the cutoff date is present and well formed.
func (c PruneConfig) Validate() error {
	if c.Filter.Before == "" {
		return errors.New(
			"--before is required (refusing to prune all data)",
		)
	}
	if !c.Filter.Valid() {
		return fmt.Errorf(
			"invalid --before %q: use YYYY-MM-DD", c.Filter.Before,
		)
	}
	return nil
}

func newPruneCmd() *cobra.Command {
	var pc PruneConfig
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions and daily series older than a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := pc.Validate(); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer database.Close()

			p := &Pruner{
				DB:  database,
				Out: cmd.OutOrStdout(),
				In:  cmd.InOrStdin(),
			}
			return p.Prune(cmd.Context(), pc)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&pc.Filter.Before, "before", "",
		"Delete data dated before this day (YYYY-MM-DD)")
	fs.StringVar(&pc.Filter.Bot, "bot", "",
		"Only prune this bot")
	fs.BoolVar(&pc.DryRun, "dry-run", false,
		"Show what would be pruned without deleting")
	fs.BoolVar(&pc.Yes, "yes", false, "Skip confirmation prompt")
	config.RegisterCommonFlags(fs)
	return cmd
}

// PruneStore counts and deletes data past a cutoff.
type PruneStore interface {
	CountPrunable(ctx context.Context, f db.PruneFilter) (db.PruneCounts, error)
	Prune(ctx context.Context, f db.PruneFilter) (db.PruneCounts, error)
}

// Pruner executes the prune workflow against a store.
type Pruner struct {
	DB  PruneStore
	Out io.Writer
	In  io.Reader
}

// Prune reports what matches cfg, confirms unless told not to, and
// deletes it.
func (p *Pruner) Prune(ctx context.Context, cfg PruneConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	counts, err := p.DB.CountPrunable(ctx, cfg.Filter)
	if err != nil {
		return fmt.Errorf("finding candidates: %w", err)
	}
	if counts == (db.PruneCounts{}) {
		fmt.Fprintln(p.Out, "Nothing matches the given filters.")
		return nil
	}

	writeSummary(p.Out, cfg.Filter, counts)

	if cfg.DryRun {
		fmt.Fprintln(p.Out, "\nDry run: no changes made.")
		return nil
	}

	if !cfg.Yes {
		msg := fmt.Sprintf(
			"\nDelete %d sessions and %d series values?",
			counts.Sessions, counts.Series,
		)
		if !confirm(p.In, p.Out, msg) {
			fmt.Fprintln(p.Out, "Aborted.")
			return nil
		}
	}

	deleted, err := p.DB.Prune(ctx, cfg.Filter)
	if err != nil {
		return fmt.Errorf("pruning: %w", err)
	}
	fmt.Fprintf(p.Out,
		"\nDeleted %d sessions and %d series values\n",
		deleted.Sessions, deleted.Series,
	)
	return nil
}

func confirm(r io.Reader, w io.Writer, msg string) bool {
	fmt.Fprintf(w, "%s [y/N] ", msg)
	scanner := bufio.NewScanner(r)
	scanner.Scan()
	ans := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return ans == "y" || ans == "yes"
}

func writeSummary(w io.Writer, f db.PruneFilter, c db.PruneCounts) {
	scope := "all bots"
	if f.Bot != "" {
		scope = f.Bot
	}
	fmt.Fprintf(w, "Data before %s (%s):\n", f.Before, scope)
	fmt.Fprintf(w, "  %-16s %d\n", "sessions", c.Sessions)
	fmt.Fprintf(w, "  %-16s %d\n", "series values", c.Series)
}
