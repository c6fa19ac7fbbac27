package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/botsview/internal/config"
	"github.com/wesm/botsview/internal/db"
	"github.com/wesm/botsview/internal/ingest"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [path...]",
		Short: "Import JSONL session and series records",
		Long: `Import reads JSONL files, or every .jsonl file in a directory,
and upserts the session and daily series records they contain.
With no arguments it imports the configured import directory.
Malformed lines are skipped and counted.`,
		RunE: runImport,
	}
	fs := cmd.Flags()
	fs.String("import-dir", "", "Directory to import when no paths are given")
	config.RegisterCommonFlags(fs)
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	paths := args
	if len(paths) == 0 {
		if cfg.ImportDir == "" {
			return errors.New(
				"nothing to import: pass paths or set --import-dir",
			)
		}
		paths = []string{cfg.ImportDir}
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	im := ingest.New(database, ingest.WithLogger(cfg.Logger()))
	total, err := importPaths(cmd, im, paths)
	writeImportSummary(cmd.OutOrStdout(), total)
	return err
}

func importPaths(
	cmd *cobra.Command, im *ingest.Importer, paths []string,
) (ingest.Result, error) {
	var total ingest.Result
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return total, fmt.Errorf("import %s: %w", p, err)
		}
		var res ingest.Result
		if info.IsDir() {
			res, err = im.ImportDir(cmd.Context(), p)
		} else {
			res, err = im.ImportFile(cmd.Context(), p)
		}
		total.Sessions += res.Sessions
		total.Series += res.Series
		total.Skipped += res.Skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeImportSummary(w io.Writer, r ingest.Result) {
	fmt.Fprintf(w,
		"Imported %d sessions and %d series values (%d lines skipped)\n",
		r.Sessions, r.Series, r.Skipped,
	)
}
