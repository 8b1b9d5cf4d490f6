package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/rankings"
)

func newImportJCRCmd() *cobra.Command {
	var dir, dbPath string
	cmd := &cobra.Command{
		Use:   "import-jcr",
		Short: "Rebuild the rankings database from JCR<year>*.csv exports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			if dir == "" {
				dir = e.cfg.Rankings.CSVDir
			}
			if dbPath == "" {
				dbPath = e.cfg.Rankings.DBPath
			}
			if dir == "" || dbPath == "" {
				return fmt.Errorf("both a csv directory and a database path are required")
			}

			db, err := rankings.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			counts, err := rankings.NewImporter(db, e.logger.Named("rankings")).Import(cmd.Context(), dir)
			if err != nil {
				return err
			}
			files := make([]string, 0, len(counts))
			total := 0
			for name, n := range counts {
				files = append(files, name)
				total += n
			}
			sort.Strings(files)
			for _, name := range files {
				fmt.Fprintf(e.out, "%s\t%d\n", name, counts[name])
			}
			e.logger.Info("rankings imported", zap.Int("files", len(files)), zap.Int("rows", total))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of JCR CSV exports (default rankings.csv_dir)")
	cmd.Flags().StringVar(&dbPath, "db", "", "rankings database path (default rankings.db_path)")
	return cmd
}
