// Command debile-ingest is the spool-processing program of spec.md §6's
// "ingest-directory": it walks one directory of uploaded .changes/.dud
// files and runs each through internal/ingest.Pipeline, exactly once.
// Grounded on original_source/debile/master/cli.py's process_incoming(),
// which loads config then calls into debile.master.incoming's directory
// walk; --group/--archive-binary default the same way process_incoming's
// own --group default/positional directory argument did.
package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coreos/debile/internal/arches"
	"github.com/coreos/debile/internal/archive"
	"github.com/coreos/debile/internal/cli"
	"github.com/coreos/debile/internal/config"
	"github.com/coreos/debile/internal/ingest"
	"github.com/coreos/debile/internal/journallog"
	"github.com/coreos/debile/internal/keyring"
	"github.com/coreos/debile/internal/store"
)

var (
	configPath    string
	group         string
	archiveBinary string
)

func main() {
	root := &cobra.Command{
		Use:   "debile-ingest <directory>",
		Short: "Process one directory of incoming uploads.",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the debile YAML config file.")
	root.Flags().StringVar(&group, "group", "default", "Group name substituted into the config's archive templates to find the repository root.")
	root.Flags().StringVar(&archiveBinary, "archive-binary", "reprepro", "External repository-management tool to invoke.")

	cli.Execute(root)
}

func runIngest(cmd *cobra.Command, args []string) error {
	journallog.RegisterIfAvailable()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer s.Close()

	signingKeyring, err := keyring.LoadSigning(cfg.Keyring.SigningPath)
	if err != nil {
		return err
	}

	repoPath, _, _, _ := cfg.Archive.Resolve(group, 0)

	pipeline := &ingest.Pipeline{
		Store:    s,
		Keyring:  signingKeyring,
		Repo:     archive.NewRepo(archiveBinary, repoPath),
		FileRepo: archive.FileRepo{},
		Oracle:   arches.NewDpkgArchitectureOracle(),
	}

	return pipeline.IngestDirectory(context.Background(), args[0])
}
