// Command debile-initdb is the "init-database" program of spec.md §6: it
// loads a YAML seed file and populates a fresh database with the archive's
// starting topology. Grounded on
// original_source/debile/master/dimport.py's import_dict, which read a
// top-level Maintainer/Users/Builders/Suites document and inserted each via
// SQLAlchemy's session.add; reimplemented against internal/store's
// Create*/Attach* primitives (the same ones internal/ingest's seed fixtures
// and internal/scheduler's tests already exercise) and extended with the
// Groups/Components/Arches/Checks/GroupSuites sections dimport.py's single
// flat schema didn't need but debile's normalized group_suite_* join tables
// do.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/coreos/debile/internal/cli"
	"github.com/coreos/debile/internal/config"
	"github.com/coreos/debile/internal/journallog"
	"github.com/coreos/debile/internal/store"
)

var (
	configPath string
	force      bool
)

// seed is the top-level shape of a debile-initdb YAML document.
type seed struct {
	Maintainer  string           `yaml:"Maintainer"`
	Users       []seedUser       `yaml:"Users"`
	Builders    []seedBuilder    `yaml:"Builders"`
	Groups      []seedGroup      `yaml:"Groups"`
	Suites      []seedNamed      `yaml:"Suites"`
	Components  []seedNamed      `yaml:"Components"`
	Arches      []seedNamed      `yaml:"Arches"`
	Checks      []seedCheck      `yaml:"Checks"`
	GroupSuites []seedGroupSuite `yaml:"GroupSuites"`
}

type seedUser struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
}

type seedBuilder struct {
	Name string `yaml:"name"`
}

type seedGroup struct {
	Name      string `yaml:"name"`
	RepoPath  string `yaml:"repo_path"`
	RepoURL   string `yaml:"repo_url"`
	FilesPath string `yaml:"files_path"`
	FilesURL  string `yaml:"files_url"`
}

type seedNamed struct {
	Name string `yaml:"name"`
}

type seedCheck struct {
	Name   string `yaml:"name"`
	Source bool   `yaml:"source"`
	Binary bool   `yaml:"binary"`
	Build  bool   `yaml:"build"`
}

// seedGroupSuite enables one suite for one group, attaching the named
// components/arches/checks the way dimport.py's implicit default_group
// wiring never had to (the original's flat schema had no group_suite join
// table to populate).
type seedGroupSuite struct {
	Group      string   `yaml:"group"`
	Suite      string   `yaml:"suite"`
	Components []string `yaml:"components"`
	Arches     []string `yaml:"arches"`
	Checks     []string `yaml:"checks"`
}

func main() {
	root := &cobra.Command{
		Use:   "debile-initdb <seed.yaml>",
		Short: "Populate a fresh database from a YAML seed file.",
		Args:  cobra.ExactArgs(1),
		RunE:  runInitdb,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the debile YAML config file.")
	root.Flags().BoolVar(&force, "force", false, "Proceed even if the database already has data.")

	cli.Execute(root)
}

func runInitdb(cmd *cobra.Command, args []string) error {
	journallog.RegisterIfAvailable()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("debile-initdb: read seed file: %w", err)
	}
	var sd seed
	if err := yaml.Unmarshal(raw, &sd); err != nil {
		return fmt.Errorf("debile-initdb: parse seed file: %w", err)
	}

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer s.Close()

	if !force {
		empty, err := databaseIsEmpty(s)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("debile-initdb: database is not empty; pass --force to seed it anyway")
		}
	}

	return s.WithTx(context.Background(), func(tx *store.Tx) error {
		for _, u := range sd.Users {
			if _, err := tx.CreateUser(u.Username, u.Name, u.Email); err != nil {
				return fmt.Errorf("debile-initdb: create user %q: %w", u.Username, err)
			}
		}

		for _, b := range sd.Builders {
			if _, err := tx.CreateBuilder(b.Name); err != nil {
				return fmt.Errorf("debile-initdb: create builder %q: %w", b.Name, err)
			}
		}

		groups := map[string]int64{}
		for _, g := range sd.Groups {
			created, err := tx.CreateGroup(g.Name, g.RepoPath, g.RepoURL, g.FilesPath, g.FilesURL)
			if err != nil {
				return fmt.Errorf("debile-initdb: create group %q: %w", g.Name, err)
			}
			groups[g.Name] = created.ID
		}
		// default_group: dimport.py always seeds one ungrouped group for
		// uploads that carry no X-Debile-Group header (spec.md §4.3).
		if _, ok := groups["default"]; !ok {
			created, err := tx.CreateGroup("default", "", "", "", "")
			if err != nil {
				return fmt.Errorf("debile-initdb: create default group: %w", err)
			}
			groups["default"] = created.ID
		}

		suites := map[string]int64{}
		for _, suite := range sd.Suites {
			created, err := tx.CreateSuite(suite.Name)
			if err != nil {
				return fmt.Errorf("debile-initdb: create suite %q: %w", suite.Name, err)
			}
			suites[suite.Name] = created.ID
		}

		components := map[string]int64{}
		for _, c := range sd.Components {
			created, err := tx.CreateComponent(c.Name)
			if err != nil {
				return fmt.Errorf("debile-initdb: create component %q: %w", c.Name, err)
			}
			components[c.Name] = created.ID
		}

		arches := map[string]int64{}
		for _, a := range sd.Arches {
			created, err := tx.GetOrCreateArch(a.Name)
			if err != nil {
				return fmt.Errorf("debile-initdb: create arch %q: %w", a.Name, err)
			}
			arches[a.Name] = created.ID
		}

		checks := map[string]int64{}
		for _, c := range sd.Checks {
			created, err := tx.CreateCheck(c.Name, c.Source, c.Binary, c.Build)
			if err != nil {
				return fmt.Errorf("debile-initdb: create check %q: %w", c.Name, err)
			}
			checks[c.Name] = created.ID
		}

		for _, gs := range sd.GroupSuites {
			groupID, ok := groups[gs.Group]
			if !ok {
				return fmt.Errorf("debile-initdb: group suite references unknown group %q", gs.Group)
			}
			suiteID, ok := suites[gs.Suite]
			if !ok {
				return fmt.Errorf("debile-initdb: group suite references unknown suite %q", gs.Suite)
			}
			groupSuiteID, err := tx.CreateGroupSuite(groupID, suiteID)
			if err != nil {
				return fmt.Errorf("debile-initdb: enable suite %q for group %q: %w", gs.Suite, gs.Group, err)
			}
			for _, name := range gs.Components {
				id, ok := components[name]
				if !ok {
					return fmt.Errorf("debile-initdb: group suite references unknown component %q", name)
				}
				if err := tx.AttachComponent(groupSuiteID, id); err != nil {
					return err
				}
			}
			for _, name := range gs.Arches {
				id, ok := arches[name]
				if !ok {
					return fmt.Errorf("debile-initdb: group suite references unknown arch %q", name)
				}
				if err := tx.AttachArch(groupSuiteID, id); err != nil {
					return err
				}
			}
			for _, name := range gs.Checks {
				id, ok := checks[name]
				if !ok {
					return fmt.Errorf("debile-initdb: group suite references unknown check %q", name)
				}
				if err := tx.AttachCheck(groupSuiteID, id); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

// databaseIsEmpty reports whether the "default" group dimport.py always
// seeds has been created yet — the cheapest check to decide whether this
// looks like a fresh database.
func databaseIsEmpty(s *store.Store) (bool, error) {
	var empty bool
	err := s.WithTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.GetGroupByName("default")
		if err == store.ErrNotFound {
			empty = true
			return nil
		}
		return err
	})
	return empty, err
}
