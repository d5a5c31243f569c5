package store

import (
	"database/sql"
	"fmt"

	"github.com/coreos/debile/internal/model"
)

// CreateGroup, CreateSuite, CreateComponent, and CreateCheck insert the
// archive's small operator-managed topology tables. Grounded on
// original_source/debile/master/dimport.py's import_dict, which the YAML
// seed loader (debile-initdb) reimplements against these primitives instead
// of SQLAlchemy's session.add.
func (tx *Tx) CreateGroup(name, repoPath, repoURL, filesPath, filesURL string) (*model.Group, error) {
	res, err := tx.tx.Exec(
		`INSERT INTO groups (name, repo_path, repo_url, files_path, files_url) VALUES (?, ?, ?, ?, ?)`,
		name, repoPath, repoURL, filesPath, filesURL,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create group %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create group %q: %w", name, err)
	}
	return &model.Group{ID: id, Name: name, RepoPath: repoPath, RepoURL: repoURL, FilesPath: filesPath, FilesURL: filesURL}, nil
}

func (tx *Tx) CreateSuite(name string) (*model.Suite, error) {
	res, err := tx.tx.Exec(`INSERT INTO suites (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("store: create suite %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create suite %q: %w", name, err)
	}
	return &model.Suite{ID: id, Name: name}, nil
}

func (tx *Tx) CreateComponent(name string) (*model.Component, error) {
	res, err := tx.tx.Exec(`INSERT INTO components (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("store: create component %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create component %q: %w", name, err)
	}
	return &model.Component{ID: id, Name: name}, nil
}

func (tx *Tx) CreateCheck(name string, source, binary, build bool) (*model.Check, error) {
	res, err := tx.tx.Exec(
		`INSERT INTO checks (name, source, binary, build) VALUES (?, ?, ?, ?)`,
		name, source, binary, build,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create check %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create check %q: %w", name, err)
	}
	return &model.Check{ID: id, Name: name, Source: source, Binary: binary, Build: build}, nil
}

// GetCheckByName looks up a check by name — used by rerun_check to refuse
// build checks (spec.md §4.4).
func (tx *Tx) GetCheckByName(name string) (*model.Check, error) {
	var c model.Check
	err := tx.tx.QueryRow(
		`SELECT id, name, source, binary, build FROM checks WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Source, &c.Binary, &c.Build)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup check %q: %w", name, err)
	}
	return &c, nil
}

// CreateGroupSuite records that suite is enabled for group, returning the
// (group, suite) pair's own row ID for the Attach* calls that follow.
func (tx *Tx) CreateGroupSuite(groupID, suiteID int64) (int64, error) {
	res, err := tx.tx.Exec(`INSERT INTO group_suites (group_id, suite_id) VALUES (?, ?)`, groupID, suiteID)
	if err != nil {
		return 0, fmt.Errorf("store: create group_suite: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create group_suite: %w", err)
	}
	return id, nil
}

func (tx *Tx) AttachComponent(groupSuiteID, componentID int64) error {
	if _, err := tx.tx.Exec(
		`INSERT INTO group_suite_components (group_suite_id, component_id) VALUES (?, ?)`,
		groupSuiteID, componentID,
	); err != nil {
		return fmt.Errorf("store: attach component to group_suite: %w", err)
	}
	return nil
}

func (tx *Tx) AttachArch(groupSuiteID, archID int64) error {
	if _, err := tx.tx.Exec(
		`INSERT INTO group_suite_arches (group_suite_id, arch_id) VALUES (?, ?)`,
		groupSuiteID, archID,
	); err != nil {
		return fmt.Errorf("store: attach arch to group_suite: %w", err)
	}
	return nil
}

func (tx *Tx) AttachCheck(groupSuiteID, checkID int64) error {
	if _, err := tx.tx.Exec(
		`INSERT INTO group_suite_checks (group_suite_id, check_id) VALUES (?, ?)`,
		groupSuiteID, checkID,
	); err != nil {
		return fmt.Errorf("store: attach check to group_suite: %w", err)
	}
	return nil
}
