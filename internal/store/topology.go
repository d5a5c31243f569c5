package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/coreos/debile/internal/model"
)

// GetOrCreateArch looks up an Architecture by name, creating it if it does not
// yet exist — the archive topology is small and operator-managed, so a
// lazy upsert here saves a separate seeding step for pseudo-arches.
func (tx *Tx) GetOrCreateArch(name string) (*model.Architecture, error) {
	var id int64
	err := tx.tx.QueryRow(`SELECT id FROM arches WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := tx.tx.Exec(`INSERT INTO arches (name) VALUES (?)`, name)
		if err != nil {
			return nil, fmt.Errorf("store: create arch %q: %w", name, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("store: create arch %q: %w", name, err)
		}
		return &model.Architecture{ID: id, Name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup arch %q: %w", name, err)
	}
	return &model.Architecture{ID: id, Name: name}, nil
}

func (tx *Tx) GetGroupByName(name string) (*model.Group, error) {
	var g model.Group
	err := tx.tx.QueryRow(
		`SELECT id, name, repo_path, repo_url, files_path, files_url FROM groups WHERE name = ?`,
		name,
	).Scan(&g.ID, &g.Name, &g.RepoPath, &g.RepoURL, &g.FilesPath, &g.FilesURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup group %q: %w", name, err)
	}
	return &g, nil
}

func (tx *Tx) GetComponentByName(name string) (*model.Component, error) {
	var c model.Component
	err := tx.tx.QueryRow(`SELECT id, name FROM components WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup component %q: %w", name, err)
	}
	return &c, nil
}

// GetGroupSuite resolves the (group, suite) pair named by groupName and
// suiteName, along with its enabled components/architectures/checks.
func (tx *Tx) GetGroupSuite(groupName, suiteName string) (*model.GroupSuite, error) {
	var gs model.GroupSuite
	gs.Group = &model.Group{}
	gs.Suite = &model.Suite{}

	err := tx.tx.QueryRow(`
		SELECT gs.id,
		       g.id, g.name, g.repo_path, g.repo_url, g.files_path, g.files_url,
		       s.id, s.name
		FROM group_suites gs
		JOIN groups g ON g.id = gs.group_id
		JOIN suites s ON s.id = gs.suite_id
		WHERE g.name = ? AND s.name = ?
	`, groupName, suiteName).Scan(
		&gs.ID,
		&gs.Group.ID, &gs.Group.Name, &gs.Group.RepoPath, &gs.Group.RepoURL, &gs.Group.FilesPath, &gs.Group.FilesURL,
		&gs.Suite.ID, &gs.Suite.Name,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup group_suite %s/%s: %w", groupName, suiteName, err)
	}

	gs.Components, err = tx.groupSuiteComponents(gs.ID)
	if err != nil {
		return nil, err
	}
	gs.Architectures, err = tx.groupSuiteArches(gs.ID)
	if err != nil {
		return nil, err
	}
	gs.Checks, err = tx.groupSuiteChecks(gs.ID)
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

func (tx *Tx) groupSuiteComponents(groupSuiteID int64) ([]*model.Component, error) {
	rows, err := tx.tx.Query(`
		SELECT c.id, c.name FROM group_suite_components gsc
		JOIN components c ON c.id = gsc.component_id
		WHERE gsc.group_suite_id = ?`, groupSuiteID)
	if err != nil {
		return nil, fmt.Errorf("store: list group_suite components: %w", err)
	}
	defer rows.Close()

	var out []*model.Component
	for rows.Next() {
		var c model.Component
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("store: scan component: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (tx *Tx) groupSuiteArches(groupSuiteID int64) ([]*model.Architecture, error) {
	rows, err := tx.tx.Query(`
		SELECT a.id, a.name FROM group_suite_arches gsa
		JOIN arches a ON a.id = gsa.arch_id
		WHERE gsa.group_suite_id = ?`, groupSuiteID)
	if err != nil {
		return nil, fmt.Errorf("store: list group_suite arches: %w", err)
	}
	defer rows.Close()

	var out []*model.Architecture
	for rows.Next() {
		var a model.Architecture
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("store: scan arch: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (tx *Tx) groupSuiteChecks(groupSuiteID int64) ([]*model.Check, error) {
	rows, err := tx.tx.Query(`
		SELECT c.id, c.name, c.source, c.binary, c.build FROM group_suite_checks gsc
		JOIN checks c ON c.id = gsc.check_id
		WHERE gsc.group_suite_id = ?`, groupSuiteID)
	if err != nil {
		return nil, fmt.Errorf("store: list group_suite checks: %w", err)
	}
	defer rows.Close()

	var out []*model.Check
	for rows.Next() {
		var c model.Check
		if err := rows.Scan(&c.ID, &c.Name, &c.Source, &c.Binary, &c.Build); err != nil {
			return nil, fmt.Errorf("store: scan check: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("store: not found")

// --- Principal management (spec.md §4.4) ---

func (tx *Tx) GetPersonByUsername(username string) (*model.Person, error) {
	var p model.Person
	err := tx.tx.QueryRow(`
		SELECT id, username, name, email, signing_fingerprint, transport_fingerprint
		FROM people WHERE username = ?`, username,
	).Scan(&p.ID, &p.Username, &p.Name, &p.Email, &p.SigningFingerprint, &p.TransportFingerprint)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup person %q: %w", username, err)
	}
	return &p, nil
}

func (tx *Tx) GetPersonByTransportFingerprint(fp string) (*model.Person, error) {
	var p model.Person
	err := tx.tx.QueryRow(`
		SELECT id, username, name, email, signing_fingerprint, transport_fingerprint
		FROM people WHERE transport_fingerprint = ? AND transport_fingerprint != ''`, fp,
	).Scan(&p.ID, &p.Username, &p.Name, &p.Email, &p.SigningFingerprint, &p.TransportFingerprint)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup person by fingerprint: %w", err)
	}
	return &p, nil
}

func (tx *Tx) GetPersonBySigningFingerprint(fp string) (*model.Person, error) {
	var p model.Person
	err := tx.tx.QueryRow(`
		SELECT id, username, name, email, signing_fingerprint, transport_fingerprint
		FROM people WHERE signing_fingerprint = ? AND signing_fingerprint != ''`, fp,
	).Scan(&p.ID, &p.Username, &p.Name, &p.Email, &p.SigningFingerprint, &p.TransportFingerprint)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup person by fingerprint: %w", err)
	}
	return &p, nil
}

func (tx *Tx) CreateUser(username, name, email string) (*model.Person, error) {
	res, err := tx.tx.Exec(
		`INSERT INTO people (username, name, email) VALUES (?, ?, ?)`,
		username, name, email,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create user %q: %w", username, err)
	}
	return &model.Person{ID: id, Username: username, Name: name, Email: email}, nil
}

func (tx *Tx) UpdateUserKeys(personID int64, signingFP, transportFP string) error {
	_, err := tx.tx.Exec(
		`UPDATE people SET signing_fingerprint = ?, transport_fingerprint = ? WHERE id = ?`,
		signingFP, transportFP, personID,
	)
	if err != nil {
		return fmt.Errorf("store: update user keys: %w", err)
	}
	return nil
}

func (tx *Tx) DisableUser(personID int64) error {
	return tx.UpdateUserKeys(personID, model.DisabledFingerprint, model.DisabledFingerprint)
}

func (tx *Tx) GetBuilderByName(name string) (*model.Builder, error) {
	var b model.Builder
	var lastPing string
	err := tx.tx.QueryRow(`
		SELECT id, name, signing_fingerprint, transport_fingerprint, last_ping
		FROM builders WHERE name = ?`, name,
	).Scan(&b.ID, &b.Name, &b.SigningFingerprint, &b.TransportFingerprint, &lastPing)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup builder %q: %w", name, err)
	}
	if lastPing != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastPing); err == nil {
			b.LastPing = t
		}
	}
	return &b, nil
}

func (tx *Tx) GetBuilderBySigningFingerprint(fp string) (*model.Builder, error) {
	var b model.Builder
	var lastPing string
	err := tx.tx.QueryRow(`
		SELECT id, name, signing_fingerprint, transport_fingerprint, last_ping
		FROM builders WHERE signing_fingerprint = ? AND signing_fingerprint != ''`, fp,
	).Scan(&b.ID, &b.Name, &b.SigningFingerprint, &b.TransportFingerprint, &lastPing)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup builder by signing fingerprint: %w", err)
	}
	if lastPing != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastPing); err == nil {
			b.LastPing = t
		}
	}
	return &b, nil
}

func (tx *Tx) GetBuilderByTransportFingerprint(fp string) (*model.Builder, error) {
	var b model.Builder
	var lastPing string
	err := tx.tx.QueryRow(`
		SELECT id, name, signing_fingerprint, transport_fingerprint, last_ping
		FROM builders WHERE transport_fingerprint = ? AND transport_fingerprint != ''`, fp,
	).Scan(&b.ID, &b.Name, &b.SigningFingerprint, &b.TransportFingerprint, &lastPing)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup builder by fingerprint: %w", err)
	}
	if lastPing != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastPing); err == nil {
			b.LastPing = t
		}
	}
	return &b, nil
}

func (tx *Tx) CreateBuilder(name string) (*model.Builder, error) {
	res, err := tx.tx.Exec(`INSERT INTO builders (name, last_ping) VALUES (?, ?)`,
		name, time.Time{}.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: create builder %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create builder %q: %w", name, err)
	}
	return &model.Builder{ID: id, Name: name}, nil
}

func (tx *Tx) UpdateBuilderKeys(builderID int64, signingFP, transportFP string) error {
	_, err := tx.tx.Exec(
		`UPDATE builders SET signing_fingerprint = ?, transport_fingerprint = ? WHERE id = ?`,
		signingFP, transportFP, builderID,
	)
	if err != nil {
		return fmt.Errorf("store: update builder keys: %w", err)
	}
	return nil
}

func (tx *Tx) DisableBuilder(builderID int64) error {
	return tx.UpdateBuilderKeys(builderID, model.DisabledFingerprint, model.DisabledFingerprint)
}

func (tx *Tx) TouchBuilderPing(builderID int64, at time.Time) error {
	_, err := tx.tx.Exec(`UPDATE builders SET last_ping = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), builderID)
	if err != nil {
		return fmt.Errorf("store: touch builder ping: %w", err)
	}
	return nil
}
