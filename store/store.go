// Package store persists alignment runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	map_a       TEXT NOT NULL,
	map_b       TEXT NOT NULL,
	submaps_a   INTEGER NOT NULL,
	submaps_b   INTEGER NOT NULL,
	params      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pairs (
	run_id            TEXT NOT NULL,
	submap_a          INTEGER NOT NULL,
	submap_b          INTEGER NOT NULL,
	associations      INTEGER NOT NULL,
	gravity_rejected  INTEGER NOT NULL,
	error             TEXT,
	transform         TEXT,
	PRIMARY KEY (run_id, submap_a, submap_b),
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS associations (
	run_id    TEXT NOT NULL,
	submap_a  INTEGER NOT NULL,
	submap_b  INTEGER NOT NULL,
	obj_a     INTEGER NOT NULL,
	obj_b     INTEGER NOT NULL,
	FOREIGN KEY (run_id, submap_a, submap_b) REFERENCES pairs(run_id, submap_a, submap_b) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_associations_pair ON associations(run_id, submap_a, submap_b);
`

// Store is a SQLite-backed result store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Run describes one alignment run.
type Run struct {
	ID        string
	CreatedAt time.Time
	MapA      string
	MapB      string
	SubmapsA  int
	SubmapsB  int
	Params    align.RegistrationParams
}

// PairRecord is a stored pair result.
type PairRecord struct {
	SubmapA         int
	SubmapB         int
	Associations    []align.Association
	GravityRejected bool
	Error           string
	Transform       *objmap.Transform
}

// SaveRun stores res under a new run id and returns the stored run.
// Pairs without associations and without a rejection are not stored.
func (s *Store) SaveRun(ctx context.Context, mapA, mapB string, params align.RegistrationParams, res *align.AlignmentResults) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		MapA:      mapA,
		MapB:      mapB,
		SubmapsA:  res.NumA,
		SubmapsB:  res.NumB,
		Params:    params,
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, map_a, map_b, submaps_a, submaps_b, params) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Unix(), mapA, mapB, run.SubmapsA, run.SubmapsB, string(paramsJSON),
	); err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}

	pairStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pairs (run_id, submap_a, submap_b, associations, gravity_rejected, error, transform) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer pairStmt.Close()
	assocStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO associations (run_id, submap_a, submap_b, obj_a, obj_b) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer assocStmt.Close()

	for k := range res.Pairs {
		p := &res.Pairs[k]
		if len(p.Associations) == 0 && !p.GravityRejected {
			continue
		}
		var errText, tfJSON sql.NullString
		if p.Err != nil {
			errText = sql.NullString{String: p.Err.Error(), Valid: true}
		}
		if p.Transform != nil {
			b, err := json.Marshal(p.Transform.Rows())
			if err != nil {
				return nil, fmt.Errorf("marshaling transform: %w", err)
			}
			tfJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := pairStmt.ExecContext(ctx, run.ID, p.A, p.B, len(p.Associations), p.GravityRejected, errText, tfJSON); err != nil {
			return nil, fmt.Errorf("inserting pair (%d, %d): %w", p.A, p.B, err)
		}
		for _, as := range p.Associations {
			if _, err := assocStmt.ExecContext(ctx, run.ID, p.A, p.B, as.A, as.B); err != nil {
				return nil, fmt.Errorf("inserting association: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing run: %w", err)
	}
	return run, nil
}

// GetRun loads run metadata.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, map_a, map_b, submaps_a, submaps_b, params FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, map_a, map_b, submaps_a, submaps_b, params FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Pairs returns the stored pairs of a run ordered by (submap_a, submap_b).
func (s *Store) Pairs(ctx context.Context, runID string) ([]PairRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submap_a, submap_b, gravity_rejected, error, transform FROM pairs WHERE run_id = ? ORDER BY submap_a, submap_b`, runID)
	if err != nil {
		return nil, err
	}
	var out []PairRecord
	for rows.Next() {
		var rec PairRecord
		var errText, tfJSON sql.NullString
		if err := rows.Scan(&rec.SubmapA, &rec.SubmapB, &rec.GravityRejected, &errText, &tfJSON); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Error = errText.String
		if tfJSON.Valid {
			var m [][]float64
			if err := json.Unmarshal([]byte(tfJSON.String), &m); err != nil {
				rows.Close()
				return nil, fmt.Errorf("parsing transform: %w", err)
			}
			T, err := objmap.TransformFromRows(m)
			if err != nil {
				rows.Close()
				return nil, err
			}
			rec.Transform = &T
		}
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		assoc, err := s.associations(ctx, runID, out[i].SubmapA, out[i].SubmapB)
		if err != nil {
			return nil, err
		}
		out[i].Associations = assoc
	}
	return out, nil
}

// DeleteRun removes a run and its pairs.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (s *Store) associations(ctx context.Context, runID string, a, b int) ([]align.Association, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT obj_a, obj_b FROM associations WHERE run_id = ? AND submap_a = ? AND submap_b = ? ORDER BY rowid`, runID, a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []align.Association{}
	for rows.Next() {
		var as align.Association
		if err := rows.Scan(&as.A, &as.B); err != nil {
			return nil, err
		}
		out = append(out, as)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var created int64
	var params string
	if err := sc.Scan(&run.ID, &created, &run.MapA, &run.MapB, &run.SubmapsA, &run.SubmapsB, &params); err != nil {
		return nil, err
	}
	run.CreatedAt = time.Unix(created, 0).UTC()
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("parsing run params: %w", err)
	}
	return &run, nil
}
