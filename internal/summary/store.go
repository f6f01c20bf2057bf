// Package summary records training scalars in a SQLite database and
// renders input image summaries as PNG grids.
package summary

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	// Writes arrive from the training loop while the server or a test may read.
	sync "github.com/sasha-s/go-deadlock"
)

// Scalar is one recorded value.
type Scalar struct {
	RunID    string
	Tag      string
	Step     int64
	Value    float64
	WallTime time.Time
}

// Store persists scalars keyed by run id, tag and step. A repeated
// (run, tag, step) replaces the earlier value.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open summaries %s: %w", path, err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS scalars (
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL NOT NULL,
		-- unix nanoseconds
		wall_time INTEGER NOT NULL,
		PRIMARY KEY (run_id, tag, step)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create scalars table: %w", err)
	}
	return &Store{db: db}, nil
}

// WriteScalar records value for tag at step.
func (s *Store) WriteScalar(runID, tag string, step int64, value float64) error {
	return s.WriteScalars(runID, step, map[string]float64{tag: value})
}

// WriteScalars records several tags at the same step in one transaction.
func (s *Store) WriteScalars(runID string, step int64, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	for tag, value := range values {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO scalars (run_id, tag, step, value, wall_time) VALUES (?, ?, ?, ?, ?)",
			runID, tag, step, value, now,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("write scalar %s@%d: %w", tag, step, err)
		}
	}
	return tx.Commit()
}

// Scalars returns the values of tag for runID ordered by step.
func (s *Store) Scalars(runID, tag string) ([]Scalar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT step, value, wall_time FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step",
		runID, tag,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scalar
	for rows.Next() {
		sc := Scalar{RunID: runID, Tag: tag}
		var wall int64
		if err := rows.Scan(&sc.Step, &sc.Value, &wall); err != nil {
			return nil, err
		}
		sc.WallTime = time.Unix(0, wall)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Tags lists the distinct tags recorded for runID.
func (s *Store) Tags(runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT DISTINCT tag FROM scalars WHERE run_id = ? ORDER BY tag", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
