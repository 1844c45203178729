// Package history keeps a SQLite log of the metrics of every training phase.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/training"
	"github.com/tsawler/go-datapipe/vision/dataset"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	note       TEXT
);
CREATE TABLE IF NOT EXISTS phases(
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	epoch         INTEGER NOT NULL,
	phase         TEXT NOT NULL,
	loss          REAL NOT NULL,
	accuracy      REAL NOT NULL,
	macro_f1      REAL NOT NULL,
	samples       INTEGER NOT NULL,
	learning_rate REAL NOT NULL,
	duration_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS phases_run ON phases(run_id, id);
`

// Store appends phase metrics of one run to a SQLite database.
// It implements training.Recorder.
type Store struct {
	db    *sql.DB
	runID uuid.UUID
}

var _ training.Recorder = (*Store)(nil)

// Open opens (or creates) the database at path and starts a new run.
func Open(path, note string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history database %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create history schema")
	}

	s := &Store{db: db, runID: uuid.New()}
	if _, err := db.Exec("INSERT INTO runs(id, started_at, note) VALUES(?,?,?)",
		s.runID.String(), time.Now().Unix(), note); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to register run")
	}
	klog.V(1).Infof("history: run %s in %s", s.runID, path)
	return s, nil
}

// RunID identifies the run this store records.
func (s *Store) RunID() uuid.UUID { return s.runID }

// RecordPhase appends the metrics of one completed phase.
func (s *Store) RecordPhase(ctx context.Context, m training.PhaseMetrics) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO phases(run_id, epoch, phase, loss, accuracy, macro_f1, samples, learning_rate, duration_ns)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		s.runID.String(), m.Epoch, string(m.Phase), m.Loss, m.Accuracy, m.MacroF1, m.Samples, m.LearningRate, int64(m.Duration))
	return errors.Wrapf(err, "failed to record epoch %d %s", m.Epoch, m.Phase)
}

// Phases returns every phase recorded for runID, in recording order.
func (s *Store) Phases(ctx context.Context, runID uuid.UUID) ([]training.PhaseMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT epoch, phase, loss, accuracy, macro_f1, samples, learning_rate, duration_ns
		FROM phases WHERE run_id = ? ORDER BY id ASC`, runID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query phases")
	}
	defer rows.Close()

	var out []training.PhaseMetrics
	for rows.Next() {
		var (
			m        training.PhaseMetrics
			phase    string
			duration int64
		)
		if err := rows.Scan(&m.Epoch, &phase, &m.Loss, &m.Accuracy, &m.MacroF1, &m.Samples, &m.LearningRate, &duration); err != nil {
			return nil, errors.Wrap(err, "failed to scan phase")
		}
		m.Phase = dataset.Split(phase)
		m.Duration = time.Duration(duration)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "failed to read phases")
}

// Runs lists every recorded run id, oldest first.
func (s *Store) Runs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM runs ORDER BY started_at ASC, rowid ASC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid run id %q", raw)
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "failed to read runs")
}

func (s *Store) Close() error {
	return s.db.Close()
}
