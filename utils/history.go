package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EpochRecord is one row of the per-epoch metrics table.
type EpochRecord struct {
	Epoch     int
	LR        float64
	TrainLoss float64
	TrainAcc  float64
	TrainT    float64
	TestNLL   float64
	TestLoss  float64
	TestAcc   float64
	TestT     float64
	Active    int
	Duration  time.Duration
}

// RoundRecord is one parameter-selection round.
type RoundRecord struct {
	Epoch     int
	Scored    int
	Kept      int
	Threshold float64
	Skipped   bool
}

// History appends run metrics to a sqlite database. Each History is one run,
// identified by RunID; several runs may share a database file.
type History struct {
	db    *sql.DB
	RunID string
}

var historySchema = []string{`
	CREATE TABLE IF NOT EXISTS runs(
		id TEXT PRIMARY KEY,
		started REAL NOT NULL,
		dir TEXT NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS epochs(
		run TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		lr REAL NOT NULL, tr_loss REAL NOT NULL, tr_acc REAL NOT NULL, tr_t REAL NOT NULL,
		te_nll REAL NOT NULL, te_loss REAL NOT NULL, te_acc REAL NOT NULL, te_t REAL NOT NULL,
		active INTEGER NOT NULL, seconds REAL NOT NULL,
		PRIMARY KEY(run, epoch)
	)`, `
	CREATE TABLE IF NOT EXISTS rounds(
		run TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		scored INTEGER NOT NULL, kept INTEGER NOT NULL, threshold REAL NOT NULL, skipped INTEGER NOT NULL,
		PRIMARY KEY(run, epoch)
	)`,
}

// OpenHistory opens (creating if needed) the database at path and registers
// a new run for dir.
func OpenHistory(ctx context.Context, path, dir string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range historySchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create history schema: %w", err)
		}
	}
	h := &History{db: db, RunID: uuid.New().String()}
	_, err = db.ExecContext(ctx, "INSERT INTO runs(id, started, dir) VALUES(?,?,?)",
		h.RunID, float64(time.Now().UnixMilli())/1000.0, dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	return h, nil
}

func (h *History) RecordEpoch(ctx context.Context, r EpochRecord) error {
	_, err := h.db.ExecContext(ctx, `INSERT OR REPLACE INTO epochs(run, epoch, lr, tr_loss, tr_acc, tr_t,
		te_nll, te_loss, te_acc, te_t, active, seconds) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.RunID, r.Epoch, r.LR, r.TrainLoss, r.TrainAcc, r.TrainT,
		r.TestNLL, r.TestLoss, r.TestAcc, r.TestT, r.Active, r.Duration.Seconds())
	return err
}

func (h *History) RecordRound(ctx context.Context, r RoundRecord) error {
	skipped := 0
	if r.Skipped {
		skipped = 1
	}
	_, err := h.db.ExecContext(ctx, `INSERT OR REPLACE INTO rounds(run, epoch, scored, kept, threshold, skipped)
		VALUES(?,?,?,?,?,?)`, h.RunID, r.Epoch, r.Scored, r.Kept, r.Threshold, skipped)
	return err
}

// Epochs returns this run's epoch rows in epoch order.
func (h *History) Epochs(ctx context.Context) ([]EpochRecord, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT epoch, lr, tr_loss, tr_acc, tr_t, te_nll, te_loss, te_acc, te_t,
		active, seconds FROM epochs WHERE run = ? ORDER BY epoch`, h.RunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EpochRecord
	for rows.Next() {
		var r EpochRecord
		var seconds float64
		if err := rows.Scan(&r.Epoch, &r.LR, &r.TrainLoss, &r.TrainAcc, &r.TrainT,
			&r.TestNLL, &r.TestLoss, &r.TestAcc, &r.TestT, &r.Active, &seconds); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(seconds * float64(time.Second))
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rounds returns this run's selection rounds in epoch order.
func (h *History) Rounds(ctx context.Context) ([]RoundRecord, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT epoch, scored, kept, threshold, skipped
		FROM rounds WHERE run = ? ORDER BY epoch`, h.RunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoundRecord
	for rows.Next() {
		var r RoundRecord
		var skipped int
		if err := rows.Scan(&r.Epoch, &r.Scored, &r.Kept, &r.Threshold, &skipped); err != nil {
			return nil, err
		}
		r.Skipped = skipped != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *History) Close() error { return h.db.Close() }
