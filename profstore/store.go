// Package profstore persists profile reports in a SQLite database.
package profstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/vm"
)

var log = commonlog.GetLogger("atlas.profile")

// ErrNotFound is returned when a run ID is not in the store.
var ErrNotFound = errors.New("profile run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	program      TEXT NOT NULL,
	started      TEXT NOT NULL,
	duration_ns  INTEGER NOT NULL,
	instructions INTEGER NOT NULL,
	max_stack    INTEGER NOT NULL,
	max_frames   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS opcode_counts (
	run_id TEXT NOT NULL,
	opcode TEXT NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (run_id, opcode)
);
CREATE TABLE IF NOT EXISTS call_counts (
	run_id   TEXT NOT NULL,
	function TEXT NOT NULL,
	count    INTEGER NOT NULL,
	hot      INTEGER NOT NULL,
	PRIMARY KEY (run_id, function)
);
CREATE TABLE IF NOT EXISTS hot_offsets (
	run_id  TEXT NOT NULL,
	ip      INTEGER NOT NULL,
	line    INTEGER NOT NULL,
	col     INTEGER NOT NULL,
	count   INTEGER NOT NULL,
	PRIMARY KEY (run_id, ip)
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started);
`

// Start times are stored fixed-width in UTC so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a profile database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("profstore: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("profstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("profstore: create schema: %w", err)
	}
	log.Debugf("opened %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a report. Saving a run ID twice replaces the earlier run.
func (s *Store) Save(ctx context.Context, r *vm.ProfileReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("profstore: %w", err)
	}
	defer tx.Rollback()

	if _, err := deleteRun(ctx, tx, r.RunID); err != nil {
		return fmt.Errorf("profstore: replace run: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, program, started, duration_ns, instructions, max_stack, max_frames)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Program, r.Started.UTC().Format(timeLayout), int64(r.Duration),
		int64(r.Instructions), r.MaxStack, r.MaxFrames)
	if err != nil {
		return fmt.Errorf("profstore: insert run: %w", err)
	}
	for _, oc := range r.Opcodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO opcode_counts (run_id, opcode, count) VALUES (?, ?, ?)`,
			r.RunID, oc.Opcode, int64(oc.Count)); err != nil {
			return fmt.Errorf("profstore: insert opcode count: %w", err)
		}
	}
	for _, cc := range r.Calls {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_counts (run_id, function, count, hot) VALUES (?, ?, ?, ?)`,
			r.RunID, cc.Function, int64(cc.Count), cc.Hot); err != nil {
			return fmt.Errorf("profstore: insert call count: %w", err)
		}
	}
	for _, hc := range r.HotOffsets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hot_offsets (run_id, ip, line, col, count) VALUES (?, ?, ?, ?, ?)`,
			r.RunID, hc.Offset, hc.Span.Line, hc.Span.Column, int64(hc.Count)); err != nil {
			return fmt.Errorf("profstore: insert hot offset: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("profstore: commit: %w", err)
	}
	log.Infof("saved run %s (%d instructions)", r.RunID, r.Instructions)
	return nil
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID        string
	Program      string
	Started      time.Time
	Duration     time.Duration
	Instructions uint64
	MaxStack     int
	MaxFrames    int
}

// Recent lists up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, program, started, duration_ns, instructions, max_stack, max_frames
		 FROM runs ORDER BY started DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("profstore: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		rs, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunSummary, error) {
	var (
		rs           RunSummary
		started      string
		duration     int64
		instructions int64
	)
	if err := row.Scan(&rs.RunID, &rs.Program, &started, &duration, &instructions, &rs.MaxStack, &rs.MaxFrames); err != nil {
		return rs, err
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return rs, fmt.Errorf("profstore: run %s: bad start time %q", rs.RunID, started)
	}
	rs.Started = t
	rs.Duration = time.Duration(duration)
	rs.Instructions = uint64(instructions)
	return rs, nil
}

// Load rebuilds the stored report for runID.
func (s *Store) Load(ctx context.Context, runID string) (*vm.ProfileReport, error) {
	rs, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT run_id, program, started, duration_ns, instructions, max_stack, max_frames
		 FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("profstore: load run: %w", err)
	}
	r := &vm.ProfileReport{
		RunID:        rs.RunID,
		Program:      rs.Program,
		Started:      rs.Started,
		Duration:     rs.Duration,
		Instructions: rs.Instructions,
		MaxStack:     rs.MaxStack,
		MaxFrames:    rs.MaxFrames,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT opcode, count FROM opcode_counts WHERE run_id = ? ORDER BY count DESC, opcode`, runID)
	if err != nil {
		return nil, fmt.Errorf("profstore: load opcodes: %w", err)
	}
	for rows.Next() {
		var oc vm.OpcodeCount
		var n int64
		if err := rows.Scan(&oc.Opcode, &n); err != nil {
			rows.Close()
			return nil, err
		}
		oc.Count = uint64(n)
		r.Opcodes = append(r.Opcodes, oc)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT function, count, hot FROM call_counts WHERE run_id = ? ORDER BY count DESC, function`, runID)
	if err != nil {
		return nil, fmt.Errorf("profstore: load calls: %w", err)
	}
	for rows.Next() {
		var cc vm.CallCount
		var n int64
		if err := rows.Scan(&cc.Function, &n, &cc.Hot); err != nil {
			rows.Close()
			return nil, err
		}
		cc.Count = uint64(n)
		r.Calls = append(r.Calls, cc)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT ip, line, col, count FROM hot_offsets WHERE run_id = ? ORDER BY count DESC, ip`, runID)
	if err != nil {
		return nil, fmt.Errorf("profstore: load hot offsets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hc vm.OffsetCount
		var line, col uint32
		var n int64
		if err := rows.Scan(&hc.Offset, &line, &col, &n); err != nil {
			return nil, err
		}
		if line != 0 {
			hc.Span = bytecode.Span{Line: line, Column: col}
		}
		hc.Count = uint64(n)
		r.HotOffsets = append(r.HotOffsets, hc)
	}
	return r, rows.Err()
}

// Delete removes a run and its counts.
func (s *Store) Delete(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("profstore: %w", err)
	}
	defer tx.Rollback()
	n, err := deleteRun(ctx, tx, runID)
	if err != nil {
		return fmt.Errorf("profstore: delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return tx.Commit()
}

// deleteRun removes runID from every table and reports how many runs rows
// went away.
func deleteRun(ctx context.Context, tx *sql.Tx, runID string) (int64, error) {
	for _, table := range []string{"opcode_counts", "call_counts", "hot_offsets"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FunctionTotals sums call counts per function across every stored run,
// largest first.
func (s *Store) FunctionTotals(ctx context.Context, limit int) ([]vm.CallCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT function, SUM(count) AS total FROM call_counts
		 GROUP BY function ORDER BY total DESC, function LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("profstore: function totals: %w", err)
	}
	defer rows.Close()
	var out []vm.CallCount
	for rows.Next() {
		var cc vm.CallCount
		var n int64
		if err := rows.Scan(&cc.Function, &n); err != nil {
			return nil, err
		}
		cc.Count = uint64(n)
		out = append(out, cc)
	}
	return out, rows.Err()
}
