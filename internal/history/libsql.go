package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/toolweave/toolweave/internal/engine"
	"github.com/toolweave/toolweave/pkg/schema"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	workflow TEXT NOT NULL,
	success INTEGER NOT NULL,
	steps_executed INTEGER NOT NULL,
	steps_failed INTEGER NOT NULL,
	steps_skipped INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error TEXT,
	result TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, created_at);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	step_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	error TEXT,
	started_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and applies the
// schema. The path should be a file URI, e.g. "file:/path/to/history.db".
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	for _, stmt := range splitStatements(historySchema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply history schema: %w", err)
		}
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// SaveResult records the run row and its trace rows in one transaction.
func (s *LibSQLStore) SaveResult(ctx context.Context, res *engine.ExecutionResult) error {
	if res == nil {
		return schema.NewError(schema.ErrCodeValidation, "execution result is nil")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal execution result").WithCause(err)
	}
	var errMsg sql.NullString
	if res.Error != nil {
		errMsg = sql.NullString{String: res.Error.Error(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow, success, steps_executed, steps_failed, steps_skipped, duration_ms, error, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Workflow, boolInt(res.Success),
		res.StepsExecuted, res.StepsFailed, res.StepsSkipped,
		res.DurationMs, errMsg, string(payload),
	); err != nil {
		return storeErr("insert run", err)
	}

	for seq, entry := range res.Trace {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_steps (run_id, seq, step_id, kind, status, attempt, error, started_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, seq, entry.StepID, string(entry.Kind), string(entry.Status),
			entry.Attempt, nullStr(entry.Error), entry.Started, entry.Duration.Milliseconds(),
		); err != nil {
			return storeErr("insert run step", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// GetResult loads a run's full result payload.
func (s *LibSQLStore) GetResult(ctx context.Context, runID string) (*engine.ExecutionResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM runs WHERE run_id = ?`, runID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	if err != nil {
		return nil, storeErr("query run", err)
	}

	var res engine.ExecutionResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal execution result").WithCause(err)
	}
	return &res, nil
}

// ListRuns returns run summaries, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter Filter) ([]*RunSummary, error) {
	query := `SELECT run_id, workflow, success, steps_executed, steps_failed, steps_skipped, duration_ms, error, created_at FROM runs`
	var conds []string
	var args []any
	if filter.Workflow != "" {
		conds = append(conds, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.FailedOnly {
		conds = append(conds, "success = 0")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query runs", err)
	}
	defer rows.Close()

	var out []*RunSummary
	for rows.Next() {
		sum := &RunSummary{}
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&sum.RunID, &sum.Workflow, &success,
			&sum.StepsExecuted, &sum.StepsFailed, &sum.StepsSkipped,
			&sum.DurationMs, &errMsg, &sum.CreatedAt); err != nil {
			return nil, storeErr("scan run", err)
		}
		sum.Success = success != 0
		sum.Error = errMsg.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// PruneBefore deletes runs recorded before the cutoff.
func (s *LibSQLStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, storeErr("prune runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("prune runs", err)
	}
	return n, nil
}

func storeErr(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s failed", op).WithCause(err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// splitStatements splits a SQL script on semicolons, skipping blanks.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		if s := strings.TrimSpace(raw); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

var _ Store = (*LibSQLStore)(nil)
