// Package ledger persists build outcomes and per-unit fingerprints in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/dispatch"
)

const maxDiagnosticBytes = 64 * 1024

var ErrBuildNotFound = errors.New("build not found")

const (
	BuildSucceeded = "succeeded"
	BuildFailed    = "failed"
)

// Build is one recorded dispatch.
type Build struct {
	ID        string
	Status    string
	PoolSize  int
	Units     int
	Compiled  int
	Skipped   int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
	LastError *string
}

// UnitRecord is one unit of a recorded build.
type UnitRecord struct {
	Seq        int
	Source     string
	Object     string
	Status     dispatch.Status
	ExitCode   *int
	Duration   time.Duration
	Error      *string
	Diagnostic *string
}

// Ledger stores builds in the database opened by storage.OpenSQLite.
type Ledger struct {
	db        *sql.DB
	retention int
}

var _ dispatch.Recorder = (*Ledger)(nil)

// New creates a Ledger. retention bounds how many builds are kept; 0 keeps all.
func New(db *sql.DB, retention int) *Ledger {
	return &Ledger{db: db, retention: retention}
}

// Record writes the build and all of its unit outcomes in one transaction.
func (l *Ledger) Record(ctx context.Context, res *dispatch.Result, buildErr error) error {
	if res == nil {
		return fmt.Errorf("record build: nil result")
	}
	if res.BuildID == "" {
		return fmt.Errorf("record build: empty build id")
	}

	status := BuildSucceeded
	var lastError any
	if buildErr != nil {
		status = BuildFailed
		lastError = truncate(buildErr.Error())
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO builds(id, status, pool_size, units, compiled, skipped, failed, started_at, duration_ms, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, res.BuildID, status, res.PoolSize, len(res.Outcomes), res.Compiled, res.Skipped, res.Failed,
		res.StartedAt.UTC().Format(time.RFC3339Nano), res.Duration.Milliseconds(), lastError)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO build_units(build_id, seq, source, object, status, exit_code, duration_ms, error, diagnostic)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return fmt.Errorf("prepare unit insert: %w", err)
	}
	defer stmt.Close()

	for i, o := range res.Outcomes {
		var exitCode, errText, diag any
		if o.Err != nil {
			errText = truncate(o.Err.Error())
			var cie *compile.CompilerInvocationError
			if errors.As(o.Err, &cie) {
				exitCode = cie.ExitCode
				if cie.Diagnostic != "" {
					diag = truncate(cie.Diagnostic)
				}
			}
		}
		if _, err := stmt.ExecContext(ctx, res.BuildID, i, o.Source, o.Object, string(o.Status),
			exitCode, o.Duration.Milliseconds(), errText, diag); err != nil {
			return fmt.Errorf("insert unit %s: %w", o.Source, err)
		}
	}

	if l.retention > 0 {
		if err := prune(ctx, tx, l.retention); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Prune deletes all but the newest keep builds.
func (l *Ledger) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	return prune(ctx, l.db, keep)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func prune(ctx context.Context, db execer, keep int) error {
	if _, err := db.ExecContext(ctx, `
DELETE FROM build_units WHERE build_id NOT IN (
  SELECT id FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?
);`, keep); err != nil {
		return fmt.Errorf("prune build units: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
DELETE FROM builds WHERE id NOT IN (
  SELECT id FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?
);`, keep); err != nil {
		return fmt.Errorf("prune builds: %w", err)
	}
	return nil
}

const buildColumns = `id, status, pool_size, units, compiled, skipped, failed, started_at, duration_ms, last_error`

// Get returns a build by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Build, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?;`, id)
	return scanBuild(row)
}

// Latest returns the most recent build.
func (l *Ledger) Latest(ctx context.Context) (*Build, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds ORDER BY started_at DESC, rowid DESC LIMIT 1;`)
	return scanBuild(row)
}

// List returns up to limit builds, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]*Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+buildColumns+` FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var out []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	var (
		b          Build
		startedAtS string
		durationMS int64
		lastError  sql.NullString
	)
	err := row.Scan(&b.ID, &b.Status, &b.PoolSize, &b.Units, &b.Compiled, &b.Skipped, &b.Failed,
		&startedAtS, &durationMS, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBuildNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan build: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		b.StartedAt = t
	}
	b.Duration = time.Duration(durationMS) * time.Millisecond
	if lastError.Valid {
		b.LastError = &lastError.String
	}
	return &b, nil
}

// Units returns the unit records of a build in request order.
func (l *Ledger) Units(ctx context.Context, buildID string) ([]UnitRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT seq, source, object, status, exit_code, duration_ms, error, diagnostic
FROM build_units WHERE build_id = ? ORDER BY seq ASC;
`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query build units: %w", err)
	}
	defer rows.Close()

	var out []UnitRecord
	for rows.Next() {
		var (
			u          UnitRecord
			status     string
			exitCode   sql.NullInt64
			durationMS int64
			errText    sql.NullString
			diag       sql.NullString
		)
		if err := rows.Scan(&u.Seq, &u.Source, &u.Object, &status, &exitCode, &durationMS, &errText, &diag); err != nil {
			return nil, fmt.Errorf("scan build unit: %w", err)
		}
		u.Status = dispatch.Status(status)
		u.Duration = time.Duration(durationMS) * time.Millisecond
		if exitCode.Valid {
			code := int(exitCode.Int64)
			u.ExitCode = &code
		}
		if errText.Valid {
			u.Error = &errText.String
		}
		if diag.Valid {
			u.Diagnostic = &diag.String
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query build units: %w", err)
	}
	return out, nil
}

func truncate(s string) string {
	if len(s) > maxDiagnosticBytes {
		return s[:maxDiagnosticBytes]
	}
	return s
}
