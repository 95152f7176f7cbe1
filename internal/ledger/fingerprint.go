package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fingerprint returns the stored fingerprint for object. ok is false when the
// object has never been compiled successfully.
func (l *Ledger) Fingerprint(ctx context.Context, object string) (fp string, ok bool, err error) {
	err = l.db.QueryRowContext(ctx, `SELECT fingerprint FROM unit_fingerprints WHERE object = ?;`, object).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read fingerprint for %s: %w", object, err)
	}
	return fp, true, nil
}

// PutFingerprint records the fingerprint of a successfully compiled object.
func (l *Ledger) PutFingerprint(ctx context.Context, object, source, fp string) error {
	if object == "" || fp == "" {
		return fmt.Errorf("put fingerprint: object and fingerprint are required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := l.db.ExecContext(ctx, `
INSERT INTO unit_fingerprints(object, source, fingerprint, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(object) DO UPDATE SET
  source = excluded.source,
  fingerprint = excluded.fingerprint,
  updated_at = excluded.updated_at;
`, object, source, fp, now)
	if err != nil {
		return fmt.Errorf("upsert fingerprint for %s: %w", object, err)
	}
	return nil
}

// ForgetFingerprint drops the fingerprint of object so the next build recompiles it.
func (l *Ledger) ForgetFingerprint(ctx context.Context, object string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM unit_fingerprints WHERE object = ?;`, object); err != nil {
		return fmt.Errorf("delete fingerprint for %s: %w", object, err)
	}
	return nil
}
