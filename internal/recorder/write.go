package recorder

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// Dispatch statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// write stores one record in a single transaction: the dispatch row change
// its event implies, then the event row.
func (r *Recorder) write(ctx context.Context, rec record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write %s: begin tx: %w", rec.eventType, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := writeDispatchChange(ctx, tx, rec); err != nil {
		return fmt.Errorf("write %s: %w", rec.eventType, err)
	}
	if err := writeEvent(ctx, tx, rec); err != nil {
		return fmt.Errorf("write %s: %w", rec.eventType, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write %s: commit: %w", rec.eventType, err)
	}
	return nil
}

func writeDispatchChange(ctx context.Context, tx *sql.Tx, rec record) error {
	switch rec.eventType {
	case fluxtor.EventDispatchStarted:
		// Replayed starts for the same id are ignored
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dispatches (id, seq, action, args, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, rec.dispatchID, rec.seq, rec.action, rec.args, StatusPending)
		if err != nil {
			return fmt.Errorf("insert dispatch: %w", err)
		}

	case fluxtor.EventDispatchCompleted:
		_, err := tx.ExecContext(ctx, `
			UPDATE dispatches
			SET status = ?, payload = ?, state_digest = ?
			WHERE id = ?
		`, StatusCompleted, nullString(rec.payload), rec.stateDigest, rec.dispatchID)
		if err != nil {
			return fmt.Errorf("complete dispatch: %w", err)
		}

	case fluxtor.EventDispatchFailed:
		_, err := tx.ExecContext(ctx, `
			UPDATE dispatches
			SET status = ?, payload = ?, error = ?, stage = ?
			WHERE id = ?
		`, StatusFailed, nullString(rec.payload), rec.errText, rec.stage, rec.dispatchID)
		if err != nil {
			return fmt.Errorf("fail dispatch: %w", err)
		}
	}
	return nil
}

func writeEvent(ctx context.Context, tx *sql.Tx, rec record) error {
	// Rejected dispatches never got an id
	var dispatchID any
	if rec.dispatchID != "" {
		dispatchID = rec.dispatchID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (dispatch_id, seq, action, type, data)
		VALUES (?, ?, ?, ?, ?)
	`, dispatchID, rec.seq, rec.action, string(rec.eventType), rec.data)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
