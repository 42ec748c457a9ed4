package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

// Dispatch is one recorded dispatch.
type Dispatch struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Action      string          `json:"action"`
	Args        json.RawMessage `json:"args"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Stage       string          `json:"stage,omitempty"`
	StateDigest string          `json:"state_digest,omitempty"`
}

// Event is one recorded pipeline event.
type Event struct {
	ID         int64             `json:"id"`
	DispatchID string            `json:"dispatch_id,omitempty"`
	Seq        int64             `json:"seq"`
	Action     string            `json:"action"`
	Type       fluxtor.EventType `json:"type"`
	Data       json.RawMessage   `json:"data"`
}

// Filter narrows ReadDispatches. Zero fields match everything.
type Filter struct {
	Action string
	Status string
	Limit  int
}

// ReadDispatches returns recorded dispatches matching f.
// Results are ordered by seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (r *Recorder) ReadDispatches(ctx context.Context, f Filter) ([]Dispatch, error) {
	var (
		where []string
		args  []any
	)
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `
		SELECT id, seq, action, args, payload, status, error, stage, state_digest
		FROM dispatches`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	dispatches := []Dispatch{}
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		dispatches = append(dispatches, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return dispatches, nil
}

// ReadDispatch retrieves a single dispatch by id.
// Returns sql.ErrNoRows if not found.
func (r *Recorder) ReadDispatch(ctx context.Context, id string) (Dispatch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, seq, action, args, payload, status, error, stage, state_digest
		FROM dispatches
		WHERE id = ?
	`, id)
	return scanDispatch(row)
}

// ReadEvents returns the events recorded for one dispatch in the order they
// were emitted.
//
// Returns an empty slice (not nil) if none exist.
func (r *Recorder) ReadEvents(ctx context.Context, dispatchID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, dispatch_id, seq, action, type, data
		FROM events
		WHERE dispatch_id = ?
		ORDER BY seq ASC, id ASC
	`, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// ReadRejected returns the events of dispatches refused for an unknown
// action name. They carry no dispatch id.
func (r *Recorder) ReadRejected(ctx context.Context) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, dispatch_id, seq, action, type, data
		FROM events
		WHERE dispatch_id IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rejected events: %w", err)
	}
	return collectEvents(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDispatch(s scanner) (Dispatch, error) {
	var (
		d       Dispatch
		args    string
		payload sql.NullString
	)
	err := s.Scan(&d.ID, &d.Seq, &d.Action, &args, &payload, &d.Status, &d.Error, &d.Stage, &d.StateDigest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Dispatch{}, err
		}
		return Dispatch{}, fmt.Errorf("scan dispatch: %w", err)
	}

	d.Args = json.RawMessage(args)
	if payload.Valid {
		d.Payload = json.RawMessage(payload.String)
	}
	return d, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e          Event
			dispatchID sql.NullString
			typ, data  string
		)
		if err := rows.Scan(&e.ID, &dispatchID, &e.Seq, &e.Action, &typ, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.DispatchID = dispatchID.String
		e.Type = fluxtor.EventType(typ)
		e.Data = json.RawMessage(data)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
