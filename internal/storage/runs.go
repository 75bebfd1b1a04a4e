package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cardsmith/internal"
)

// InsertRun stores one generation attempt. Empty error kinds are stored as NULL.
func (d *DB) InsertRun(run internal.RunRecord) error {
	timings, err := json.Marshal(nonNil(run.Timings))
	if err != nil {
		return fmt.Errorf("encode timings: %w", err)
	}
	counts, err := json.Marshal(nonNil(run.Counts))
	if err != nil {
		return fmt.Errorf("encode counts: %w", err)
	}

	_, err = d.conn.Exec(
		`INSERT INTO runs (traceId, operation, source, inboxId, timingsJson, countsJson, errorKind) VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''))`,
		run.TraceID, run.Operation, run.Source, run.InboxID, string(timings), string(counts), run.ErrorKind,
	)
	return err
}

func nonNil[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(limit int) ([]internal.RunRecord, error) {
	rows, err := d.conn.Query(
		`SELECT traceId, operation, COALESCE(source, ''), inboxId, timingsJson, countsJson, COALESCE(errorKind, '') FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []internal.RunRecord
	for rows.Next() {
		var (
			run            internal.RunRecord
			timings, count []byte
		)
		if err := rows.Scan(&run.TraceID, &run.Operation, &run.Source, &run.InboxID, &timings, &count, &run.ErrorKind); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(timings, &run.Timings); err != nil {
			return nil, fmt.Errorf("run %s timings: %w", run.TraceID, err)
		}
		if err := json.Unmarshal(count, &run.Counts); err != nil {
			return nil, fmt.Errorf("run %s counts: %w", run.TraceID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

// GetMetadata returns nil when the key was never set.
func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	switch err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &value, nil
}
