// Package eventstore keeps interaction history in SQLite.
package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/LdDl/carewatch/interaction"
)

// schema.sql creates the interactions table and its indexes
//
//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Store is SQLite-backed interaction history. Safe for concurrent use
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) database at path and applies schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %q", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db}, nil
}

// Close closes database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordInteraction stores event. Storing the same event twice is a no-op
func (s *Store) RecordInteraction(ctx context.Context, event interaction.Event) error {
	query := `
		INSERT OR IGNORE INTO interactions (
			event_id, staff_track_id, patient_track_id, staff_identity_id, patient_identity_id,
			started_unix_nanos, at_unix_nanos, duration_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.StaffTrackID,
		event.PatientTrackID,
		event.StaffIdentityID,
		event.PatientIdentityID,
		event.Start.UnixNano(),
		event.At.UnixNano(),
		int64(event.Duration),
	)
	if err != nil {
		return errors.Wrapf(err, "insert interaction %s", event.ID)
	}
	return nil
}

// Recent returns up to limit latest interactions, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]interaction.Event, error) {
	query := `
		SELECT event_id, staff_track_id, patient_track_id, staff_identity_id, patient_identity_id,
			started_unix_nanos, at_unix_nanos, duration_nanos
		FROM interactions
		ORDER BY at_unix_nanos DESC, event_id
		LIMIT ?
	`
	return s.query(ctx, query, limit)
}

// ForPatient returns interactions of a patient identity since given time, oldest first
func (s *Store) ForPatient(ctx context.Context, patientIdentityID string, since time.Time) ([]interaction.Event, error) {
	query := `
		SELECT event_id, staff_track_id, patient_track_id, staff_identity_id, patient_identity_id,
			started_unix_nanos, at_unix_nanos, duration_nanos
		FROM interactions
		WHERE patient_identity_id = ? AND at_unix_nanos >= ?
		ORDER BY at_unix_nanos, event_id
	`
	return s.query(ctx, query, patientIdentityID, since.UnixNano())
}

// LastInteraction returns time of the latest interaction of a patient identity
func (s *Store) LastInteraction(ctx context.Context, patientIdentityID string) (time.Time, bool, error) {
	var at sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(at_unix_nanos) FROM interactions WHERE patient_identity_id = ?`,
		patientIdentityID,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "last interaction of %s", patientIdentityID)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, at.Int64).UTC(), true, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]interaction.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query interactions")
	}
	defer rows.Close()

	events := make([]interaction.Event, 0)
	for rows.Next() {
		var (
			e                     interaction.Event
			start, at, durationNs int64
		)
		if err := rows.Scan(&e.ID, &e.StaffTrackID, &e.PatientTrackID, &e.StaffIdentityID, &e.PatientIdentityID, &start, &at, &durationNs); err != nil {
			return nil, errors.Wrap(err, "scan interaction")
		}
		e.Start = time.Unix(0, start).UTC()
		e.At = time.Unix(0, at).UTC()
		e.Duration = time.Duration(durationNs)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate interactions")
	}
	return events, nil
}
