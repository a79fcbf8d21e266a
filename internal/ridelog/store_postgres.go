package ridelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "vanscontrol/pkg/domain"
)

// PostgresStore persists the ride event log in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE ride_events (
//	    id               UUID PRIMARY KEY,
//	    child_id         UUID NOT NULL,
//	    family_group_key TEXT NOT NULL,
//	    kind             TEXT NOT NULL,
//	    school           TEXT NOT NULL,
//	    occurred_at      TIMESTAMPTZ NOT NULL,
//	    source           TEXT NOT NULL,
//	    driver_id        UUID
//	);
//	CREATE INDEX ride_events_recency_idx ON ride_events (occurred_at DESC);
//	CREATE INDEX ride_events_family_idx ON ride_events (family_group_key, occurred_at DESC);
//	CREATE INDEX ride_events_child_kind_idx ON ride_events (child_id, kind, occurred_at DESC);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	var driverID any
	if !event.DriverID.IsZero() {
		driverID = event.DriverID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ride_events (id, child_id, family_group_key, kind, school, occurred_at, source, driver_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID.String(), event.ChildID.String(), event.FamilyGroupKey.String(),
		string(event.Kind), event.School, event.Timestamp, string(event.Source), driverID,
	)
	if err != nil {
		return fmt.Errorf("append ride event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByKind(ctx context.Context, scope Scope, kind Kind) ([]Event, error) {
	query := `
		SELECT id, child_id, family_group_key, kind, school, occurred_at, source, driver_id
		FROM ride_events
		WHERE kind = $1`
	args := []any{string(kind)}
	if !scope.Global() {
		query += ` AND family_group_key = $2`
		args = append(args, scope.FamilyGroupKey.String())
	}
	query += ` ORDER BY occurred_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ride events by kind: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Recent(ctx context.Context, scope Scope, limit int) ([]Event, error) {
	query := `
		SELECT id, child_id, family_group_key, kind, school, occurred_at, source, driver_id
		FROM ride_events`
	var args []any
	if !scope.Global() {
		query += ` WHERE family_group_key = $1`
		args = append(args, scope.FamilyGroupKey.String())
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent ride events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			rawID     string
			rawChild  string
			rawKey    string
			rawKind   string
			rawSource string
			rawDriver sql.NullString
			event     Event
		)
		if err := rows.Scan(&rawID, &rawChild, &rawKey, &rawKind, &event.School, &event.Timestamp, &rawSource, &rawDriver); err != nil {
			return nil, fmt.Errorf("scan ride event: %w", err)
		}

		eventID, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("corrupt event id %q: %w", rawID, err)
		}
		childID, err := id.ParseChildID(rawChild)
		if err != nil {
			return nil, fmt.Errorf("corrupt child id %q: %w", rawChild, err)
		}

		event.ID = eventID
		event.ChildID = childID
		event.FamilyGroupKey = id.FamilyGroupKey(rawKey)
		event.Kind = Kind(rawKind)
		event.Source = Source(rawSource)
		if rawDriver.Valid {
			driverID, err := id.ParseUserID(rawDriver.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt driver id %q: %w", rawDriver.String, err)
			}
			event.DriverID = driverID
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ride events: %w", err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
