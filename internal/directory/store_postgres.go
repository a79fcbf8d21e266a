package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	id "vanscontrol/pkg/domain"
	"vanscontrol/pkg/platform/sentinel"
)

// PostgresChildStore persists child records in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE children (
//	    id               UUID PRIMARY KEY,
//	    name             TEXT NOT NULL,
//	    school           TEXT NOT NULL,
//	    family_group_key TEXT NOT NULL
//	);
//	CREATE INDEX children_family_group_idx ON children (family_group_key);
type PostgresChildStore struct {
	db *sql.DB
}

func NewPostgresChildStore(db *sql.DB) *PostgresChildStore {
	return &PostgresChildStore{db: db}
}

func (s *PostgresChildStore) Save(ctx context.Context, child Child) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO children (id, name, school, family_group_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    school = EXCLUDED.school,
		    family_group_key = EXCLUDED.family_group_key`,
		child.ID.String(), child.Name, child.School, child.FamilyGroupKey.String(),
	)
	if err != nil {
		return fmt.Errorf("save child: %w", err)
	}
	return nil
}

func (s *PostgresChildStore) FindByID(ctx context.Context, childID id.ChildID) (Child, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, school, family_group_key
		FROM children
		WHERE id = $1`,
		childID.String(),
	)

	var (
		rawID  string
		child  Child
		rawKey string
	)
	if err := row.Scan(&rawID, &child.Name, &child.School, &rawKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Child{}, sentinel.ErrNotFound
		}
		return Child{}, fmt.Errorf("find child: %w", err)
	}

	parsed, err := id.ParseChildID(rawID)
	if err != nil {
		return Child{}, fmt.Errorf("corrupt child id %q: %w", rawID, err)
	}
	child.ID = parsed
	child.FamilyGroupKey = id.FamilyGroupKey(rawKey)
	return child, nil
}
