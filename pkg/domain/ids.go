// Package domain holds the identifier and role vocabulary shared by every
// module. IDs are distinct UUID types so the compiler rejects cross-type
// assignment at trust boundaries.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "vanscontrol/pkg/domain-errors"
)

// UserID identifies an authenticated account (guardian, driver or admin).
type UserID uuid.UUID

// ChildID identifies a child ("jovem") tracked by the system.
type ChildID uuid.UUID

// FamilyGroupKey scopes a guardian's household ("registro familiar"). It is
// an opaque key issued by the enrollment collaborator, e.g. "2025-0001".
type FamilyGroupKey string

func (id UserID) String() string  { return uuid.UUID(id).String() }
func (id ChildID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ChildID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (k FamilyGroupKey) String() string { return string(k) }
func (k FamilyGroupKey) IsZero() bool   { return strings.TrimSpace(string(k)) == "" }

// ParseUserID validates and parses a user id. IDs must be valid, non-nil
// UUIDs.
func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw, "user id")
	return UserID(parsed), err
}

// ParseChildID validates and parses a child id.
func ParseChildID(raw string) (ChildID, error) {
	parsed, err := parseUUID(raw, "child id")
	return ChildID(parsed), err
}

func parseUUID(raw string, label string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be the nil UUID")
	}
	return parsed, nil
}
