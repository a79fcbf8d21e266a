// Package ridelog is the append-only log of van boarding events. Records are
// immutable once written; recency queries order by timestamp descending.
package ridelog

import (
	"time"

	"github.com/google/uuid"

	id "vanscontrol/pkg/domain"
)

// Kind distinguishes boarding from leaving. Wire values stay in Portuguese to
// match the notification protocol.
type Kind string

const (
	KindEntry Kind = "entrada"
	KindExit  Kind = "saida"
)

// Source records how the event was captured.
type Source string

const (
	SourceAutomatic Source = "automatico"
	SourceManual    Source = "manual"
)

// Event is one boarding record. DriverID is set only for manual records.
type Event struct {
	ID             uuid.UUID
	ChildID        id.ChildID
	FamilyGroupKey id.FamilyGroupKey
	Kind           Kind
	School         string
	Timestamp      time.Time
	Source         Source
	DriverID       id.UserID
}

// Scope restricts a query to one family group. The zero value means global.
type Scope struct {
	FamilyGroupKey id.FamilyGroupKey
}

// ScopeGlobal matches every event.
var ScopeGlobal = Scope{}

// ScopeFamily restricts to one family group.
func ScopeFamily(key id.FamilyGroupKey) Scope {
	return Scope{FamilyGroupKey: key}
}

// Global reports whether the scope matches every event.
func (s Scope) Global() bool { return s.FamilyGroupKey.IsZero() }

// Matches reports whether the event falls inside the scope.
func (s Scope) Matches(event Event) bool {
	return s.Global() || event.FamilyGroupKey == s.FamilyGroupKey
}
