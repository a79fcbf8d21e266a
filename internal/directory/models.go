// Package directory exposes read access to enrolled children ("jovens").
// Enrollment CRUD is owned by an external collaborator; this module only
// resolves the records the presence and notification paths need.
package directory

import (
	id "vanscontrol/pkg/domain"
)

// Child is the directory record for one tracked child.
type Child struct {
	ID             id.ChildID
	Name           string
	School         string
	FamilyGroupKey id.FamilyGroupKey
}
