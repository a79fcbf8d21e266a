package domain

// Role is the connection classification carried in token claims. Wire values
// stay in Portuguese to match the tokens issued by the enrollment system.
type Role string

const (
	RoleGuardian Role = "pai"
	RoleDriver   Role = "motorista"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuardian, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
