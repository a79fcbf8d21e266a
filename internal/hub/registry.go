package hub

import (
	"sync"

	jwtauth "vanscontrol/internal/jwt_token"
	id "vanscontrol/pkg/domain"
)

// Transport is the outbound side of one live connection.
type Transport interface {
	Send(frame Frame) error
	Close() error
}

type session struct {
	identity  jwtauth.Identity
	transport Transport
}

// Registry maps authenticated users to their live connection. At most one
// connection per user: a later registration supersedes the earlier one and
// closes its transport. Role and family-group lookups are served from
// incrementally maintained indexes rather than scans.
type Registry struct {
	mu        sync.Mutex
	byUser    map[id.UserID]*session
	roleOrder map[id.Role][]id.UserID
	byFamily  map[id.FamilyGroupKey]id.UserID
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:    make(map[id.UserID]*session),
		roleOrder: make(map[id.Role][]id.UserID),
		byFamily:  make(map[id.FamilyGroupKey]id.UserID),
	}
}

// Register inserts or replaces the mapping for the identity's user. A
// superseded transport is closed before the reference is dropped.
func (r *Registry) Register(identity jwtauth.Identity, transport Transport) {
	r.mu.Lock()
	previous := r.byUser[identity.UserID]
	if previous != nil {
		r.removeLocked(identity.UserID, previous)
	}
	r.byUser[identity.UserID] = &session{identity: identity, transport: transport}
	r.roleOrder[identity.Role] = append(r.roleOrder[identity.Role], identity.UserID)
	if identity.Role == id.RoleGuardian && identity.FamilyGroupKey != "" {
		r.byFamily[identity.FamilyGroupKey] = identity.UserID
	}
	r.mu.Unlock()

	if previous != nil {
		_ = previous.transport.Close()
	}
}

// Unregister removes the mapping only if the registered transport is the one
// passed in. A stale disconnect handler for a superseded connection must not
// evict the newer one.
func (r *Registry) Unregister(userID id.UserID, transport Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byUser[userID]
	if !ok || current.transport != transport {
		return false
	}
	r.removeLocked(userID, current)
	return true
}

// FirstByRole returns the earliest-registered live connection with the role.
func (r *Registry) FirstByRole(role id.Role) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, userID := range r.roleOrder[role] {
		if s, ok := r.byUser[userID]; ok {
			return s.transport, true
		}
	}
	return nil, false
}

// ByRole returns all live connections with the role in registration order.
func (r *Registry) ByRole(role id.Role) []Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	transports := make([]Transport, 0, len(r.roleOrder[role]))
	for _, userID := range r.roleOrder[role] {
		if s, ok := r.byUser[userID]; ok {
			transports = append(transports, s.transport)
		}
	}
	return transports
}

// ByFamilyGroup returns the guardian connection for the family group, if any.
func (r *Registry) ByFamilyGroup(key id.FamilyGroupKey) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byFamily[key]
	if !ok {
		return nil, false
	}
	s, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return s.transport, true
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

func (r *Registry) removeLocked(userID id.UserID, s *session) {
	delete(r.byUser, userID)

	order := r.roleOrder[s.identity.Role]
	for i, candidate := range order {
		if candidate == userID {
			r.roleOrder[s.identity.Role] = append(order[:i], order[i+1:]...)
			break
		}
	}

	if s.identity.FamilyGroupKey != "" && r.byFamily[s.identity.FamilyGroupKey] == userID {
		delete(r.byFamily, s.identity.FamilyGroupKey)
	}
}
