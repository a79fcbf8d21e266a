// Package hub owns the live-connection side of the system: it authenticates
// websocket clients, keeps the connection registry, sends role-scoped
// snapshots and fans out entry/exit notifications to the right recipients.
package hub

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vanscontrol/internal/hub/metrics"
	jwtauth "vanscontrol/internal/jwt_token"
	"vanscontrol/internal/presence"
	"vanscontrol/internal/ridelog"
	id "vanscontrol/pkg/domain"
)

// snapshotHistoryLimit caps the history view sent with every snapshot.
const snapshotHistoryLimit = 50

// SnapshotSource computes the two views sent on connect and on request.
type SnapshotSource interface {
	Pending(ctx context.Context, scope ridelog.Scope) ([]presence.PendingEntry, error)
	History(ctx context.Context, scope ridelog.Scope, limit int) ([]presence.HistoryEntry, error)
}

// ExitRecorder records a driver-initiated manual exit and performs the
// standard fan-out for it.
type ExitRecorder interface {
	RecordManualExit(ctx context.Context, childID id.ChildID, driverID id.UserID) error
}

// Notification is one entry/exit event to fan out.
type Notification struct {
	ChildID        id.ChildID
	ChildName      string
	School         string
	FamilyGroupKey id.FamilyGroupKey
	Timestamp      time.Time
}

// Hub routes notifications to live connections and assembles snapshots.
type Hub struct {
	registry *Registry
	source   SnapshotSource
	exits    ExitRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New constructs a hub over the given registry and snapshot source. The exit
// recorder is bound separately because it depends on the hub for fan-out.
func New(registry *Registry, source SnapshotSource, logger *slog.Logger, metrics *metrics.Metrics) *Hub {
	return &Hub{
		registry: registry,
		source:   source,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetExitRecorder binds the recorder invoked for manual-exit messages.
func (h *Hub) SetExitRecorder(exits ExitRecorder) {
	h.exits = exits
}

// Registry exposes the hub's connection registry to the composition root.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Notify delivers one event to at most two recipients: the first registered
// driver and the guardian whose family group matches the event's. Absence of
// either recipient is not an error, and a send failure against a transport
// that raced its own disconnect is swallowed.
func (h *Hub) Notify(ctx context.Context, kind ridelog.Kind, n Notification) {
	frame := notificationFrame(kind, n)

	if driver, ok := h.registry.FirstByRole(id.RoleDriver); ok {
		h.deliver(ctx, driver, frame, "driver")
	}
	if guardian, ok := h.registry.ByFamilyGroup(n.FamilyGroupKey); ok {
		h.deliver(ctx, guardian, frame, "guardian")
	}
}

func (h *Hub) deliver(ctx context.Context, transport Transport, frame eventMessage, recipient string) {
	if err := transport.Send(frame); err != nil {
		h.metrics.NotificationFailures.Inc()
		h.logger.WarnContext(ctx, "notification send failed",
			"recipient", recipient,
			"type", frame.Type,
			"error", err,
		)
		return
	}
	h.metrics.NotificationsDelivered.Inc()
}

// snapshot assembles the initial payload for a connection's role. The two
// views are fetched concurrently; a failed fetch degrades to an empty list
// and is logged, never surfaced to the client.
func (h *Hub) snapshot(ctx context.Context, identity jwtauth.Identity) Frame {
	start := time.Now()
	defer h.metrics.ObserveSnapshot(start)

	var scope ridelog.Scope
	switch identity.Role {
	case id.RoleDriver:
		scope = ridelog.ScopeGlobal
	case id.RoleGuardian:
		scope = ridelog.ScopeFamily(identity.FamilyGroupKey)
	default:
		return snapshotFrame(nil, nil)
	}

	var (
		pending []presence.PendingEntry
		history []presence.HistoryEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := h.source.Pending(gctx, scope)
		if err != nil {
			h.logger.WarnContext(gctx, "pending presence unavailable for snapshot",
				"user_id", identity.UserID,
				"error", err,
			)
			return nil
		}
		pending = entries
		return nil
	})
	g.Go(func() error {
		records, err := h.source.History(gctx, scope, snapshotHistoryLimit)
		if err != nil {
			h.logger.WarnContext(gctx, "history unavailable for snapshot",
				"user_id", identity.UserID,
				"error", err,
			)
			return nil
		}
		history = records
		return nil
	})
	_ = g.Wait()

	return snapshotFrame(pending, history)
}
