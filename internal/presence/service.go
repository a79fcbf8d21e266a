// Package presence derives the "currently pending" view: children that
// boarded the van and have not yet left it. Nothing here is persisted; the
// view is recomputed from the ride log on every request.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vanscontrol/internal/directory"
	"vanscontrol/internal/ridelog"
	id "vanscontrol/pkg/domain"
	dErrors "vanscontrol/pkg/domain-errors"
	"vanscontrol/pkg/platform/sentinel"
)

var tracer = otel.Tracer("vanscontrol/presence")

// PendingEntry is one child currently on the van.
type PendingEntry struct {
	ChildID        id.ChildID
	ChildName      string
	School         string
	EntryTimestamp time.Time
}

// HistoryEntry is one enriched log record for the snapshot history view.
type HistoryEntry struct {
	Kind      ridelog.Kind
	ChildName string
	School    string
	Timestamp time.Time
	Source    ridelog.Source
}

// Service computes pending presence and recent history over the ride log,
// resolving display names through the child directory.
type Service struct {
	log      ridelog.Store
	children directory.ChildStore
	logger   *slog.Logger
}

func New(log ridelog.Store, children directory.ChildStore, logger *slog.Logger) *Service {
	return &Service{log: log, children: children, logger: logger}
}

// Pending returns the children checked in but not yet checked out inside the
// scope, most recent entry first, at most one per child. The fetch is
// all-or-nothing: a ride log failure yields no partial results.
func (s *Service) Pending(ctx context.Context, scope ridelog.Scope) ([]PendingEntry, error) {
	ctx, span := tracer.Start(ctx, "presence.Pending")
	defer span.End()
	span.SetAttributes(attribute.Bool("scope.global", scope.Global()))

	entries, err := s.log.ListByKind(ctx, scope, ridelog.KindEntry)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "ride log unavailable", err)
	}
	exits, err := s.log.ListByKind(ctx, scope, ridelog.KindExit)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "ride log unavailable", err)
	}

	// One pass over the exits builds the per-child probe index, instead of
	// one store round-trip per entry.
	exitIndex := buildExitIndex(exits)

	var pending []PendingEntry
	processed := make(map[id.ChildID]bool)
	for _, entry := range entries {
		if processed[entry.ChildID] {
			continue
		}
		if exitIndex.hasExitAfter(entry.ChildID, entry.Timestamp) {
			continue
		}
		// Processed even when the name lookup fails, so an older entry for
		// the same child is never emitted in its place.
		processed[entry.ChildID] = true

		name, err := s.resolveName(ctx, entry.ChildID)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping pending entry, child not resolvable",
				"child_id", entry.ChildID,
				"error", err,
			)
			continue
		}
		pending = append(pending, PendingEntry{
			ChildID:        entry.ChildID,
			ChildName:      name,
			School:         entry.School,
			EntryTimestamp: entry.Timestamp,
		})
	}
	return pending, nil
}

// History returns the most recent limit events in the scope, newest first,
// enriched with child display names.
func (s *Service) History(ctx context.Context, scope ridelog.Scope, limit int) ([]HistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "presence.History")
	defer span.End()

	events, err := s.log.Recent(ctx, scope, limit)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "ride log unavailable", err)
	}

	names := make(map[id.ChildID]string, len(events))
	history := make([]HistoryEntry, 0, len(events))
	for _, event := range events {
		name, ok := names[event.ChildID]
		if !ok {
			resolved, err := s.resolveName(ctx, event.ChildID)
			if err != nil {
				s.logger.WarnContext(ctx, "history entry without resolvable child name",
					"child_id", event.ChildID,
					"error", err,
				)
			}
			name = resolved
			names[event.ChildID] = name
		}
		history = append(history, HistoryEntry{
			Kind:      event.Kind,
			ChildName: name,
			School:    event.School,
			Timestamp: event.Timestamp,
			Source:    event.Source,
		})
	}
	return history, nil
}

func (s *Service) resolveName(ctx context.Context, childID id.ChildID) (string, error) {
	child, err := s.children.FindByID(ctx, childID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", fmt.Errorf("child %s not in directory: %w", childID, err)
		}
		return "", fmt.Errorf("resolve child %s: %w", childID, err)
	}
	return child.Name, nil
}

// exitIndex holds each child's exit timestamps in ascending order.
type exitIndex map[id.ChildID][]time.Time

func buildExitIndex(exits []ridelog.Event) exitIndex {
	index := make(exitIndex)
	for _, exit := range exits {
		index[exit.ChildID] = append(index[exit.ChildID], exit.Timestamp)
	}
	for childID := range index {
		times := index[childID]
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	}
	return index
}

// hasExitAfter reports whether the child has an exit strictly later than t.
func (x exitIndex) hasExitAfter(childID id.ChildID, t time.Time) bool {
	times := x[childID]
	i := sort.Search(len(times), func(i int) bool { return times[i].After(t) })
	return i < len(times)
}
