// Package ingest is the boundary the event-producing collaborators call when
// a physical check-in or check-out happens: it appends the record to the ride
// log, mirrors it onto the event stream and triggers the hub's fan-out.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vanscontrol/internal/directory"
	"vanscontrol/internal/hub"
	"vanscontrol/internal/ingest/metrics"
	"vanscontrol/internal/ridelog"
	id "vanscontrol/pkg/domain"
	dErrors "vanscontrol/pkg/domain-errors"
	"vanscontrol/pkg/platform/sentinel"
)

var tracer = otel.Tracer("vanscontrol/ingest")

// Notifier fans an event out to its live recipients.
type Notifier interface {
	Notify(ctx context.Context, kind ridelog.Kind, n hub.Notification)
}

// EventPublisher mirrors recorded events onto a stream for downstream
// consumers. Publishing is best-effort and never blocks ingestion.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte)
}

// Request carries one reported entry or exit.
type Request struct {
	ChildID        id.ChildID
	ChildName      string
	School         string
	FamilyGroupKey id.FamilyGroupKey
}

// Service records boarding events. Calls for different children proceed
// concurrently; calls for the same child are serialized so an exit is never
// visible before its paired entry.
type Service struct {
	log      ridelog.Store
	children directory.ChildStore
	notifier Notifier
	events   EventPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	childLocks map[id.ChildID]*sync.Mutex
}

// New constructs the ingest service. events may be nil when no stream is
// configured.
func New(log ridelog.Store, children directory.ChildStore, notifier Notifier, events EventPublisher, logger *slog.Logger, metrics *metrics.Metrics) *Service {
	return &Service{
		log:        log,
		children:   children,
		notifier:   notifier,
		events:     events,
		logger:     logger,
		metrics:    metrics,
		childLocks: make(map[id.ChildID]*sync.Mutex),
	}
}

// ReportEntry records a check-in and fans it out.
func (s *Service) ReportEntry(ctx context.Context, req Request) error {
	return s.record(ctx, ridelog.KindEntry, req, ridelog.SourceAutomatic, id.UserID{})
}

// ReportExit records a check-out and fans it out.
func (s *Service) ReportExit(ctx context.Context, req Request) error {
	return s.record(ctx, ridelog.KindExit, req, ridelog.SourceAutomatic, id.UserID{})
}

// RecordManualExit resolves the child from the directory, records an exit
// with a manual source and the acting driver, then fans it out. A missing
// child aborts the operation before anything is written.
func (s *Service) RecordManualExit(ctx context.Context, childID id.ChildID, driverID id.UserID) error {
	ctx, span := tracer.Start(ctx, "ingest.RecordManualExit")
	defer span.End()

	child, err := s.children.FindByID(ctx, childID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "child not found")
		}
		return dErrors.Wrap(dErrors.CodeUnavailable, "child directory unavailable", err)
	}

	req := Request{
		ChildID:        child.ID,
		ChildName:      child.Name,
		School:         child.School,
		FamilyGroupKey: child.FamilyGroupKey,
	}
	if err := s.record(ctx, ridelog.KindExit, req, ridelog.SourceManual, driverID); err != nil {
		return err
	}
	s.metrics.ManualExits.Inc()
	return nil
}

func (s *Service) record(ctx context.Context, kind ridelog.Kind, req Request, source ridelog.Source, driverID id.UserID) error {
	ctx, span := tracer.Start(ctx, "ingest.record")
	span.SetAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("source", string(source)),
	)
	defer span.End()

	start := time.Now()
	defer s.metrics.ObserveRecord(start)

	lock := s.childLock(req.ChildID)
	lock.Lock()
	defer lock.Unlock()

	event := ridelog.Event{
		ID:             uuid.New(),
		ChildID:        req.ChildID,
		FamilyGroupKey: req.FamilyGroupKey,
		Kind:           kind,
		School:         req.School,
		Timestamp:      time.Now().UTC(),
		Source:         source,
		DriverID:       driverID,
	}
	if err := s.log.Append(ctx, event); err != nil {
		return dErrors.Wrap(dErrors.CodeUnavailable, "ride log unavailable", err)
	}
	s.metrics.IncrementRecorded(string(kind))

	s.publish(ctx, event, req.ChildName)

	s.notifier.Notify(ctx, kind, hub.Notification{
		ChildID:        req.ChildID,
		ChildName:      req.ChildName,
		School:         req.School,
		FamilyGroupKey: req.FamilyGroupKey,
		Timestamp:      event.Timestamp,
	})
	return nil
}

type streamEvent struct {
	ID             string    `json:"id"`
	ChildID        string    `json:"child_id"`
	ChildName      string    `json:"child_name,omitempty"`
	FamilyGroupKey string    `json:"family_group_key"`
	Kind           string    `json:"kind"`
	School         string    `json:"school"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	DriverID       string    `json:"driver_id,omitempty"`
}

func (s *Service) publish(ctx context.Context, event ridelog.Event, childName string) {
	if s.events == nil {
		return
	}

	payload := streamEvent{
		ID:             event.ID.String(),
		ChildID:        event.ChildID.String(),
		ChildName:      childName,
		FamilyGroupKey: string(event.FamilyGroupKey),
		Kind:           string(event.Kind),
		School:         event.School,
		Timestamp:      event.Timestamp,
		Source:         string(event.Source),
	}
	if !event.DriverID.IsZero() {
		payload.DriverID = event.DriverID.String()
	}

	value, err := json.Marshal(payload)
	if err != nil {
		s.metrics.PublishFailures.Inc()
		s.logger.WarnContext(ctx, "ride event not published", "error", err)
		return
	}
	s.events.Publish(ctx, event.ChildID.String(), value)
}

func (s *Service) childLock(childID id.ChildID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.childLocks[childID]
	if !ok {
		lock = &sync.Mutex{}
		s.childLocks[childID] = lock
	}
	return lock
}
