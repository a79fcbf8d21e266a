//go:build integration

package ridelog_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vanscontrol/internal/ridelog"
	id "vanscontrol/pkg/domain"
	"vanscontrol/pkg/testutil/containers"
)

const rideEventsSchema = `
CREATE TABLE IF NOT EXISTS ride_events (
    id               UUID PRIMARY KEY,
    child_id         UUID NOT NULL,
    family_group_key TEXT NOT NULL,
    kind             TEXT NOT NULL,
    school           TEXT NOT NULL,
    occurred_at      TIMESTAMPTZ NOT NULL,
    source           TEXT NOT NULL,
    driver_id        UUID
);
CREATE INDEX IF NOT EXISTS ride_events_recency_idx ON ride_events (occurred_at DESC);
CREATE INDEX IF NOT EXISTS ride_events_family_idx ON ride_events (family_group_key, occurred_at DESC);
CREATE INDEX IF NOT EXISTS ride_events_child_kind_idx ON ride_events (child_id, kind, occurred_at DESC);
`

type PostgresRideLogSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ridelog.PostgresStore
	base     time.Time
}

func TestPostgresRideLogSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRideLogSuite))
}

func (s *PostgresRideLogSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), rideEventsSchema)
	s.store = ridelog.NewPostgresStore(s.postgres.DB)
	s.base = time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
}

func (s *PostgresRideLogSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "ride_events"))
}

func (s *PostgresRideLogSuite) newEvent(kind ridelog.Kind, key id.FamilyGroupKey, offset time.Duration) ridelog.Event {
	return ridelog.Event{
		ID:             uuid.New(),
		ChildID:        id.ChildID(uuid.New()),
		FamilyGroupKey: key,
		Kind:           kind,
		School:         "Escola Central",
		Timestamp:      s.base.Add(offset),
		Source:         ridelog.SourceAutomatic,
	}
}

func (s *PostgresRideLogSuite) TestAppendAndListByKind() {
	ctx := context.Background()

	older := s.newEvent(ridelog.KindEntry, "2025-0001", 0)
	newer := s.newEvent(ridelog.KindEntry, "2025-0001", time.Minute)
	exit := s.newEvent(ridelog.KindExit, "2025-0001", 2*time.Minute)

	for _, event := range []ridelog.Event{older, newer, exit} {
		s.Require().NoError(s.store.Append(ctx, event))
	}

	entries, err := s.store.ListByKind(ctx, ridelog.ScopeGlobal, ridelog.KindEntry)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(newer.ID, entries[0].ID)
	s.Equal(older.ID, entries[1].ID)
}

func (s *PostgresRideLogSuite) TestScopedRecentWithLimit() {
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Require().NoError(s.store.Append(ctx, s.newEvent(ridelog.KindEntry, "2025-0001", time.Duration(i)*time.Minute)))
	}
	s.Require().NoError(s.store.Append(ctx, s.newEvent(ridelog.KindEntry, "2025-0002", time.Hour)))

	recent, err := s.store.Recent(ctx, ridelog.ScopeFamily("2025-0001"), 3)
	s.Require().NoError(err)
	s.Require().Len(recent, 3)
	for _, event := range recent {
		s.Equal(id.FamilyGroupKey("2025-0001"), event.FamilyGroupKey)
	}
}

func (s *PostgresRideLogSuite) TestManualExitKeepsDriver() {
	ctx := context.Background()

	event := s.newEvent(ridelog.KindExit, "2025-0001", 0)
	event.Source = ridelog.SourceManual
	event.DriverID = id.UserID(uuid.New())
	s.Require().NoError(s.store.Append(ctx, event))

	recent, err := s.store.Recent(ctx, ridelog.ScopeGlobal, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(event.DriverID, recent[0].DriverID)
	s.Equal(ridelog.SourceManual, recent[0].Source)
}
