package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"vanscontrol/internal/directory"
	hubmetrics "vanscontrol/internal/hub/metrics"
	jwtauth "vanscontrol/internal/jwt_token"
	"vanscontrol/internal/presence"
	"vanscontrol/internal/ridelog"
	id "vanscontrol/pkg/domain"
)

var testHubMetrics = hubmetrics.New()

// wsTestFrame covers every outbound message shape. All fields sit beside
// the type discriminator, matching what the mobile clients parse.
type wsTestFrame struct {
	Type          string               `json:"type"`
	ChildID       string               `json:"jovemId"`
	Name          string               `json:"nome"`
	School        string               `json:"escola"`
	Time          string               `json:"horario"`
	Notifications []wsTestNotification `json:"notifications"`
	History       []wsTestHistoryEntry `json:"history"`
}

type wsTestNotification struct {
	ChildID string `json:"jovemId"`
	Name    string `json:"nome"`
	School  string `json:"escola"`
	Time    string `json:"horario"`
}

type wsTestHistoryEntry struct {
	Kind   string `json:"tipo"`
	Name   string `json:"nome"`
	Source string `json:"tipoRegistro"`
}

// manualExitRecorder stands in for the ingest service: it writes the exit to
// the log and immediately fans it out, like the real recorder does.
type manualExitRecorder struct {
	log      *ridelog.InMemoryStore
	children *directory.InMemoryChildStore
	hub      *Hub
}

func (r *manualExitRecorder) RecordManualExit(ctx context.Context, childID id.ChildID, driverID id.UserID) error {
	child, err := r.children.FindByID(ctx, childID)
	if err != nil {
		return err
	}
	event := ridelog.Event{
		ID:             uuid.New(),
		ChildID:        child.ID,
		FamilyGroupKey: child.FamilyGroupKey,
		Kind:           ridelog.KindExit,
		School:         child.School,
		Timestamp:      time.Now().UTC(),
		Source:         ridelog.SourceManual,
		DriverID:       driverID,
	}
	if err := r.log.Append(ctx, event); err != nil {
		return err
	}
	r.hub.Notify(ctx, ridelog.KindExit, Notification{
		ChildID:        child.ID,
		ChildName:      child.Name,
		School:         child.School,
		FamilyGroupKey: child.FamilyGroupKey,
		Timestamp:      event.Timestamp,
	})
	return nil
}

type wsFixture struct {
	server   *httptest.Server
	hub      *Hub
	log      *ridelog.InMemoryStore
	children *directory.InMemoryChildStore
	tokens   *jwtauth.JWTService
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	log := ridelog.NewInMemoryStore()
	children := directory.NewInMemoryChildStore()
	source := presence.New(log, children, logger)
	tokens := jwtauth.NewJWTService("test-signing-key", "vanscontrol", "vanscontrol-clients")

	h := New(NewRegistry(), source, logger, testHubMetrics)
	h.SetExitRecorder(&manualExitRecorder{log: log, children: children, hub: h})

	r := chi.NewRouter()
	NewHandler(h, tokens, logger, testHubMetrics).Register(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &wsFixture{
		server:   server,
		hub:      h,
		log:      log,
		children: children,
		tokens:   tokens,
	}
}

func (f *wsFixture) token(t *testing.T, identity jwtauth.Identity) string {
	t.Helper()
	token, err := f.tokens.GenerateToken(identity, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	conn, err := websocket.Dial(wsURL, "", f.server.URL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func (f *wsFixture) connect(t *testing.T, identity jwtauth.Identity) *websocket.Conn {
	t.Helper()
	return f.dial(t, f.token(t, identity))
}

func (f *wsFixture) enroll(t *testing.T, name string, key id.FamilyGroupKey) directory.Child {
	t.Helper()
	child := directory.Child{
		ID:             id.ChildID(uuid.New()),
		Name:           name,
		School:         "Escola Central",
		FamilyGroupKey: key,
	}
	require.NoError(t, f.children.Save(context.Background(), child))
	return child
}

func (f *wsFixture) reportEntry(t *testing.T, child directory.Child) {
	t.Helper()
	require.NoError(t, f.log.Append(context.Background(), ridelog.Event{
		ID:             uuid.New(),
		ChildID:        child.ID,
		FamilyGroupKey: child.FamilyGroupKey,
		Kind:           ridelog.KindEntry,
		School:         child.School,
		Timestamp:      time.Now().UTC(),
		Source:         ridelog.SourceAutomatic,
	}))
	f.hub.Notify(context.Background(), ridelog.KindEntry, Notification{
		ChildID:        child.ID,
		ChildName:      child.Name,
		School:         child.School,
		FamilyGroupKey: child.FamilyGroupKey,
		Timestamp:      time.Now().UTC(),
	})
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(conn, string(raw)))
}

func readRaw(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	var raw string
	require.NoError(t, websocket.Message.Receive(conn, &raw))
	return raw
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	var got wsTestFrame
	require.NoError(t, json.Unmarshal([]byte(readRaw(t, conn)), &got))
	return got
}

func readSnapshot(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, "initialData", frame.Type)
	return frame
}

func TestWebSocketAuth(t *testing.T) {
	t.Run("missing token closes without registering", func(t *testing.T) {
		f := newWSFixture(t)
		conn := f.dial(t, "")

		require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
		var raw string
		err := websocket.Message.Receive(conn, &raw)
		require.Error(t, err)
		assert.Equal(t, 0, f.hub.Registry().Len())
	})

	t.Run("garbage token closes without registering", func(t *testing.T) {
		f := newWSFixture(t)
		conn := f.dial(t, "not-a-jwt")

		require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
		var raw string
		err := websocket.Message.Receive(conn, &raw)
		require.Error(t, err)
		assert.Equal(t, 0, f.hub.Registry().Len())
	})

	t.Run("valid token receives a snapshot", func(t *testing.T) {
		f := newWSFixture(t)
		conn := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})

		snapshot := readSnapshot(t, conn)
		assert.Empty(t, snapshot.Notifications)
		assert.Empty(t, snapshot.History)
	})
}

func TestSnapshotOnConnect(t *testing.T) {
	t.Run("guardian sees pending entry for own family", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")
		bruno := f.enroll(t, "Bruno", "2025-0002")
		f.reportEntry(t, ana)
		f.reportEntry(t, bruno)

		conn := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		})

		snapshot := readSnapshot(t, conn)
		require.Len(t, snapshot.Notifications, 1)
		assert.Equal(t, ana.ID.String(), snapshot.Notifications[0].ChildID)
		assert.Equal(t, "Ana", snapshot.Notifications[0].Name)
		require.Len(t, snapshot.History, 1)
		assert.Equal(t, "entrada", snapshot.History[0].Kind)
	})

	t.Run("driver sees the global view", func(t *testing.T) {
		f := newWSFixture(t)
		f.reportEntry(t, f.enroll(t, "Ana", "2025-0001"))
		f.reportEntry(t, f.enroll(t, "Bruno", "2025-0002"))

		conn := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})

		snapshot := readSnapshot(t, conn)
		assert.Len(t, snapshot.Notifications, 2)
		assert.Len(t, snapshot.History, 2)
	})

	t.Run("snapshot fields sit beside the type discriminator", func(t *testing.T) {
		f := newWSFixture(t)
		f.reportEntry(t, f.enroll(t, "Ana", "2025-0001"))

		conn := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})

		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(readRaw(t, conn)), &raw))
		assert.Equal(t, "initialData", raw["type"])
		assert.Contains(t, raw, "notifications")
		assert.Contains(t, raw, "history")
		assert.NotContains(t, raw, "payload")
	})

	t.Run("admin gets a well-formed empty payload", func(t *testing.T) {
		f := newWSFixture(t)
		f.reportEntry(t, f.enroll(t, "Ana", "2025-0001"))

		conn := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleAdmin,
		})

		snapshot := readSnapshot(t, conn)
		assert.Empty(t, snapshot.Notifications)
		assert.Empty(t, snapshot.History)
	})

	t.Run("exit clears the pending entry from a fresh snapshot", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")
		f.reportEntry(t, ana)

		conn := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		})
		first := readSnapshot(t, conn)
		require.Len(t, first.Notifications, 1)

		require.NoError(t, f.log.Append(context.Background(), ridelog.Event{
			ID:             uuid.New(),
			ChildID:        ana.ID,
			FamilyGroupKey: ana.FamilyGroupKey,
			Kind:           ridelog.KindExit,
			School:         ana.School,
			Timestamp:      time.Now().UTC(),
			Source:         ridelog.SourceAutomatic,
		}))

		writeFrame(t, conn, map[string]any{"type": "getInitialData"})
		second := readSnapshot(t, conn)
		assert.Empty(t, second.Notifications)
		assert.Len(t, second.History, 2)
	})

	t.Run("getInitialData is idempotent", func(t *testing.T) {
		f := newWSFixture(t)
		f.reportEntry(t, f.enroll(t, "Ana", "2025-0001"))

		conn := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})
		first := readSnapshot(t, conn)

		writeFrame(t, conn, map[string]any{"type": "getInitialData"})
		second := readSnapshot(t, conn)
		assert.Equal(t, first, second)
	})

	t.Run("non-json frame is dropped and the connection survives", func(t *testing.T) {
		f := newWSFixture(t)

		conn := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})
		readSnapshot(t, conn)

		require.NoError(t, websocket.Message.Send(conn, "this is not json"))

		writeFrame(t, conn, map[string]any{"type": "getInitialData"})
		frame := readFrame(t, conn)
		assert.Equal(t, "initialData", frame.Type)
	})
}

func TestFanOut(t *testing.T) {
	t.Run("targets the driver and the matching guardian only", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")

		driver := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})
		guardian := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		})
		other := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0002",
		})
		readSnapshot(t, driver)
		readSnapshot(t, guardian)
		readSnapshot(t, other)

		f.reportEntry(t, ana)

		for _, conn := range []*websocket.Conn{driver, guardian} {
			frame := readFrame(t, conn)
			require.Equal(t, "entrada", frame.Type)
			assert.Equal(t, ana.ID.String(), frame.ChildID)
			assert.Equal(t, "Ana", frame.Name)
			assert.Equal(t, "Escola Central", frame.School)
		}

		// The unrelated guardian's next frame must be the requested
		// snapshot, proving no notification was queued ahead of it.
		writeFrame(t, other, map[string]any{"type": "getInitialData"})
		frame := readFrame(t, other)
		assert.Equal(t, "initialData", frame.Type)
	})

	t.Run("notification fields sit beside the type discriminator", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")

		guardian := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		})
		readSnapshot(t, guardian)

		f.reportEntry(t, ana)

		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(readRaw(t, guardian)), &raw))
		assert.Equal(t, "entrada", raw["type"])
		assert.Equal(t, ana.ID.String(), raw["jovemId"])
		assert.Equal(t, "Ana", raw["nome"])
		assert.Equal(t, "Escola Central", raw["escola"])
		assert.NotContains(t, raw, "payload")
	})

	t.Run("replacement connection receives instead of the superseded one", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")
		identity := jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		}

		stale := f.connect(t, identity)
		readSnapshot(t, stale)

		replacement := f.connect(t, identity)
		readSnapshot(t, replacement)

		f.reportEntry(t, ana)

		frame := readFrame(t, replacement)
		assert.Equal(t, "entrada", frame.Type)
	})
}

func TestManualExit(t *testing.T) {
	t.Run("driver manual exit fans out without a prior entry", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")

		driver := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})
		guardian := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		})
		readSnapshot(t, driver)
		readSnapshot(t, guardian)

		writeFrame(t, driver, map[string]any{
			"type":    "saidaManual",
			"jovemId": ana.ID.String(),
		})

		frame := readFrame(t, guardian)
		require.Equal(t, "saida", frame.Type)
		assert.Equal(t, "Ana", frame.Name)

		events, err := f.log.Recent(context.Background(), ridelog.ScopeGlobal, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ridelog.KindExit, events[0].Kind)
		assert.Equal(t, ridelog.SourceManual, events[0].Source)
	})

	t.Run("guardian manual exit is silently ignored", func(t *testing.T) {
		f := newWSFixture(t)
		ana := f.enroll(t, "Ana", "2025-0001")

		guardian := f.connect(t, jwtauth.Identity{
			UserID:         id.UserID(uuid.New()),
			Role:           id.RoleGuardian,
			FamilyGroupKey: "2025-0001",
		})
		readSnapshot(t, guardian)

		writeFrame(t, guardian, map[string]any{
			"type":    "saidaManual",
			"jovemId": ana.ID.String(),
		})

		// Processed in order, so a snapshot reply proves the manual
		// exit was handled (and dropped) first.
		writeFrame(t, guardian, map[string]any{"type": "getInitialData"})
		frame := readFrame(t, guardian)
		assert.Equal(t, "initialData", frame.Type)

		events, err := f.log.Recent(context.Background(), ridelog.ScopeGlobal, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("malformed manual exit keeps the connection alive", func(t *testing.T) {
		f := newWSFixture(t)

		driver := f.connect(t, jwtauth.Identity{
			UserID: id.UserID(uuid.New()),
			Role:   id.RoleDriver,
		})
		readSnapshot(t, driver)

		writeFrame(t, driver, map[string]any{
			"type":    "saidaManual",
			"jovemId": "not-a-uuid",
		})

		writeFrame(t, driver, map[string]any{"type": "getInitialData"})
		frame := readFrame(t, driver)
		assert.Equal(t, "initialData", frame.Type)
	})
}
