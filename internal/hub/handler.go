package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"vanscontrol/internal/hub/metrics"
	jwtauth "vanscontrol/internal/jwt_token"
	id "vanscontrol/pkg/domain"
	"vanscontrol/pkg/requestcontext"
)

const (
	// RFC 6455 policy-violation close status, sent when the token is
	// missing or does not verify.
	statusPolicyViolation = 1008

	maxDecodeErrorsPerConn = 3
)

// TokenVerifier resolves the connection credential to an identity.
type TokenVerifier interface {
	ResolveIdentity(token string) (jwtauth.Identity, error)
}

// Handler upgrades websocket connections and drives each connection's
// lifecycle against the hub.
type Handler struct {
	hub     *Hub
	tokens  TokenVerifier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler constructs the websocket handler.
func NewHandler(hub *Hub, tokens TokenVerifier, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		hub:     hub,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
	}
}

// Register mounts the websocket endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Handle("/ws", websocket.Handler(h.serve))
}

// serve runs one connection from upgrade to close. The credential arrives in
// the "token" query parameter because the channel is opened before any
// header-bearing request can be issued.
func (h *Handler) serve(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	ctx := request.Context()

	identity, err := h.tokens.ResolveIdentity(request.URL.Query().Get("token"))
	if err != nil {
		h.metrics.AuthRejections.Inc()
		h.logger.InfoContext(ctx, "websocket rejected",
			"remote", request.RemoteAddr,
			"error", err,
		)
		_ = conn.WriteClose(statusPolicyViolation)
		return
	}

	ctx = requestcontext.WithUserID(ctx, identity.UserID)

	transport := newPeer(conn)
	h.hub.registry.Register(identity, transport)
	h.metrics.ConnectionOpened()
	defer func() {
		h.hub.registry.Unregister(identity.UserID, transport)
		h.metrics.ConnectionClosed()
	}()

	h.logger.InfoContext(ctx, "websocket connected",
		"user_id", identity.UserID,
		"role", identity.Role,
	)

	h.sendSnapshot(ctx, identity, transport)

	// Each frame is received whole and parsed on its own, so one
	// malformed frame never corrupts the read of the next.
	decodeErrors := 0
	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			h.logger.WarnContext(ctx, "websocket read failed",
				"user_id", identity.UserID,
				"error", err,
			)
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			h.logger.DebugContext(ctx, "dropping malformed frame",
				"user_id", identity.UserID,
				"error", err,
			)
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				h.logger.WarnContext(ctx, "websocket closed after repeated malformed frames",
					"user_id", identity.UserID,
				)
				return
			}
			continue
		}
		decodeErrors = 0

		switch msg.Type {
		case msgTypeGetInitialData:
			h.sendSnapshot(ctx, identity, transport)
		case msgTypeManualExit:
			h.handleManualExit(ctx, identity, msg.ChildID)
		default:
			h.logger.DebugContext(ctx, "dropping unknown message",
				"user_id", identity.UserID,
				"type", msg.Type,
			)
		}
	}
}

func (h *Handler) sendSnapshot(ctx context.Context, identity jwtauth.Identity, transport Transport) {
	frame := h.hub.snapshot(ctx, identity)
	if err := transport.Send(frame); err != nil {
		h.logger.WarnContext(ctx, "snapshot send failed",
			"user_id", identity.UserID,
			"error", err,
		)
	}
}

// handleManualExit records a driver-initiated exit. Messages from any other
// role are ignored, not rejected.
func (h *Handler) handleManualExit(ctx context.Context, identity jwtauth.Identity, rawChildID string) {
	if identity.Role != id.RoleDriver {
		return
	}

	childID, err := id.ParseChildID(rawChildID)
	if err != nil {
		h.logger.WarnContext(ctx, "dropping manual exit with invalid child id",
			"user_id", identity.UserID,
			"error", err,
		)
		return
	}

	if h.hub.exits == nil {
		h.logger.ErrorContext(ctx, "manual exit requested but no recorder is bound")
		return
	}
	if err := h.hub.exits.RecordManualExit(ctx, childID, identity.UserID); err != nil {
		h.logger.ErrorContext(ctx, "manual exit failed",
			"user_id", identity.UserID,
			"child_id", childID,
			"error", err,
		)
	}
}
