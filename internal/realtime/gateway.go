package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// AccessFunc reports whether principal may follow ticketID. A nil AccessFunc allows everything.
type AccessFunc func(ctx context.Context, principal auth.Principal, ticketID int64) error

// GatewayConfig configures the websocket endpoint.
type GatewayConfig struct {
	SendBuffer    int
	AllowedOrigin string
}

// Gateway upgrades authenticated HTTP requests to websocket connections and
// translates inbound frames into registry operations. Topics are always
// derived from the verified principal.
type Gateway struct {
	registry *Registry
	tokens   *auth.TokenManager
	access   AccessFunc
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewGateway builds the gateway.
func NewGateway(registry *Registry, tokens *auth.TokenManager, access AccessFunc, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		registry: registry,
		tokens:   tokens,
		access:   access,
		cfg:      cfg,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Routes returns the realtime HTTP handler.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", g.serveWS)
	r.Get("/stats", g.serveStats)
	return otelhttp.NewHandler(r, "realtime")
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.cfg.AllowedOrigin == "" || g.cfg.AllowedOrigin == "*" {
		return true
	}
	return r.Header.Get("Origin") == g.cfg.AllowedOrigin
}

func (g *Gateway) authenticate(r *http.Request) (*auth.Principal, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = auth.BearerToken(r.Header.Get("Authorization")); err != nil {
			return nil, err
		}
	}
	return g.tokens.Principal(token)
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	principal, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, *principal, g.cfg.SendBuffer, g.logger)
	g.attach(client, *principal)

	go client.writePump()
	go func() {
		client.readPump(func(raw []byte) {
			g.handleFrame(context.Background(), client, *principal, raw)
		})
		if sub := g.registry.Unregister(client.ID()); sub != nil {
			sub.Close()
		}
		g.logger.Info("websocket disconnected", zap.String("connection_id", client.ID()))
	}()
}

// attach registers sub, joins its user and role topics and greets it.
func (g *Gateway) attach(sub Subscriber, principal auth.Principal) {
	g.registry.Register(sub)
	_ = g.registry.Join(sub.ID(),
		events.UserTopic(principal.Role, principal.UserID),
		events.RoleTopic(principal.Role),
	)
	g.reply(sub, events.EventConnected, 0, ConnectedPayload{
		ConnectionID: sub.ID(),
		UserID:       principal.UserID,
		Role:         principal.Role,
	})
	g.logger.Info("websocket connected",
		zap.String("connection_id", sub.ID()),
		zap.Int64("user_id", principal.UserID),
		zap.String("role", string(principal.Role)),
	)
}

func (g *Gateway) handleFrame(ctx context.Context, sub Subscriber, principal auth.Principal, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.fail(sub, "", "malformed frame")
		return
	}

	switch frame.Action {
	case ActionPing:
		g.reply(sub, events.EventPong, 0, nil)

	case ActionJoinTicket:
		if err := g.authorize(ctx, principal, frame.TicketID); err != nil {
			g.fail(sub, frame.Action, err.Error())
			return
		}
		if err := g.registry.Join(sub.ID(), events.TicketTopic(frame.TicketID)); err != nil {
			g.fail(sub, frame.Action, err.Error())
			return
		}
		g.reply(sub, events.EventJoinedTicket, frame.TicketID, AckPayload{TicketID: frame.TicketID})

	case ActionLeaveTicket:
		g.registry.Leave(sub.ID(), events.TicketTopic(frame.TicketID))
		g.reply(sub, events.EventLeftTicket, frame.TicketID, AckPayload{TicketID: frame.TicketID})

	case ActionJoinChat:
		if !frame.Chat.Valid() || !frame.Chat.Allows(principal.Role) {
			g.fail(sub, frame.Action, "chat channel not available to this role")
			return
		}
		if err := g.authorize(ctx, principal, frame.TicketID); err != nil {
			g.fail(sub, frame.Action, err.Error())
			return
		}
		if err := g.registry.Join(sub.ID(), events.ChatTopic(frame.TicketID, frame.Chat)); err != nil {
			g.fail(sub, frame.Action, err.Error())
			return
		}
		g.reply(sub, events.EventJoinedChat, frame.TicketID, AckPayload{TicketID: frame.TicketID, Chat: frame.Chat})

	case ActionLeaveChat:
		if !frame.Chat.Valid() {
			g.fail(sub, frame.Action, "unknown chat channel")
			return
		}
		g.registry.Leave(sub.ID(), events.ChatTopic(frame.TicketID, frame.Chat))
		g.reply(sub, events.EventLeftChat, frame.TicketID, AckPayload{TicketID: frame.TicketID, Chat: frame.Chat})

	case ActionJoinCriticalRooms:
		allowed := make([]int64, 0, len(frame.TicketIDs))
		for _, ticketID := range frame.TicketIDs {
			if g.authorize(ctx, principal, ticketID) == nil {
				allowed = append(allowed, ticketID)
			}
		}
		if err := g.registry.JoinCritical(sub.ID(), principal.Role, allowed); err != nil {
			g.fail(sub, frame.Action, err.Error())
			return
		}
		g.reply(sub, events.EventJoinedCritical, 0, AckPayload{TicketIDs: allowed, Role: principal.Role})

	default:
		g.fail(sub, frame.Action, fmt.Sprintf("unknown action %q", frame.Action))
	}
}

func (g *Gateway) authorize(ctx context.Context, principal auth.Principal, ticketID int64) error {
	if ticketID <= 0 {
		return fmt.Errorf("ticket_id is required")
	}
	if g.access == nil {
		return nil
	}
	if err := g.access(ctx, principal, ticketID); err != nil {
		return fmt.Errorf("ticket %d not accessible", ticketID)
	}
	return nil
}

func (g *Gateway) reply(sub Subscriber, eventType events.EventType, ticketID int64, payload any) {
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := sub.Send(event); err != nil {
		g.registry.MarkStale(sub.ID())
	}
}

func (g *Gateway) fail(sub Subscriber, action, message string) {
	g.reply(sub, events.EventProtocolError, 0, ErrorPayload{Action: strings.TrimSpace(action), Message: message})
}

func (g *Gateway) serveStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.registry.Stats())
}
