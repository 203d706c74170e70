package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// ErrDeliveryFailure wraps a failed send to one connection. It never leaves the hub.
var ErrDeliveryFailure = errors.New("delivery failure")

// Envelope is one event with its resolved targets.
type Envelope struct {
	Event   events.Event   `json:"event"`
	Targets []events.Topic `json:"targets"`
}

// Relay forwards envelopes to every instance, including the sender.
type Relay interface {
	Relay(ctx context.Context, env Envelope) error
}

// HubOptions configures a Hub.
type HubOptions struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Relay   Relay
	Clock   func() time.Time
}

// Hub fans events out to registry subscribers. Publish only enqueues; a single
// dispatch goroutine started by Run delivers in publish order.
type Hub struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics
	relay    Relay
	now      func() time.Time

	mu     sync.Mutex
	queue  []Envelope
	notify chan struct{}
}

// NewHub builds a hub over registry.
func NewHub(registry *Registry, opts HubOptions) *Hub {
	h := &Hub{
		registry: registry,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		relay:    opts.Relay,
		now:      opts.Clock,
		notify:   make(chan struct{}, 1),
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	return h
}

// Publish stamps the event and queues it for delivery. Critical lifecycle
// events are followed by a critical_ticket_update for the dashboard roles.
func (h *Hub) Publish(_ context.Context, event events.Event, targets ...events.Topic) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}
	batch := []Envelope{{Event: event, Targets: append([]events.Topic(nil), targets...)}}

	if action, ok := event.Type.CriticalAction(); ok {
		roles := make([]events.Topic, 0, len(events.CriticalRoles))
		for _, role := range events.CriticalRoles {
			roles = append(roles, events.RoleTopic(role))
		}
		batch = append(batch, Envelope{
			Event: events.Event{
				ID:        uuid.NewString(),
				Type:      events.EventCriticalUpdate,
				TicketID:  event.TicketID,
				Actor:     event.Actor,
				Timestamp: event.Timestamp,
				Payload: events.CriticalUpdatePayload{
					TicketID: event.TicketID,
					Action:   action,
					Role:     event.Actor.Role,
					UserID:   event.Actor.UserID,
					Priority: events.CriticalPriorityLabel,
					SourceID: event.ID,
				},
			},
			Targets: roles,
		})
	}

	h.mu.Lock()
	h.queue = append(h.queue, batch...)
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Pending reports queued envelopes not yet dispatched.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Run dispatches queued envelopes until ctx is done, then flushes what is left.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.drain(context.Background())
			return
		case <-h.notify:
			h.drain(ctx)
		}
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		h.mu.Lock()
		batch := h.queue
		h.queue = nil
		h.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, env := range batch {
			h.dispatch(ctx, env)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, env Envelope) {
	if h.relay != nil {
		err := h.relay.Relay(ctx, env)
		if err == nil {
			return
		}
		h.logger.Warn("relay failed; delivering locally",
			zap.String("event", string(env.Event.Type)),
			zap.String("event_id", env.Event.ID),
			zap.Error(err),
		)
	}
	h.Deliver(env)
}

// Deliver sends env to every local subscriber of its targets, once per
// connection. Failed sends are logged, counted and queued for pruning.
func (h *Hub) Deliver(env Envelope) {
	subs := h.registry.Subscribers(env.Targets...)
	eventName := string(env.Event.Type)
	for _, sub := range subs {
		if err := sub.Send(env.Event); err != nil {
			h.metrics.RecordDrop(eventName)
			h.logger.Warn("event dropped",
				zap.Error(errors.Join(ErrDeliveryFailure, err)),
				zap.String("event", eventName),
				zap.String("event_id", env.Event.ID),
				zap.Int64("ticket_id", env.Event.TicketID),
				zap.String("connection_id", sub.ID()),
			)
			h.registry.MarkStale(sub.ID())
			continue
		}
		h.metrics.RecordDelivery(eventName)
	}
}
