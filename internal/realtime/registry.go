package realtime

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

var (
	// ErrUnknownConnection is returned when joining topics for an unregistered connection.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrConnectionClosed is returned by Send after Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the outbound buffer is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Subscriber is one live connection. Send must not block.
type Subscriber interface {
	ID() string
	Send(event events.Event) error
	Close()
}

type connection struct {
	sub    Subscriber
	mu     sync.Mutex
	topics map[events.Topic]struct{}
	stale  atomic.Bool
}

type topicMembers struct {
	mu      sync.RWMutex
	members map[string]Subscriber
}

// RegistryStats summarises registry size.
type RegistryStats struct {
	Connections int `json:"connections"`
	Topics      int `json:"topics"`
}

// Registry tracks live connections and the topics each joined. The registry
// lock guards both maps; each topic guards its own member set, so delivery
// only takes read locks.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	topics map[events.Topic]*topicMembers
	stale  chan string
	logger *zap.Logger
}

// NewRegistry builds a registry whose stale queue holds pruneBuffer ids.
func NewRegistry(pruneBuffer int, logger *zap.Logger) *Registry {
	if pruneBuffer <= 0 {
		pruneBuffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[string]*connection),
		topics: make(map[events.Topic]*topicMembers),
		stale:  make(chan string, pruneBuffer),
		logger: logger,
	}
}

// Register adds a connection with no topics. Registering an id twice replaces nothing.
func (r *Registry) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[sub.ID()]; exists {
		return
	}
	r.conns[sub.ID()] = &connection{sub: sub, topics: make(map[events.Topic]struct{})}
}

// Unregister removes the connection from every topic and returns it, or nil if unknown.
func (r *Registry) Unregister(id string) Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	conn.mu.Lock()
	for topic := range conn.topics {
		r.removeMemberLocked(topic, id)
	}
	conn.topics = nil
	conn.mu.Unlock()
	delete(r.conns, id)
	return conn.sub
}

// Join subscribes the connection to topics. Joining a topic twice is a no-op.
func (r *Registry) Join(id string, topics ...events.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for _, topic := range topics {
		if topic.IsZero() || topic.IsAll() {
			continue
		}
		if _, joined := conn.topics[topic]; joined {
			continue
		}
		set, exists := r.topics[topic]
		if !exists {
			set = &topicMembers{members: make(map[string]Subscriber)}
			r.topics[topic] = set
		}
		set.mu.Lock()
		set.members[id] = conn.sub
		set.mu.Unlock()
		conn.topics[topic] = struct{}{}
	}
	return nil
}

// JoinCritical joins the role topic and every listed ticket topic in one call.
func (r *Registry) JoinCritical(id string, role domain.Role, ticketIDs []int64) error {
	topics := make([]events.Topic, 0, len(ticketIDs)+1)
	topics = append(topics, events.RoleTopic(role))
	for _, ticketID := range ticketIDs {
		topics = append(topics, events.TicketTopic(ticketID))
	}
	return r.Join(id, topics...)
}

// Leave unsubscribes the connection. Unknown ids and topics are ignored.
func (r *Registry) Leave(id string, topics ...events.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for _, topic := range topics {
		if _, joined := conn.topics[topic]; !joined {
			continue
		}
		delete(conn.topics, topic)
		r.removeMemberLocked(topic, id)
	}
}

// removeMemberLocked requires r.mu held for writing.
func (r *Registry) removeMemberLocked(topic events.Topic, id string) {
	set, ok := r.topics[topic]
	if !ok {
		return
	}
	set.mu.Lock()
	delete(set.members, id)
	empty := len(set.members) == 0
	set.mu.Unlock()
	if empty {
		delete(r.topics, topic)
	}
}

// Subscribers resolves targets to distinct connections. TopicAll matches every connection.
func (r *Registry) Subscribers(targets ...events.Topic) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []Subscriber
	add := func(sub Subscriber) {
		if _, dup := seen[sub.ID()]; dup {
			return
		}
		seen[sub.ID()] = struct{}{}
		result = append(result, sub)
	}

	for _, topic := range targets {
		if topic.IsAll() {
			for _, conn := range r.conns {
				add(conn.sub)
			}
			continue
		}
		set, ok := r.topics[topic]
		if !ok {
			continue
		}
		set.mu.RLock()
		for _, sub := range set.members {
			add(sub)
		}
		set.mu.RUnlock()
	}
	return result
}

// Topics lists the connection's topics sorted by name.
func (r *Registry) Topics(id string) []events.Topic {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	conn.mu.Lock()
	topics := make([]events.Topic, 0, len(conn.topics))
	for topic := range conn.topics {
		topics = append(topics, topic)
	}
	conn.mu.Unlock()
	sort.Slice(topics, func(i, j int) bool { return topics[i].String() < topics[j].String() })
	return topics
}

// MarkStale queues the connection for asynchronous pruning. It never blocks.
func (r *Registry) MarkStale(id string) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok || !conn.stale.CompareAndSwap(false, true) {
		return
	}
	select {
	case r.stale <- id:
	default:
		// queue full; the next failed send marks it again
		conn.stale.Store(false)
		r.logger.Warn("prune queue full", zap.String("connection_id", id))
	}
}

// Stale delivers ids queued by MarkStale.
func (r *Registry) Stale() <-chan string {
	return r.stale
}

// Stats reports the number of connections and non-empty topics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{Connections: len(r.conns), Topics: len(r.topics)}
}
