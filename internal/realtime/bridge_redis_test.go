package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

func TestDecodeEnvelope(t *testing.T) {
	env := Envelope{
		Event:   events.Event{ID: "e1", Type: events.EventTicketClosed, TicketID: 4},
		Targets: []events.Topic{events.TicketTopic(4), events.UserTopic(domain.RoleClient, 2)},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event.ID != "e1" || len(got.Targets) != 2 || got.Targets[1] != events.UserTopic(domain.RoleClient, 2) {
		t.Fatalf("unexpected envelope %+v", got)
	}

	for _, raw := range []string{`not json`, `{"event":{},"targets":[]}`, `{"event":{"event":"x"},"targets":["bogus"]}`} {
		if _, err := decodeEnvelope([]byte(raw)); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

const bridgeChannel = "helpdesk:events"

func TestRedisBridgeRelaysThroughListener(t *testing.T) {
	server := startPubSubServer(t)
	bridge := NewRedisBridge(server.client(t), bridgeChannel, nil)
	hub, sub := bridgeHub(t, bridge)
	stop := listen(t, bridge, hub)
	defer stop()

	hub.Publish(context.Background(), events.Event{Type: events.EventReopenRequested, TicketID: 7}, events.TicketTopic(7))
	waitFor(t, func() bool { return len(sub.received()) == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := sub.types(); len(got) != 1 || got[0] != events.EventReopenRequested {
		t.Fatalf("received %v, want one reopen_requested", got)
	}
	if server.publishes.Load() != 1 {
		t.Fatalf("publishes = %d, want 1", server.publishes.Load())
	}
}

func TestRedisBridgeWithoutReceiversDeliversLocally(t *testing.T) {
	server := startPubSubServer(t)
	server.discard.Store(true)
	bridge := NewRedisBridge(server.client(t), bridgeChannel, nil)
	hub, sub := bridgeHub(t, bridge)
	stop := listen(t, bridge, hub)
	defer stop()

	env := Envelope{Event: events.Event{Type: events.EventTicketUpdated, TicketID: 7}, Targets: []events.Topic{events.TicketTopic(7)}}
	if err := bridge.Relay(context.Background(), env); !errors.Is(err, ErrNoListeners) {
		t.Fatalf("Relay err = %v, want ErrNoListeners", err)
	}

	hub.Publish(context.Background(), events.Event{Type: events.EventReopenRequested, TicketID: 7}, events.TicketTopic(7))
	waitFor(t, func() bool { return len(sub.received()) == 1 })
	if got := sub.types(); got[0] != events.EventReopenRequested {
		t.Fatalf("received %v", got)
	}
}

func TestRedisBridgeNotListeningDeliversLocally(t *testing.T) {
	server := startPubSubServer(t)
	bridge := NewRedisBridge(server.client(t), bridgeChannel, nil)
	hub, sub := bridgeHub(t, bridge)

	env := Envelope{Event: events.Event{Type: events.EventTicketUpdated, TicketID: 7}, Targets: []events.Topic{events.TicketTopic(7)}}
	if err := bridge.Relay(context.Background(), env); !errors.Is(err, ErrBridgeNotReady) {
		t.Fatalf("Relay before Listen err = %v, want ErrBridgeNotReady", err)
	}

	stop := listen(t, bridge, hub)
	stop()
	if bridge.Ready() {
		t.Fatalf("bridge still ready after Listen returned")
	}

	hub.Publish(context.Background(), events.Event{Type: events.EventReopenRequested, TicketID: 7}, events.TicketTopic(7))
	waitFor(t, func() bool { return len(sub.received()) == 1 })
	if server.publishes.Load() != 0 {
		t.Fatalf("publishes = %d, want 0", server.publishes.Load())
	}
}

// bridgeHub runs a hub relaying through bridge with one connection following ticket 7.
func bridgeHub(t *testing.T, bridge *RedisBridge) (*Hub, *fakeSubscriber) {
	t.Helper()
	reg := NewRegistry(8, nil)
	sub := newFake("c1")
	reg.Register(sub)
	if err := reg.Join("c1", events.TicketTopic(7)); err != nil {
		t.Fatalf("join: %v", err)
	}
	hub, _ := newTestHub(reg, bridge)
	runHub(t, hub)
	return hub, sub
}

// listen starts bridge.Listen and waits for the subscription. The returned
// func stops it and waits for it to return.
func listen(t *testing.T, bridge *RedisBridge, hub *Hub) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bridge.Listen(ctx, hub.Deliver)
		close(done)
	}()
	waitFor(t, bridge.Ready)
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// pubSubServer speaks enough RESP2 for go-redis to publish and subscribe.
type pubSubServer struct {
	ln        net.Listener
	discard   atomic.Bool
	publishes atomic.Int64

	mu       sync.Mutex
	channels map[string]map[*serverConn]struct{}
}

type serverConn struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (c *serverConn) write(reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.w.WriteString(reply)
	_ = c.w.Flush()
}

func startPubSubServer(t *testing.T) *pubSubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &pubSubServer{ln: ln, channels: make(map[string]map[*serverConn]struct{})}
	go s.accept()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *pubSubServer) client(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: s.ln.Addr().String(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func (s *pubSubServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *pubSubServer) serve(conn net.Conn) {
	defer conn.Close()
	sc := &serverConn{w: bufio.NewWriter(conn)}
	defer s.drop(sc)

	r := bufio.NewReader(conn)
	subscribed := false
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		switch strings.ToUpper(args[0]) {
		case "HELLO":
			sc.write("-ERR unknown command 'HELLO'\r\n")
		case "PING":
			if subscribed {
				sc.write("*2\r\n$4\r\npong\r\n$0\r\n\r\n")
			} else {
				sc.write("+PONG\r\n")
			}
		case "SUBSCRIBE":
			subscribed = true
			for i, channel := range args[1:] {
				s.mu.Lock()
				if s.channels[channel] == nil {
					s.channels[channel] = make(map[*serverConn]struct{})
				}
				s.channels[channel][sc] = struct{}{}
				s.mu.Unlock()
				sc.write("*3\r\n$9\r\nsubscribe\r\n" + bulk(channel) + ":" + strconv.Itoa(i+1) + "\r\n")
			}
		case "UNSUBSCRIBE":
			s.drop(sc)
			for _, channel := range args[1:] {
				sc.write("*3\r\n$11\r\nunsubscribe\r\n" + bulk(channel) + ":0\r\n")
			}
		case "PUBLISH":
			s.publishes.Add(1)
			sc.write(":" + strconv.Itoa(s.fanOut(args[1], args[2])) + "\r\n")
		default:
			sc.write("+OK\r\n")
		}
	}
}

func (s *pubSubServer) fanOut(channel, payload string) int {
	if s.discard.Load() {
		return 0
	}
	s.mu.Lock()
	targets := make([]*serverConn, 0, len(s.channels[channel]))
	for sc := range s.channels[channel] {
		targets = append(targets, sc)
	}
	s.mu.Unlock()
	for _, sc := range targets {
		sc.write("*3\r\n$7\r\nmessage\r\n" + bulk(channel) + bulk(payload))
	}
	return len(targets)
}

func (s *pubSubServer) drop(sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conns := range s.channels {
		delete(conns, sc)
	}
}

func bulk(s string) string {
	return "$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n"
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimRight(header, "\r\n")
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("unexpected header %q", header)
	}
	n, err := strconv.Atoi(header[1:])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array length %q", header)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(line, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}
