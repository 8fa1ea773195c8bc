package sse

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/promptshelf/promptshelf-server/internal/id"
)

const (
	eventQueueSize   = 1024
	clientBufferSize = 128
	replaySize       = 256
)

// Client is one subscribed event stream.
type Client struct {
	ID          string
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}

	types []EventType // empty means every type
}

// Wants reports whether the client subscribed to t. Heartbeats always pass.
func (c *Client) Wants(t EventType) bool {
	return t == EventHeartbeat || len(c.types) == 0 || slices.Contains(c.types, t)
}

// Manager fans store and job events out to connected clients. It numbers
// every non-heartbeat event and keeps the most recent ones so that a client
// reconnecting with Last-Event-ID can catch up.
type Manager struct {
	logger            *slog.Logger
	events            chan Event
	heartbeatInterval time.Duration
	wg                sync.WaitGroup

	mu      sync.RWMutex
	clients map[string]*Client
	seq     uint64
	recent  []Event // ring of the last replaySize events, oldest first

	closeMu sync.RWMutex
	closed  bool
}

// NewManager creates a new SSE Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:            logger,
		events:            make(chan Event, eventQueueSize),
		heartbeatInterval: 30 * time.Second,
		clients:           make(map[string]*Client),
	}
}

// Start runs the broadcast loop until ctx is done or Shutdown drains the queue.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	heartbeat := time.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-m.events:
			if !ok {
				m.closeAllClients()
				return
			}
			m.broadcast(event)

		case <-heartbeat.C:
			m.broadcast(NewHeartbeatEvent())

		case <-ctx.Done():
			m.closeAllClients()
			return
		}
	}
}

// Shutdown stops accepting events, lets the loop drain what is queued and
// closes every client.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.events)
	m.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("SSE manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("SSE shutdown timed out, queued events dropped")
		return ctx.Err()
	}
}

// Emit queues an event. Implements store.EventEmitter; anything but an
// Event is ignored. A full queue drops the event rather than stall a commit.
func (m *Manager) Emit(event any) {
	evt, ok := event.(Event)
	if !ok {
		m.logger.Error("invalid event emitted", slog.String("go_type", typeName(event)))
		return
	}

	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.events <- evt:
	default:
		m.logger.Error("SSE event queue full, dropping event",
			slog.String("event_type", string(evt.Type)))
	}
}

func (m *Manager) broadcast(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Type != EventHeartbeat {
		m.seq++
		event.Seq = m.seq
		if len(m.recent) == replaySize {
			m.recent = slices.Delete(m.recent, 0, 1)
		}
		m.recent = append(m.recent, event)
	}

	var delivered, dropped int
	for _, client := range m.clients {
		if !client.Wants(event.Type) {
			continue
		}
		select {
		case client.EventChan <- event:
			delivered++
		default:
			dropped++
			m.logger.Warn("dropped event for slow client",
				slog.String("client_id", client.ID),
				slog.String("event_type", string(event.Type)))
		}
	}

	if event.Type != EventHeartbeat {
		m.logger.Debug("event broadcast",
			slog.String("event_type", string(event.Type)),
			slog.Uint64("seq", event.Seq),
			slog.Int("delivered", delivered),
			slog.Int("dropped", dropped))
	}
}

// Connect registers a client for the given event types (all when none).
func (m *Manager) Connect(types ...EventType) (*Client, error) {
	clientID, err := id.Generate("sse")
	if err != nil {
		return nil, err
	}

	client := &Client{
		ID:          clientID,
		ConnectedAt: time.Now(),
		EventChan:   make(chan Event, clientBufferSize),
		Done:        make(chan struct{}),
		types:       types,
	}

	m.mu.Lock()
	m.clients[client.ID] = client
	total := len(m.clients)
	m.mu.Unlock()

	m.logger.Info("SSE client connected",
		slog.String("client_id", clientID),
		slog.Int("total_clients", total))
	return client, nil
}

// Replay returns the retained events after seq that c subscribed to, oldest
// first. Events older than the retention window are gone.
func (m *Manager) Replay(c *Client, after uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.recent {
		if e.Seq > after && c.Wants(e.Type) {
			out = append(out, e)
		}
	}
	return out
}

// Disconnect removes a client and closes its channels.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	client, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	total := len(m.clients)
	m.mu.Unlock()

	close(client.Done)
	close(client.EventChan)

	m.logger.Info("SSE client disconnected",
		slog.String("client_id", clientID),
		slog.Duration("duration", time.Since(client.ConnectedAt)),
		slog.Int("total_clients", total))
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Manager) closeAllClients() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		close(client.Done)
		close(client.EventChan)
	}
	if n := len(m.clients); n > 0 {
		m.logger.Info("SSE clients closed", slog.Int("count", n))
	}
	m.clients = make(map[string]*Client)
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
