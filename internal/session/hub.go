package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/docrelay/internal/metrics"
)

const defaultMaxMessageSize int64 = 10 << 20

// Hub groups connections into rooms keyed by document name and relays every
// frame a peer sends to the other peers in its room. Frames are forwarded
// verbatim; the hub never decodes them.
type Hub struct {
	rooms      map[string]map[*Client]bool
	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	log            zerolog.Logger
	metrics        *metrics.Metrics
	maxMessageSize int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub's logger. The default discards everything.
func WithLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithMetrics records session and room gauges on m.
func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithMaxMessageSize limits the size of a single inbound frame. Peers that
// exceed it are disconnected.
func WithMaxMessageSize(n int64) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}

// NewHub creates a Hub. Run must be started before connections are handed to it.
func NewHub(opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		rooms:          make(map[string]map[*Client]bool),
		broadcast:      make(chan frame),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		log:            zerolog.Nop(),
		maxMessageSize: defaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Establish implements Handoff. The connection joins the room named by the
// origin path; if the hub is already shut down the connection is closed.
func (h *Hub) Establish(conn *websocket.Conn, origin Origin) {
	client := newClient(conn, h, origin)
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn().Err(err).Str("conn", origin.ID).Msg("close after hub shutdown")
		}
	}
}

// Run processes registrations, departures and frames until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "disconnected")

		case f := <-h.broadcast:
			h.handleBroadcast(f)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	room, ok := h.rooms[client.room]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[client.room] = room
		h.metrics.RoomOpened()
	}
	client.closed = false
	room[client] = true
	peers := len(room)
	h.mutex.Unlock()

	h.metrics.SessionOpened()
	h.log.Info().Str("conn", client.id).Str("room", client.room).Str("remote", client.addr).
		Int("peers", peers).Msg("peer joined")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient detaches client from its room and closes its send queue,
// which stops the write pump. It is a no-op for clients already removed.
func (h *Hub) removeClient(client *Client, reason string) {
	h.mutex.Lock()
	room, ok := h.rooms[client.room]
	if !ok || !room[client] {
		h.mutex.Unlock()
		return
	}
	delete(room, client)
	client.closed = true
	peers := len(room)
	if peers == 0 {
		delete(h.rooms, client.room)
		h.metrics.RoomClosed()
	}
	h.mutex.Unlock()

	close(client.send)
	h.metrics.SessionClosed()
	h.log.Info().Str("conn", client.id).Str("room", client.room).Str("reason", reason).
		Int("peers", peers).Msg("peer left")
}

// leave is called by a read pump on exit. It never blocks once the hub has
// stopped.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// relay hands a frame to the run loop. It reports false once the hub has stopped.
func (h *Hub) relay(f frame) bool {
	select {
	case h.broadcast <- f:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) safeSend(client *Client, msg outbound) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if client.closed {
		return false
	}

	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// handleBroadcast sends a frame to every peer in the sender's room except the sender.
func (h *Hub) handleBroadcast(f frame) {
	peers := h.roomSnapshot(f.sender.room)
	h.metrics.FrameRelayed()

	var slow []*Client
	msg := outbound{messageType: f.messageType, payload: f.payload}
	for _, peer := range peers {
		if peer == f.sender {
			continue
		}
		if !h.safeSend(peer, msg) {
			slow = append(slow, peer)
		}
	}

	for _, peer := range slow {
		h.metrics.PeerDropped()
		h.removeClient(peer, "send buffer full")
	}
}

func (h *Hub) roomSnapshot(name string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	room := h.rooms[name]
	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every send queue and connection.
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all peer connections")

	h.mutex.Lock()
	var clients []*Client
	for name, room := range h.rooms {
		for client := range room {
			client.closed = true
			close(client.send)
			clients = append(clients, client)
			h.metrics.SessionClosed()
		}
		delete(h.rooms, name)
		h.metrics.RoomClosed()
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn().Err(err).Str("conn", client.id).Msg("error closing peer connection")
		}
	}

	h.log.Info().Int("closed", len(clients)).Msg("peer connections closed")
}

// RoomSize returns the number of peers connected to the named document.
func (h *Hub) RoomSize(name string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[name])
}

// RoomCount returns the number of documents with at least one peer.
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms)
}

// Shutdown stops the run loop, closes all peers and waits for their pumps to
// finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some pumps may still be running")
		return context.DeadlineExceeded
	}
}
