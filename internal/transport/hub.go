package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/falehjamal/framework-websocket-server/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// Message is the wire frame sent to clients.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeMessage marshals an event frame. A nil payload produces a frame with
// the event name only.
func EncodeMessage(event string, payload json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode message %q: %w", event, err)
	}
	return data, nil
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	connID     string
	conn       *websocket.Conn
	remoteAddr string
	ackCh      chan struct{}
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	connID  string
	replyCh chan bool
}

func (cmdUnregister) hubCmd() {}

type cmdJoinRoom struct {
	connID string
	room   string
	errCh  chan error
}

func (cmdJoinRoom) hubCmd() {}

type cmdLeaveRoom struct {
	connID string
	room   string
	errCh  chan error
}

func (cmdLeaveRoom) hubCmd() {}

type cmdSend struct {
	connID string
	data   []byte
	errCh  chan error
}

func (cmdSend) hubCmd() {}

type cmdMulticast struct {
	room    string
	data    []byte
	replyCh chan int
}

func (cmdMulticast) hubCmd() {}

type cmdRoomCount struct {
	room    string
	replyCh chan int
}

func (cmdRoomCount) hubCmd() {}

type cmdListRooms struct {
	replyCh chan []string
}

func (cmdListRooms) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// --- Hub ---

type client struct {
	id         string
	conn       *websocket.Conn
	writer     *clientWriter
	remoteAddr string
	rooms      map[string]struct{}
}

// Hub is the transport adapter: it assigns connection identity and provides
// per-connection send plus room-based multicast. A single goroutine owns all
// state.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	clients map[string]*client
	rooms   map[string]map[string]*client
	done    chan struct{}
	metrics *metrics.TransportMetrics

	onConnect    func(connID, remoteAddr string)
	onDisconnect func(connID string)
}

// NewHub creates a hub and starts its command loop. m may be nil in tests.
func NewHub(clock clockwork.Clock, m *metrics.TransportMetrics) *Hub {
	h := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		clock:   clock,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		done:    make(chan struct{}),
		metrics: m,
	}
	go h.run()
	return h
}

// OnConnect sets the callback invoked after a connection registers. Must be
// set before the hub starts accepting connections.
func (h *Hub) OnConnect(cb func(connID, remoteAddr string)) {
	h.onConnect = cb
}

// OnDisconnect sets the callback invoked when a connection unregisters,
// before Unregister returns. Must be set before the hub starts accepting
// connections.
func (h *Hub) OnDisconnect(cb func(connID string)) {
	h.onDisconnect = cb
}

// submit delivers a command to the actor unless the hub has stopped.
func (h *Hub) submit(cmd hubCmd) bool {
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// Register assigns an id to the connection, starts its writer, and invokes
// the connect callback. The returned id is the connection's identity for all
// other hub operations. Returns "" when the hub has already stopped.
func (h *Hub) Register(conn *websocket.Conn, remoteAddr string) string {
	connID := uuid.NewString()
	ackCh := make(chan struct{}, 1)
	if !h.submit(cmdRegister{connID: connID, conn: conn, remoteAddr: remoteAddr, ackCh: ackCh}) {
		return ""
	}
	select {
	case <-ackCh:
	case <-h.done:
		return ""
	}

	if h.onConnect != nil {
		h.onConnect(connID, remoteAddr)
	}
	return connID
}

// Unregister removes the connection from every room and stops its writer.
// The disconnect callback runs exactly once per connection, synchronously,
// before Unregister returns, so registry state is clean before the caller
// releases the connection. Unregistering an unknown id is a no-op.
func (h *Hub) Unregister(connID string) {
	replyCh := make(chan bool, 1)
	if !h.submit(cmdUnregister{connID: connID, replyCh: replyCh}) {
		return
	}

	var removed bool
	select {
	case removed = <-replyCh:
	case <-h.done:
		return
	}
	if removed && h.onDisconnect != nil {
		h.onDisconnect(connID)
	}
}

// JoinRoom adds the connection to a room. Unknown connection ids error.
func (h *Hub) JoinRoom(connID, room string) error {
	errCh := make(chan error, 1)
	if !h.submit(cmdJoinRoom{connID: connID, room: room, errCh: errCh}) {
		return fmt.Errorf("join room %q: hub stopped", room)
	}
	return h.awaitErr(errCh, "join room")
}

// LeaveRoom removes the connection from a room. Unknown ids and non-members
// are no-ops.
func (h *Hub) LeaveRoom(connID, room string) error {
	errCh := make(chan error, 1)
	if !h.submit(cmdLeaveRoom{connID: connID, room: room, errCh: errCh}) {
		return nil
	}
	return h.awaitErr(errCh, "leave room")
}

// Send queues an event frame to a single connection.
func (h *Hub) Send(connID, event string, payload json.RawMessage) error {
	data, err := EncodeMessage(event, payload)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	if !h.submit(cmdSend{connID: connID, data: data, errCh: errCh}) {
		return fmt.Errorf("send: hub stopped")
	}
	return h.awaitErr(errCh, "send")
}

// Multicast queues an event frame to every member of a room and returns the
// number of members addressed. An empty or unknown room delivers to zero
// members without error.
func (h *Hub) Multicast(room, event string, payload json.RawMessage) (int, error) {
	data, err := EncodeMessage(event, payload)
	if err != nil {
		return 0, err
	}

	replyCh := make(chan int, 1)
	if !h.submit(cmdMulticast{room: room, data: data, replyCh: replyCh}) {
		return 0, fmt.Errorf("multicast: hub stopped")
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case count := <-replyCh:
		return count, nil
	case <-timer.Chan():
		return 0, fmt.Errorf("multicast command timed out after %v", commandTimeout)
	}
}

// RoomMemberCount returns the live member count of a room. Returns 0 when
// the hub is unresponsive; counting is best-effort introspection.
func (h *Hub) RoomMemberCount(room string) int {
	replyCh := make(chan int, 1)
	if !h.submit(cmdRoomCount{room: room, replyCh: replyCh}) {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("RoomMemberCount timed out", "room", room, "timeout", commandTimeout)
		return 0
	}
}

// ListRoomNames returns the names of all rooms with at least one member.
func (h *Hub) ListRoomNames() []string {
	replyCh := make(chan []string, 1)
	if !h.submit(cmdListRooms{replyCh: replyCh}) {
		return nil
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case rooms := <-replyCh:
		return rooms
	case <-timer.Chan():
		slog.Warn("ListRoomNames timed out", "timeout", commandTimeout)
		return nil
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	replyCh := make(chan int, 1)
	if !h.submit(cmdRoomCount{room: "", replyCh: replyCh}) {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		return 0
	}
}

// Stop shuts the hub down, closing all client connections with a close
// frame. Blocks until the command loop exits or the stop timeout passes.
func (h *Hub) Stop() {
	if !h.submit(cmdStop{}) {
		return
	}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		slog.Info("Transport hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Transport hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (h *Hub) awaitErr(errCh chan error, op string) error {
	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("%s command timed out after %v", op, commandTimeout)
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			c.replyCh <- h.handleUnregister(c.connID)
		case cmdJoinRoom:
			c.errCh <- h.handleJoinRoom(c.connID, c.room)
		case cmdLeaveRoom:
			c.errCh <- h.handleLeaveRoom(c.connID, c.room)
		case cmdSend:
			c.errCh <- h.handleSend(c)
		case cmdMulticast:
			c.replyCh <- h.handleMulticast(c)
		case cmdRoomCount:
			if c.room == "" {
				c.replyCh <- len(h.clients)
			} else {
				c.replyCh <- len(h.rooms[c.room])
			}
		case cmdListRooms:
			names := make([]string, 0, len(h.rooms))
			for room := range h.rooms {
				names = append(names, room)
			}
			c.replyCh <- names
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	h.clients[c.connID] = &client{
		id:         c.connID,
		conn:       c.conn,
		writer:     newClientWriter(c.conn, h.clock),
		remoteAddr: c.remoteAddr,
		rooms:      make(map[string]struct{}),
	}

	if h.metrics != nil {
		h.metrics.ActiveConnections.Set(float64(len(h.clients)))
	}
	slog.Debug("Client registered", "connection_id", c.connID, "remote_addr", c.remoteAddr)
	c.ackCh <- struct{}{}
}

func (h *Hub) handleUnregister(connID string) bool {
	cl, exists := h.clients[connID]
	if !exists {
		return false
	}

	for room := range cl.rooms {
		h.removeFromRoom(cl, room)
	}
	cl.writer.stop()
	delete(h.clients, connID)

	if h.metrics != nil {
		h.metrics.ActiveConnections.Set(float64(len(h.clients)))
	}
	slog.Debug("Client unregistered", "connection_id", connID)
	return true
}

func (h *Hub) handleJoinRoom(connID, room string) error {
	cl, exists := h.clients[connID]
	if !exists {
		return fmt.Errorf("join room %q: unknown connection %s", room, connID)
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*client)
		h.rooms[room] = members
		if h.metrics != nil {
			h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
		}
	}
	members[connID] = cl
	cl.rooms[room] = struct{}{}
	return nil
}

func (h *Hub) handleLeaveRoom(connID, room string) error {
	cl, exists := h.clients[connID]
	if !exists {
		return nil
	}
	delete(cl.rooms, room)
	h.removeFromRoom(cl, room)
	return nil
}

func (h *Hub) handleSend(c cmdSend) error {
	cl, exists := h.clients[c.connID]
	if !exists {
		return fmt.Errorf("send: unknown connection %s", c.connID)
	}

	select {
	case cl.writer.sendChannel <- c.data:
		if h.metrics != nil {
			h.metrics.MessagesSent.Inc()
		}
		return nil
	default:
		h.evictSlowClient(cl)
		return fmt.Errorf("send: client %s send buffer full", c.connID)
	}
}

func (h *Hub) handleMulticast(c cmdMulticast) int {
	members := h.rooms[c.room]
	count := len(members)
	if count == 0 {
		return 0
	}

	var slow []*client
	for _, cl := range members {
		select {
		case cl.writer.sendChannel <- c.data:
			if h.metrics != nil {
				h.metrics.MessagesSent.Inc()
			}
		default:
			slow = append(slow, cl)
		}
	}

	for _, cl := range slow {
		slog.Warn("Disconnecting slow client", "connection_id", cl.id, "room", c.room)
		h.evictSlowClient(cl)
	}
	return count
}

// evictSlowClient removes a client whose send buffer is full. The disconnect
// callback runs on its own goroutine because it may issue hub commands.
func (h *Hub) evictSlowClient(cl *client) {
	for room := range cl.rooms {
		h.removeFromRoom(cl, room)
	}
	cl.writer.stop()
	delete(h.clients, cl.id)

	if h.metrics != nil {
		h.metrics.SlowClientsEvicted.Inc()
		h.metrics.ActiveConnections.Set(float64(len(h.clients)))
	}

	if h.onDisconnect != nil {
		connID := cl.id
		go h.onDisconnect(connID)
	}
}

func (h *Hub) removeFromRoom(cl *client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, cl.id)
	if len(members) == 0 {
		delete(h.rooms, room)
		if h.metrics != nil {
			h.metrics.ActiveRooms.Set(float64(len(h.rooms)))
		}
	}
}

func (h *Hub) handleStop() {
	total := len(h.clients)
	slog.Info("Transport hub shutting down", "connections", total, "rooms", len(h.rooms))

	for connID, cl := range h.clients {
		cl.writer.stopGraceful("Server shutting down")
		delete(h.clients, connID)
	}
	for room := range h.rooms {
		delete(h.rooms, room)
	}

	if h.metrics != nil {
		h.metrics.ActiveConnections.Set(0)
		h.metrics.ActiveRooms.Set(0)
	}
	slog.Info("Transport hub shutdown complete", "disconnected_clients", total)
}
