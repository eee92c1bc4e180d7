package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/falehjamal/framework-websocket-server/internal/errors"
)

// connRecord is the registry's view of one live connection.
type connRecord struct {
	id          string
	remoteAddr  string
	connectedAt time.Time
	primary     GroupID // empty when not in any group room
	hasPrimary  bool
	auxRooms    map[string]struct{}
}

// ConnectionInfo is the diagnostic snapshot of a connection.
type ConnectionInfo struct {
	ID           string    `json:"socketId"`
	RemoteAddr   string    `json:"remoteAddress"`
	ConnectedAt  time.Time `json:"connectedAt"`
	PrimaryGroup string    `json:"groupId,omitempty"`
	Rooms        []string  `json:"rooms"`
}

// GroupStatus describes one active group for introspection.
type GroupStatus struct {
	GroupID     GroupID `json:"groupId"`
	Label       string  `json:"permalink"`
	MemberCount int     `json:"memberCount"`
}

// Registry owns the connection-to-group mapping and group labels. All
// mutations for a given connection are applied under one lock, so a join and
// a detach for the same id never interleave.
//
// The registry drives the transport's room membership but never reads its
// counts back: delivery accounting always comes from the transport directly.
type Registry struct {
	mu    sync.Mutex
	clock clockwork.Clock
	rooms RoomMembership

	conns   map[string]*connRecord
	members map[GroupID]map[string]struct{}
	labels  map[GroupID]string
}

// NewRegistry creates an empty registry backed by the given room membership.
func NewRegistry(rooms RoomMembership, clock clockwork.Clock) *Registry {
	return &Registry{
		clock:   clock,
		rooms:   rooms,
		conns:   make(map[string]*connRecord),
		members: make(map[GroupID]map[string]struct{}),
		labels:  make(map[GroupID]string),
	}
}

// Attach registers a new connection. A duplicate id is never fatal: the prior
// record is replaced and the condition is logged, since it indicates a
// transport-level identity reuse rather than a caller bug worth failing on.
func (r *Registry) Attach(connID, remoteAddr string) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.conns[connID]; exists {
		replaced = true
		r.dropMembershipLocked(old)
		slog.Warn("Connection id already registered, replacing record",
			"connection_id", connID,
			"previous_remote_addr", old.remoteAddr,
			"remote_addr", remoteAddr,
		)
	}

	r.conns[connID] = &connRecord{
		id:          connID,
		remoteAddr:  remoteAddr,
		connectedAt: r.clock.Now(),
		auxRooms:    make(map[string]struct{}),
	}
	return replaced
}

// JoinGroup moves the connection into the group's room, evicting it from any
// other group room first: a connection occupies at most one group at a time.
// A non-empty label overwrites the group's stored label (last writer wins).
// Rejoining the current group is idempotent.
func (r *Registry) JoinGroup(connID string, groupID GroupID, label string) error {
	if groupID == "" {
		return errors.ValidationError("group id is required").WithContext("connection_id", connID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return errors.UnknownConnectionError(connID)
	}

	if conn.hasPrimary && conn.primary != groupID {
		prev := conn.primary
		if err := r.rooms.LeaveRoom(connID, RoomName(prev)); err != nil {
			return errors.TransportError("failed to leave previous group room", err).
				WithContext("connection_id", connID).
				WithContext("group_id", prev.String())
		}
		r.removeMemberLocked(prev, connID)
		conn.hasPrimary = false
		slog.Info("Connection evicted from previous group", "connection_id", connID, "group_id", prev.String())
	}

	if !conn.hasPrimary || conn.primary != groupID {
		if err := r.rooms.JoinRoom(connID, RoomName(groupID)); err != nil {
			return errors.TransportError("failed to join group room", err).
				WithContext("connection_id", connID).
				WithContext("group_id", groupID.String())
		}
		conn.primary = groupID
		conn.hasPrimary = true
		r.addMemberLocked(groupID, connID)
	}

	if label != "" {
		r.labels[groupID] = label
	} else {
		slog.Warn("No label provided for group", "group_id", groupID.String(), "connection_id", connID)
	}

	return nil
}

// LeaveGroup removes the membership if present. Leaving a group the
// connection is not a member of is a no-op, not an error.
func (r *Registry) LeaveGroup(connID string, groupID GroupID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists || !conn.hasPrimary || conn.primary != groupID {
		return nil
	}

	if err := r.rooms.LeaveRoom(connID, RoomName(groupID)); err != nil {
		return errors.TransportError("failed to leave group room", err).
			WithContext("connection_id", connID).
			WithContext("group_id", groupID.String())
	}

	r.removeMemberLocked(groupID, connID)
	conn.hasPrimary = false
	conn.primary = ""
	return nil
}

// ClearLabelIfEmpty drops the group's label when no member remains. Callers
// decide when to apply this, based on the configured label policy.
func (r *Registry) ClearLabelIfEmpty(groupID GroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members[groupID]) == 0 {
		delete(r.labels, groupID)
	}
}

// JoinRoom puts the connection into an auxiliary room. Auxiliary rooms
// (prescription, admin) are not mutually exclusive with group membership.
func (r *Registry) JoinRoom(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return errors.UnknownConnectionError(connID)
	}

	if _, member := conn.auxRooms[room]; member {
		return nil
	}
	if err := r.rooms.JoinRoom(connID, room); err != nil {
		return errors.TransportError("failed to join room", err).
			WithContext("connection_id", connID).
			WithContext("room", room)
	}
	conn.auxRooms[room] = struct{}{}
	return nil
}

// LeaveRoom removes the connection from an auxiliary room; no-op when not a
// member.
func (r *Registry) LeaveRoom(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return nil
	}
	if _, member := conn.auxRooms[room]; !member {
		return nil
	}
	if err := r.rooms.LeaveRoom(connID, room); err != nil {
		return errors.TransportError("failed to leave room", err).
			WithContext("connection_id", connID).
			WithContext("room", room)
	}
	delete(conn.auxRooms, room)
	return nil
}

// Detach removes the connection from every group and auxiliary room and
// deletes its record. Idempotent: detaching an unknown id is a no-op. The
// returned slice lists the groups the connection vacated so the caller can
// apply the label policy.
func (r *Registry) Detach(connID string) (vacated []GroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return nil
	}

	if conn.hasPrimary {
		if err := r.rooms.LeaveRoom(connID, RoomName(conn.primary)); err != nil {
			slog.Error("Failed to leave group room during detach",
				"connection_id", connID, "group_id", conn.primary.String(), "error", err)
		}
		r.removeMemberLocked(conn.primary, connID)
		vacated = append(vacated, conn.primary)
	}

	for room := range conn.auxRooms {
		if err := r.rooms.LeaveRoom(connID, room); err != nil {
			slog.Error("Failed to leave room during detach",
				"connection_id", connID, "room", room, "error", err)
		}
	}

	delete(r.conns, connID)
	return vacated
}

// ListActiveGroups returns every group with at least one member, ordered by
// group id ascending. This is the cached introspection view; delivery never
// reads it.
func (r *Registry) ListActiveGroups() []GroupStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]GroupStatus, 0, len(r.members))
	for groupID, members := range r.members {
		if len(members) == 0 {
			continue
		}
		out = append(out, GroupStatus{
			GroupID:     groupID,
			Label:       r.labels[groupID],
			MemberCount: len(members),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return lessGroupID(out[i].GroupID, out[j].GroupID)
	})
	return out
}

// Label returns the stored label for a group, if any.
func (r *Registry) Label(groupID GroupID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label, ok := r.labels[groupID]
	return label, ok
}

// ListConnections returns the full list of live connection records.
func (r *Registry) ListConnections() []ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		info := ConnectionInfo{
			ID:          conn.id,
			RemoteAddr:  conn.remoteAddr,
			ConnectedAt: conn.connectedAt,
			Rooms:       make([]string, 0, len(conn.auxRooms)+1),
		}
		if conn.hasPrimary {
			info.PrimaryGroup = conn.primary.String()
			info.Rooms = append(info.Rooms, RoomName(conn.primary))
		}
		for room := range conn.auxRooms {
			info.Rooms = append(info.Rooms, room)
		}
		sort.Strings(info.Rooms)
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) addMemberLocked(groupID GroupID, connID string) {
	members, exists := r.members[groupID]
	if !exists {
		members = make(map[string]struct{})
		r.members[groupID] = members
	}
	members[connID] = struct{}{}
}

func (r *Registry) removeMemberLocked(groupID GroupID, connID string) {
	members, exists := r.members[groupID]
	if !exists {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.members, groupID)
	}
}

// dropMembershipLocked clears a replaced record's membership bookkeeping
// without touching the transport: the transport's own state for the id is
// superseded by the new connection.
func (r *Registry) dropMembershipLocked(conn *connRecord) {
	if conn.hasPrimary {
		r.removeMemberLocked(conn.primary, conn.id)
	}
}
