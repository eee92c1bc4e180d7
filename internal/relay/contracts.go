package relay

import "encoding/json"

// RoomMembership is the slice of the transport the Registry drives: putting
// connections into rooms and taking them out again.
type RoomMembership interface {
	JoinRoom(connID, room string) error
	LeaveRoom(connID, room string) error
}

// Multicaster is the slice of the transport the Router reads and writes.
// Member counts and room listings reflect the transport's live state, not the
// Registry's cached view, so delivery accounting stays accurate under
// concurrent joins and leaves.
type Multicaster interface {
	Multicast(room, event string, payload json.RawMessage) (int, error)
	RoomMemberCount(room string) int
	ListRoomNames() []string
}

// Publisher hands a broadcast envelope to the cross-node synchronizer.
// Implementations must not block the caller; cross-node delivery is
// best-effort.
type Publisher interface {
	Publish(env Envelope)
}
