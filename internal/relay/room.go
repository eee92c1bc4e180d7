package relay

import (
	"strconv"
	"strings"
)

// GroupRoomPrefix marks transport rooms that belong to display groups. Every
// component that enumerates display rooms filters on this prefix.
const GroupRoomPrefix = "group_"

// GroupID identifies a display group. IDs are opaque strings; numeric ids are
// common but not required.
type GroupID string

func (g GroupID) String() string { return string(g) }

// RoomName returns the transport room key for a group.
func RoomName(id GroupID) string {
	return GroupRoomPrefix + string(id)
}

// ParseGroupRoom extracts the group id from a room key, reporting whether the
// room is a group room at all.
func ParseGroupRoom(room string) (GroupID, bool) {
	if !strings.HasPrefix(room, GroupRoomPrefix) {
		return "", false
	}
	return GroupID(strings.TrimPrefix(room, GroupRoomPrefix)), true
}

// lessGroupID orders group ids ascending, comparing numerically when both ids
// are integers so that "7" sorts before "10".
func lessGroupID(a, b GroupID) bool {
	na, errA := strconv.ParseInt(string(a), 10, 64)
	nb, errB := strconv.ParseInt(string(b), 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
