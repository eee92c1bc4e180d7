package relay

import (
	"encoding/json"
	"sync"
)

// fakeTransport implements RoomMembership and Multicaster in memory. It
// records multicast calls so tests can assert that empty rooms trigger no
// sends.
type fakeTransport struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}

	multicasts []fakeMulticast
	failWith   error
}

type fakeMulticast struct {
	room    string
	event   string
	payload json.RawMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rooms: make(map[string]map[string]struct{})}
}

func (f *fakeTransport) JoinRoom(connID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	members, ok := f.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		f.rooms[room] = members
	}
	members[connID] = struct{}{}
	return nil
}

func (f *fakeTransport) LeaveRoom(connID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if members, ok := f.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(f.rooms, room)
		}
	}
	return nil
}

func (f *fakeTransport) Multicast(room, event string, payload json.RawMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.multicasts = append(f.multicasts, fakeMulticast{room: room, event: event, payload: payload})
	return len(f.rooms[room]), nil
}

func (f *fakeTransport) RoomMemberCount(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms[room])
}

func (f *fakeTransport) ListRoomNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.rooms))
	for room := range f.rooms {
		names = append(names, room)
	}
	return names
}

func (f *fakeTransport) memberOf(connID, room string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[room][connID]
	return ok
}

// capturingPublisher records envelopes handed to it.
type capturingPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (p *capturingPublisher) Publish(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
}

func (p *capturingPublisher) published() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.envelopes...)
}
