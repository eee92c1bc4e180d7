package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/falehjamal/framework-websocket-server/internal/errors"
	"github.com/falehjamal/framework-websocket-server/internal/metrics"
)

// GroupDelivery is the accounting result of a single-target broadcast.
type GroupDelivery struct {
	Room      string `json:"roomName"`
	Event     string `json:"event"`
	Delivered int    `json:"delivered"`
}

// RoomResult is the per-room breakdown entry of an all-groups broadcast.
type RoomResult struct {
	Room        string `json:"roomName"`
	ClientCount int    `json:"clientCount"`
	Broadcasted bool   `json:"broadcasted"`
}

// AllGroupsDelivery aggregates an all-groups broadcast. Field names follow
// the wire format consumed by admin clients.
type AllGroupsDelivery struct {
	TotalDelivered int          `json:"totalClientsReached"`
	GroupCount     int          `json:"displayRoomsCount"`
	PerGroup       []RoomResult `json:"broadcastResults"`
}

// Router resolves broadcast targets against the transport's live room state,
// performs the multicast, and hands every outgoing broadcast to the
// cross-node publisher. Zero recipients is a defined non-error outcome: a
// producer broadcasting to a not-yet-opened display is an expected transient
// state.
type Router struct {
	transport Multicaster
	publisher Publisher
	metrics   *metrics.BroadcastMetrics
}

// NewRouter creates a router. publisher may be nil for single-node
// deployments; metrics may be nil in tests.
func NewRouter(transport Multicaster, publisher Publisher, m *metrics.BroadcastMetrics) *Router {
	return &Router{transport: transport, publisher: publisher, metrics: m}
}

// SetPublisher attaches the cross-node publisher. The router and the
// synchronizer reference each other, so one side is wired after
// construction; call this before serving traffic.
func (r *Router) SetPublisher(p Publisher) {
	r.publisher = p
}

// BroadcastToGroup multicasts event/payload to one group's room and returns
// delivery accounting. The envelope is replicated to peer nodes even when no
// local member exists, since peers may hold members of the same group.
func (r *Router) BroadcastToGroup(ctx context.Context, groupID GroupID, event string, payload json.RawMessage) (GroupDelivery, error) {
	if err := validateBroadcast(event); err != nil {
		return GroupDelivery{}, err
	}
	if groupID == "" {
		return GroupDelivery{}, errors.ValidationError("group id is required").WithContext("event", event)
	}

	result, err := r.deliverToRoom(ctx, RoomName(groupID), event, payload)
	if err != nil {
		return result, err
	}
	r.countBroadcast(string(TargetGroup), result.Delivered)

	r.replicate(Envelope{
		TargetKind: TargetGroup,
		Target:     groupID.String(),
		EventName:  event,
		Payload:    payload,
	})
	return result, nil
}

// BroadcastToAllGroups multicasts to every group room with nonzero
// membership. The per-room breakdown is sorted so accounting is reproducible
// within one call.
func (r *Router) BroadcastToAllGroups(ctx context.Context, event string, payload json.RawMessage) (AllGroupsDelivery, error) {
	if err := validateBroadcast(event); err != nil {
		return AllGroupsDelivery{}, err
	}

	result, err := r.deliverToAllGroups(ctx, event, payload)
	if err != nil {
		return result, err
	}
	r.countBroadcast(string(TargetAll), result.TotalDelivered)

	r.replicate(Envelope{
		TargetKind: TargetAll,
		EventName:  event,
		Payload:    payload,
	})
	return result, nil
}

// BroadcastToNamedRoom multicasts to a fixed non-group room, e.g. the
// prescription channel. Same zero-member semantics as group broadcasts.
func (r *Router) BroadcastToNamedRoom(ctx context.Context, room, event string, payload json.RawMessage) (GroupDelivery, error) {
	if err := validateBroadcast(event); err != nil {
		return GroupDelivery{}, err
	}
	if room == "" {
		return GroupDelivery{}, errors.ValidationError("room name is required").WithContext("event", event)
	}

	result, err := r.deliverToRoom(ctx, room, event, payload)
	if err != nil {
		return result, err
	}
	r.countBroadcast(string(TargetNamedRoom), result.Delivered)

	r.replicate(Envelope{
		TargetKind: TargetNamedRoom,
		Target:     room,
		EventName:  event,
		Payload:    payload,
	})
	return result, nil
}

// Replay performs the local multicast for an envelope received from a peer
// node. It never republishes: the origin node already put the envelope on the
// shared topic.
func (r *Router) Replay(ctx context.Context, env Envelope) error {
	switch env.TargetKind {
	case TargetGroup:
		_, err := r.deliverToRoom(ctx, RoomName(GroupID(env.Target)), env.EventName, env.Payload)
		return err
	case TargetAll:
		_, err := r.deliverToAllGroups(ctx, env.EventName, env.Payload)
		return err
	case TargetNamedRoom:
		_, err := r.deliverToRoom(ctx, env.Target, env.EventName, env.Payload)
		return err
	default:
		return errors.ValidationError("unknown envelope target kind").
			WithContext("target_kind", string(env.TargetKind))
	}
}

func (r *Router) deliverToRoom(ctx context.Context, room, event string, payload json.RawMessage) (GroupDelivery, error) {
	result := GroupDelivery{Room: room, Event: event}

	count := r.transport.RoomMemberCount(room)
	if count == 0 {
		slog.WarnContext(ctx, "No clients in room", "room", room, "event", event)
		if r.metrics != nil {
			r.metrics.EmptyBroadcasts.Inc()
		}
		return result, nil
	}

	delivered, err := r.transport.Multicast(room, event, payload)
	if err != nil {
		return result, errors.TransportError("multicast failed", err).
			WithContext("room", room).
			WithContext("event", event)
	}

	result.Delivered = delivered
	slog.InfoContext(ctx, "Broadcasted to room", "room", room, "event", event, "client_count", delivered)
	return result, nil
}

func (r *Router) deliverToAllGroups(ctx context.Context, event string, payload json.RawMessage) (AllGroupsDelivery, error) {
	rooms := groupRooms(r.transport.ListRoomNames())

	result := AllGroupsDelivery{PerGroup: make([]RoomResult, 0, len(rooms))}
	for _, room := range rooms {
		count := r.transport.RoomMemberCount(room)
		if count == 0 {
			result.PerGroup = append(result.PerGroup, RoomResult{Room: room})
			continue
		}

		delivered, err := r.transport.Multicast(room, event, payload)
		if err != nil {
			return result, errors.TransportError("multicast failed", err).
				WithContext("room", room).
				WithContext("event", event)
		}

		result.TotalDelivered += delivered
		result.PerGroup = append(result.PerGroup, RoomResult{Room: room, ClientCount: delivered, Broadcasted: true})
	}
	result.GroupCount = len(rooms)

	if result.TotalDelivered == 0 {
		slog.WarnContext(ctx, "No active display clients found for broadcast", "event", event)
		if r.metrics != nil {
			r.metrics.EmptyBroadcasts.Inc()
		}
	} else {
		slog.InfoContext(ctx, "Broadcasted to all display rooms",
			"event", event,
			"total_clients_reached", result.TotalDelivered,
			"display_rooms", len(rooms),
		)
	}
	return result, nil
}

func (r *Router) replicate(env Envelope) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(env)
}

func (r *Router) countBroadcast(kind string, delivered int) {
	if r.metrics == nil {
		return
	}
	r.metrics.BroadcastsTotal.WithLabelValues(kind).Inc()
	r.metrics.ClientsReached.Add(float64(delivered))
}

func validateBroadcast(event string) error {
	if event == "" {
		return errors.ValidationError("event name is required")
	}
	return nil
}

// groupRooms filters the room listing down to group rooms and sorts them so
// one call's accounting is stable.
func groupRooms(rooms []string) []string {
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := ParseGroupRoom(room); ok {
			out = append(out, room)
		}
	}
	sort.Strings(out)
	return out
}
