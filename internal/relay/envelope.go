package relay

import "encoding/json"

// TargetKind classifies the delivery target of a broadcast envelope.
type TargetKind string

const (
	// TargetGroup addresses a single group room.
	TargetGroup TargetKind = "group"
	// TargetAll addresses every group room.
	TargetAll TargetKind = "all"
	// TargetNamedRoom addresses a fixed non-group room, e.g. "prescription".
	TargetNamedRoom TargetKind = "namedRoom"
)

// Envelope is the serialized broadcast event shared across nodes for replay.
// OriginNodeID lets a node skip envelopes it published itself: the original
// local multicast already happened before publish, so reprocessing would
// deliver twice.
type Envelope struct {
	TargetKind   TargetKind      `json:"targetKind"`
	Target       string          `json:"target"`
	EventName    string          `json:"eventName"`
	Payload      json.RawMessage `json:"payload"`
	OriginNodeID string          `json:"originNodeId"`
	Ts           int64           `json:"ts"`
}
