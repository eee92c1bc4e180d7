// Package cluster synchronizes broadcasts across server processes through a
// shared Redis pub/sub topic.
package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/falehjamal/framework-websocket-server/internal/errors"
	"github.com/falehjamal/framework-websocket-server/internal/metrics"
	"github.com/falehjamal/framework-websocket-server/internal/relay"
)

const publishTimeout = 2 * time.Second

// State is the synchronizer lifecycle state. Publish and replay are active
// only in StateReady; envelopes seen in any other state are dropped, never
// queued, because cross-node delivery is best-effort with bounded memory.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Replayer performs the local multicast for an envelope received from a peer.
type Replayer interface {
	Replay(ctx context.Context, env relay.Envelope) error
}

// Synchronizer republishes local broadcasts onto the shared topic and replays
// peer broadcasts against the local transport. One instance per process.
type Synchronizer struct {
	rdb      *goredis.Client
	topic    string
	nodeID   string
	replayer Replayer
	clock    clockwork.Clock
	metrics  *metrics.ClusterMetrics

	state  atomic.Int32
	sub    *goredis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynchronizer creates a synchronizer in the uninitialized state. m may be
// nil in tests.
func NewSynchronizer(rdb *goredis.Client, topic, nodeID string, replayer Replayer, clock clockwork.Clock, m *metrics.ClusterMetrics) *Synchronizer {
	return &Synchronizer{
		rdb:      rdb,
		topic:    topic,
		nodeID:   nodeID,
		replayer: replayer,
		clock:    clock,
		metrics:  m,
	}
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

// Initialize connects to the shared channel and subscribes to the topic.
// An unreachable channel at startup is returned as ChannelUnavailable; the
// caller treats it as fatal because a multi-instance deployment has no
// meaningful degraded mode without cross-node delivery.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateConnecting)) {
		return errors.InternalError("synchronizer already initialized", nil).
			WithContext("state", s.State().String())
	}

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.ChannelUnavailableError("cross-node channel unreachable", err).
			WithContext("topic", s.topic)
	}

	sub := s.rdb.Subscribe(context.Background(), s.topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.ChannelUnavailableError("failed to subscribe to topic", err).
			WithContext("topic", s.topic)
	}
	s.sub = sub

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.receiveLoop(runCtx)

	s.state.Store(int32(StateReady))
	slog.Info("Cross-node synchronizer ready", "topic", s.topic, "node_id", s.nodeID)
	return nil
}

// Publish hands an envelope to the shared topic, fire-and-forget: the caller's
// broadcast return value never waits on channel I/O, and publish failures are
// logged, not surfaced.
func (s *Synchronizer) Publish(env relay.Envelope) {
	if s.State() != StateReady {
		slog.Warn("Dropping envelope, synchronizer not ready",
			"state", s.State().String(),
			"target_kind", string(env.TargetKind),
			"event", env.EventName,
		)
		s.countDropped("not_ready")
		return
	}

	env.OriginNodeID = s.nodeID
	env.Ts = s.clock.Now().UnixMilli()

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "event", env.EventName, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.rdb.Publish(ctx, s.topic, data).Err(); err != nil {
			slog.Warn("Failed to publish envelope, peers will miss this broadcast",
				"topic", s.topic,
				"target_kind", string(env.TargetKind),
				"target", env.Target,
				"event", env.EventName,
				"error", err,
			)
			if s.metrics != nil {
				s.metrics.PublishFailures.Inc()
			}
			return
		}
		if s.metrics != nil {
			s.metrics.EnvelopesPublished.Inc()
		}
	}()
}

// Shutdown unsubscribes and stops the receive loop. Safe to call in any
// state, including after a failed Initialize.
func (s *Synchronizer) Shutdown() {
	prev := State(s.state.Swap(int32(StateShuttingDown)))
	if prev == StateClosed || prev == StateShuttingDown {
		s.state.Store(int32(StateClosed))
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.sub != nil {
		_ = s.sub.Close()
	}
	s.wg.Wait()

	s.state.Store(int32(StateClosed))
	slog.Info("Cross-node synchronizer closed", "node_id", s.nodeID)
}

func (s *Synchronizer) receiveLoop(ctx context.Context) {
	defer s.wg.Done()

	ch := s.sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handlePayload(ctx, []byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// handlePayload processes one raw message from the shared topic.
func (s *Synchronizer) handlePayload(ctx context.Context, payload []byte) {
	var env relay.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("Failed to unmarshal envelope from shared topic", "error", err)
		s.countDropped("malformed")
		return
	}

	if env.OriginNodeID == s.nodeID {
		// Our own envelope; the local multicast already happened before
		// publish, so replaying would deliver twice.
		return
	}

	if s.State() != StateReady {
		slog.Warn("Dropping peer envelope, synchronizer not ready",
			"state", s.State().String(),
			"origin_node", env.OriginNodeID,
			"event", env.EventName,
		)
		s.countDropped("not_ready")
		return
	}

	if err := s.replayer.Replay(ctx, env); err != nil {
		slog.Error("Failed to replay peer broadcast",
			"origin_node", env.OriginNodeID,
			"target_kind", string(env.TargetKind),
			"target", env.Target,
			"event", env.EventName,
			"error", err,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.EnvelopesReplayed.Inc()
	}
	slog.Debug("Replayed peer broadcast",
		"origin_node", env.OriginNodeID,
		"target_kind", string(env.TargetKind),
		"event", env.EventName,
	)
}

func (s *Synchronizer) countDropped(reason string) {
	if s.metrics != nil {
		s.metrics.EnvelopesDropped.WithLabelValues(reason).Inc()
	}
}
