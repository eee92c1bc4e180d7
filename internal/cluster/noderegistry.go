package cluster

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	nodesKey   = "relay:nodes"
	staleAfter = 60 * time.Second
)

// NodeRegistry tracks active relay nodes in a shared hash.
// Each node sends periodic heartbeats carrying its local connection count.
// Nodes without a heartbeat for >60s are considered inactive.
type NodeRegistry struct {
	rdb       *goredis.Client
	nodeID    string
	heartbeat time.Duration
	clock     clockwork.Clock
	connCount func() int
}

// NodeInfo holds metadata about a relay node.
type NodeInfo struct {
	NodeID      string `json:"node_id"`
	Timestamp   int64  `json:"timestamp"`
	Connections int    `json:"connections"`
}

// NewNodeRegistry creates a node registry. connCount supplies the node's
// current connection count at heartbeat time and may be nil.
func NewNodeRegistry(rdb *goredis.Client, nodeID string, heartbeat time.Duration, clock clockwork.Clock, connCount func() int) *NodeRegistry {
	return &NodeRegistry{
		rdb:       rdb,
		nodeID:    nodeID,
		heartbeat: heartbeat,
		clock:     clock,
		connCount: connCount,
	}
}

// Start begins the heartbeat loop.
// Registers immediately, then re-registers on the ticker interval.
// Blocks until ctx is cancelled, then unregisters and returns.
func (r *NodeRegistry) Start(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

// register writes this node's heartbeat to the shared hash.
func (r *NodeRegistry) register(ctx context.Context) {
	connections := 0
	if r.connCount != nil {
		connections = r.connCount()
	}

	value := NodeInfo{
		NodeID:      r.nodeID,
		Timestamp:   r.clock.Now().Unix(),
		Connections: connections,
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	r.rdb.HSet(ctx, nodesKey, r.nodeID, data)
}

// unregister removes this node from the hash during graceful shutdown.
func (r *NodeRegistry) unregister() {
	r.rdb.HDel(context.Background(), nodesKey, r.nodeID)
}

// GetActiveNodes returns info for nodes with a heartbeat within the last
// 60 seconds, sorted by node ID.
func (r *NodeRegistry) GetActiveNodes(ctx context.Context) ([]NodeInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, nodesKey).Result()
	if err != nil {
		return nil, err
	}
	return filterActive(entries, r.clock.Now()), nil
}

// filterActive parses raw hash entries and keeps nodes that are still fresh.
func filterActive(entries map[string]string, now time.Time) []NodeInfo {
	infos := []NodeInfo{}
	cutoff := now.Unix() - int64(staleAfter/time.Second)

	for _, data := range entries {
		var info NodeInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if info.Timestamp > cutoff {
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].NodeID < infos[j].NodeID })
	return infos
}
