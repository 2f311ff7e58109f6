// Package cluster provides distributed coordination for multiple binder
// processes sharing one broadcast domain, using the alan UDP peer
// discovery library. It wraps alan to provide:
//   - A distributed lock around the event-ID allocator, so two processes never hand out the same 16-bit event ID.
//   - A distributed lock around the broadcast dedup ring, for the same reason.
//   - Propagation of a seen broadcast UUID to every peer, so a
//     broadcast that already passed through one process's dedup ring
//     is suppressed on the others instead of being redelivered.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rakunlabs/alan"
)

const (
	// lockEventAllocator guards event.Fabric.Create's ID draw across
	// processes sharing a broadcast domain.
	lockEventAllocator = "event-id-allocator"

	// lockDedupRing guards the broadcast dedup ring's read-check-record
	// sequence across processes.
	lockDedupRing = "broadcast-dedup-ring"

	// msgTypeBroadcastSeen identifies a dedup-ring propagation message:
	// "this uuid was just seen and recorded, don't redeliver it".
	msgTypeBroadcastSeen = "broadcast-seen"
)

// clusterMessage is the JSON envelope for messages sent between peers.
type clusterMessage struct {
	Type string `json:"type"`
	// UUID is the broadcast dedup id being propagated.
	UUID string `json:"uuid,omitempty"`
}

// Cluster wraps an alan instance with binder-specific distributed
// coordination: the event-ID allocator lock, the broadcast dedup ring
// lock, and dedup-ring UUID propagation.
type Cluster struct {
	alan *alan.Alan
}

// New creates a Cluster from the deployment's alan configuration.
// Returns nil, nil if cfg is nil (clustering disabled; single-process
// deployments never need this package).
func New(cfg *alan.Config) (*Cluster, error) {
	if cfg == nil {
		return nil, nil
	}

	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("create alan instance: %w", err)
	}

	return &Cluster{alan: a}, nil
}

// Start begins the alan peer discovery system in the background and
// installs the dedup-ring propagation handler. onBroadcastSeen is
// invoked whenever a peer reports a UUID it just recorded in its own
// dedup ring; the caller feeds it to its local event.Fabric.MarkSeen
// so the whole cluster shares one suppression window.
//
// Start blocks until the context is cancelled. It should be run in a
// goroutine.
func (c *Cluster) Start(ctx context.Context, onBroadcastSeen func(uuid string)) error {
	c.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("cluster peer joined", "addr", addr.String())
	})

	c.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("cluster peer left", "addr", addr.String())
	})

	handler := func(_ context.Context, msg alan.Message) {
		var cm clusterMessage
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			slog.Warn("cluster: invalid message", "from", msg.Addr, "error", err)
			return
		}

		switch cm.Type {
		case msgTypeBroadcastSeen:
			if cm.UUID == "" {
				return
			}
			if onBroadcastSeen != nil {
				onBroadcastSeen(cm.UUID)
			}
			if msg.IsRequest() {
				c.alan.Reply(msg, []byte("ok")) //nolint:errcheck
			}
		default:
			slog.Debug("cluster: unknown message type", "type", cm.Type, "from", msg.Addr)
		}
	}

	return c.alan.Start(ctx, handler)
}

// Stop gracefully leaves the cluster.
func (c *Cluster) Stop() error {
	return c.alan.Stop()
}

// LockEventAllocator acquires the distributed lock around the event-ID
// allocator. Blocks until acquired or ctx is cancelled.
func (c *Cluster) LockEventAllocator(ctx context.Context) error {
	return c.alan.Lock(ctx, lockEventAllocator)
}

// UnlockEventAllocator releases the event-ID allocator lock.
func (c *Cluster) UnlockEventAllocator() error {
	return c.alan.Unlock(lockEventAllocator)
}

// LockDedupRing acquires the distributed lock around the broadcast
// dedup ring. Blocks until acquired or ctx is cancelled.
func (c *Cluster) LockDedupRing(ctx context.Context) error {
	return c.alan.Lock(ctx, lockDedupRing)
}

// UnlockDedupRing releases the broadcast dedup ring lock.
func (c *Cluster) UnlockDedupRing() error {
	return c.alan.Unlock(lockDedupRing)
}

// PropagateBroadcastSeen tells every peer that uuid was just recorded
// in this process's dedup ring, so none of them redeliver a broadcast
// that arrives at them independently (e.g. over a transport that fans
// out to every process rather than routing through one).
func (c *Cluster) PropagateBroadcastSeen(ctx context.Context, uuid string) error {
	peers := c.alan.Peers()
	if len(peers) == 0 {
		return nil
	}

	cm := clusterMessage{Type: msgTypeBroadcastSeen, UUID: uuid}
	data, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("marshal cluster message: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = c.alan.SendAndWaitReply(sendCtx, data)
	return err
}

// Ready returns a channel that is closed when the cluster is ready.
func (c *Cluster) Ready() <-chan struct{} {
	return c.alan.Ready()
}
