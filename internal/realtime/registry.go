package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hearthside/comms/internal/utils"
)

// Registry tracks live client connections so the notification layer can
// route payloads to online users. It is owned by the transport layer;
// business logic only ever talks to this interface.
type Registry interface {
	RegisterConnection(userID utils.SixID, connID string, deliver func(payload any))
	UnregisterConnection(userID utils.SixID, connID string)
	RouteToUser(ctx context.Context, userID utils.SixID, payload any) bool
	IsOnline(ctx context.Context, userID utils.SixID) bool
}

type connection struct {
	id      string
	deliver func(payload any)
}

// memoryRegistry keeps connections in-process and mirrors presence into
// Redis with a TTL so sibling instances can answer IsOnline.
type memoryRegistry struct {
	mu          sync.RWMutex
	connections map[utils.SixID][]connection
	rdb         *redis.Client
	presenceTTL time.Duration
}

// NewRegistry creates a connection registry. rdb may be nil, in which case
// presence is purely local.
func NewRegistry(rdb *redis.Client, presenceTTL time.Duration) Registry {
	return &memoryRegistry{
		connections: make(map[utils.SixID][]connection),
		rdb:         rdb,
		presenceTTL: presenceTTL,
	}
}

func presenceKey(userID utils.SixID) string {
	return fmt.Sprintf("presence:%s", userID.String())
}

func (r *memoryRegistry) RegisterConnection(userID utils.SixID, connID string, deliver func(payload any)) {
	r.mu.Lock()
	r.connections[userID] = append(r.connections[userID], connection{id: connID, deliver: deliver})
	r.mu.Unlock()

	if r.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.rdb.Set(ctx, presenceKey(userID), connID, r.presenceTTL)
	}
}

func (r *memoryRegistry) UnregisterConnection(userID utils.SixID, connID string) {
	r.mu.Lock()
	conns := r.connections[userID]
	kept := conns[:0]
	for _, c := range conns {
		if c.id != connID {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(r.connections, userID)
	} else {
		r.connections[userID] = kept
	}
	empty := len(kept) == 0
	r.mu.Unlock()

	if empty && r.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.rdb.Del(ctx, presenceKey(userID))
	}
}

// RouteToUser delivers the payload to every live connection of the user.
// Returns false when the user has no connection on this instance.
func (r *memoryRegistry) RouteToUser(ctx context.Context, userID utils.SixID, payload any) bool {
	r.mu.RLock()
	conns := append([]connection(nil), r.connections[userID]...)
	r.mu.RUnlock()

	for _, c := range conns {
		c.deliver(payload)
	}
	return len(conns) > 0
}

func (r *memoryRegistry) IsOnline(ctx context.Context, userID utils.SixID) bool {
	r.mu.RLock()
	_, local := r.connections[userID]
	r.mu.RUnlock()
	if local {
		return true
	}
	if r.rdb == nil {
		return false
	}
	n, err := r.rdb.Exists(ctx, presenceKey(userID)).Result()
	return err == nil && n > 0
}
