// README: Per-organization realtime event fan-out. Redis Pub/Sub gives
// at-least-once delivery across API processes; each process also keeps a
// local, mutex-guarded subscriber registry for the connections (SSE, in
// the outer web layer) it is directly holding. Publish never blocks the
// caller's transaction: a full subscriber buffer is dropped and logged,
// never awaited.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/orro3790/dispatch/internal/types"
)

// EventType is the closed set of realtime event kinds.
type EventType string

const (
	EventBidWindowOpened  EventType = "bid_window_opened"
	EventBidWindowClosed  EventType = "bid_window_closed"
	EventAssignmentUpdated EventType = "assignment_updated"
	EventDriverFlagged    EventType = "driver_flagged"
)

// Event is one realtime message, always scoped to a single organization.
type Event struct {
	Type    EventType `json:"type"`
	OrgID   types.ID  `json:"orgId"`
	Payload any       `json:"payload"`
}

// subscriberBuffer bounds how far a slow local subscriber may lag before
// its messages start being dropped.
const subscriberBuffer = 64

// Broadcaster publishes events scoped to one organization to every local
// and remote subscriber.
type Broadcaster struct {
	redis *redis.Client
	log   logr.Logger

	mu          chanRegistry
}

func New(redisClient *redis.Client, log logr.Logger) *Broadcaster {
	return &Broadcaster{
		redis: redisClient,
		log:   log,
		mu:    newChanRegistry(),
	}
}

func channelName(orgID types.ID) string {
	return fmt.Sprintf("broadcast:org:%s", orgID)
}

// Publish fans Event out to every local subscriber for the org and to
// Redis, for delivery to subscribers held by other processes. Failures
// (marshal error, Redis unavailable, a full local subscriber buffer) are
// logged and counted; they never block or fail the caller.
func (b *Broadcaster) Publish(ctx context.Context, orgID types.ID, event Event) {
	event.OrgID = orgID

	b.mu.fanOutLocal(orgID, event, b.log)

	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error(err, "broadcast: marshal event failed", "orgID", orgID, "type", event.Type)
		return
	}
	if b.redis == nil {
		return
	}
	if err := b.redis.Publish(ctx, channelName(orgID), payload).Err(); err != nil {
		b.log.Error(err, "broadcast: redis publish failed", "orgID", orgID, "type", event.Type)
	}
}

// Subscribe registers a local subscriber for orgID and returns a channel
// of events plus an unsubscribe function. The outer SSE layer is the
// expected caller; the dispatch core only publishes.
func (b *Broadcaster) Subscribe(orgID types.ID) (<-chan Event, func()) {
	return b.mu.subscribe(orgID, subscriberBuffer)
}

// Run subscribes to every org's Redis channel pattern and republishes
// incoming messages to local subscribers, so a publish originating on a
// different process instance still reaches SSE connections held here.
// Intended to run for the lifetime of the process.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.redis == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	pubsub := b.redis.PSubscribe(ctx, "broadcast:org:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Error(err, "broadcast: unmarshal inbound event failed")
				continue
			}
			b.mu.fanOutLocal(event.OrgID, event, b.log)
		}
	}
}
