package keyexpiry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RemoteListener receives Fired entries published by another process's
// Wheel over FiredChannel. A deployment that runs more than one scriptrt
// process shares one Postgres-backed Store, but only one process's Wheel
// drains it (Repopulate + Tick); every other process attaches a
// RemoteListener instead of its own Wheel so its workers still learn about
// expiries owned by the replica that fired them.
type RemoteListener struct {
	pubsub *redis.PubSub
}

// NewRemoteListener subscribes to FiredChannel on rdb. Call Close when done.
func NewRemoteListener(ctx context.Context, rdb *redis.Client) *RemoteListener {
	return &RemoteListener{pubsub: rdb.Subscribe(ctx, FiredChannel)}
}

// Listen decodes published Fired entries onto the returned channel until ctx
// is cancelled or the subscription errors. Malformed payloads are dropped
// rather than closing the channel, since one bad publish should not starve
// every other tenant's expiry notices.
func (l *RemoteListener) Listen(ctx context.Context) <-chan Fired {
	out := make(chan Fired, 64)
	ch := l.pubsub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var f Fired
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					continue
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close releases the underlying Redis subscription.
func (l *RemoteListener) Close() error {
	if err := l.pubsub.Close(); err != nil {
		return fmt.Errorf("keyexpiry: closing remote listener: %w", err)
	}
	return nil
}
