// Package sync propagates local cache invalidations between processes over
// Redis pub/sub. Events name keys only; receivers re-read the remote store.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fengzhizi715/multi-level-cache/types"
)

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

// ErrAlreadySubscribed is returned by a second Subscribe call.
var ErrAlreadySubscribed = errors.New("synchronizer already subscribed")

// PubSubSynchronizer implements cache synchronization using Redis Pub/Sub.
type PubSubSynchronizer struct {
	client         redis.UniversalClient
	channel        string
	podID          string
	pubsub         *redis.PubSub
	callbacks      []func(event InvalidationEvent)
	callbacksMutex sync.RWMutex
	onDecodeError  func(error)
	done           chan struct{}
	closeOnce      sync.Once
	wg             sync.WaitGroup
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer. Events sent with
// podID as sender are not delivered back to this synchronizer.
func NewPubSubSynchronizer(client redis.UniversalClient, channel, podID string) *PubSubSynchronizer {
	return &PubSubSynchronizer{
		client:    client,
		channel:   channel,
		podID:     podID,
		callbacks: make([]func(event InvalidationEvent), 0),
		done:      make(chan struct{}),
	}
}

// OnDecodeError registers fn to receive payloads that are not valid events.
func (ps *PubSubSynchronizer) OnDecodeError(fn func(error)) {
	ps.onDecodeError = fn
}

// Subscribe starts listening for invalidation events. It returns once the
// server has confirmed the subscription, so events published afterwards are
// not missed.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	if ps.pubsub != nil {
		return ErrAlreadySubscribed
	}

	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	ps.pubsub = pubsub

	ps.wg.Add(1)
	go ps.listenForEvents(pubsub.Channel())

	return nil
}

// Publish publishes an invalidation event stamped with this pod's ID.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	event.Sender = ps.podID
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ps.client.Publish(ctx, ps.channel, data).Err()
}

// OnInvalidate registers a callback for invalidation events.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(event InvalidationEvent)) {
	ps.callbacksMutex.Lock()
	defer ps.callbacksMutex.Unlock()
	ps.callbacks = append(ps.callbacks, callback)
}

// Close stops the listener and closes the subscription. It is safe to call
// more than once.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

// listenForEvents dispatches events until Close or until the subscription
// channel is closed.
func (ps *PubSubSynchronizer) listenForEvents(ch <-chan *redis.Message) {
	defer ps.wg.Done()

	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}

			var event InvalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				if ps.onDecodeError != nil {
					ps.onDecodeError(err)
				}
				continue
			}

			// Don't invalidate your own writes
			if event.Sender == ps.podID {
				continue
			}

			ps.callbacksMutex.RLock()
			callbacks := ps.callbacks
			ps.callbacksMutex.RUnlock()

			for _, callback := range callbacks {
				callback(event)
			}
		}
	}
}
