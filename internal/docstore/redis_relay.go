package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const relayBuffer = 256

// RedisRelay mirrors Broker events across processes over a Redis pub/sub
// channel. Events published by this process are tagged with its instance id
// and ignored when they come back.
type RedisRelay struct {
	client     *redis.Client
	broker     *Broker
	channel    string
	instanceID string

	out    chan ChangeEvent
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisRelay(client *redis.Client, broker *Broker, channel string) *RedisRelay {
	return &RedisRelay{
		client:     client,
		broker:     broker,
		channel:    channel,
		instanceID: uuid.NewString(),
		out:        make(chan ChangeEvent, relayBuffer),
	}
}

func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// Start subscribes to the channel and begins forwarding local events.
func (r *RedisRelay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.pubsub = r.client.Subscribe(ctx, r.channel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		cancel()
		_ = r.pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.broker.OnPublish(r.forward)

	r.wg.Add(2)
	go r.publishLoop(ctx)
	go r.receiveLoop(ctx, r.pubsub.Channel())

	logger.Info("Change relay started", map[string]interface{}{
		"channel":     r.channel,
		"instance_id": r.instanceID,
	})
	return nil
}

func (r *RedisRelay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	if err := r.pubsub.Close(); err != nil {
		logger.Warn("Failed to close relay subscription", map[string]interface{}{
			"error": err.Error(),
		})
	}
	r.wg.Wait()
}

// forward runs on the broker goroutine and must not block.
func (r *RedisRelay) forward(evt ChangeEvent) {
	evt.Origin = r.instanceID
	select {
	case r.out <- evt:
	default:
		logger.Warn("Relay buffer full, change event dropped", map[string]interface{}{
			"collection": evt.Collection,
			"doc_id":     evt.DocID,
		})
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-r.out:
			payload, err := encodeEvent(evt)
			if err != nil {
				logger.Error("Failed to encode change event", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil && ctx.Err() == nil {
				logger.Error("Failed to publish change event", err, map[string]interface{}{
					"collection": evt.Collection,
					"doc_id":     evt.DocID,
				})
			}
		}
	}
}

func (r *RedisRelay) receiveLoop(ctx context.Context, msgs <-chan *redis.Message) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			evt, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				logger.Warn("Ignoring malformed change event", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if evt.Origin == r.instanceID {
				continue
			}
			r.broker.Inject(evt)
		}
	}
}

func encodeEvent(evt ChangeEvent) ([]byte, error) {
	return json.Marshal(evt)
}

func decodeEvent(payload []byte) (ChangeEvent, error) {
	var evt ChangeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return ChangeEvent{}, err
	}
	if evt.Collection == "" || evt.DocID == "" {
		return ChangeEvent{}, fmt.Errorf("change event missing collection or doc_id")
	}
	return evt, nil
}
