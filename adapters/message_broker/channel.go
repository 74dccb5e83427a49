package message_broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
	"go.uber.org/zap"
)

const subscriberBuffer = 100

// ChannelMessageBroker implements MessageBroker using Go channels. Every
// subscriber of a topic/routingKey pair gets its own buffered channel.
type ChannelMessageBroker struct {
	topics map[string][]chan domain.Message
	mu     sync.RWMutex
	closed bool
}

// NewChannelMessageBroker creates a new channel-based message broker
func NewChannelMessageBroker() *ChannelMessageBroker {
	return &ChannelMessageBroker{
		topics: make(map[string][]chan domain.Message),
	}
}

// makeKey creates a unique key for topic and routingKey
func makeKey(topic, routingKey string) string {
	return topic + ":" + routingKey
}

// Publish sends a message to the subscribers of topic/routingKey and to the
// wildcard subscribers of topic. A subscriber whose buffer is full misses the
// message; Publish never blocks on a slow reader.
func (b *ChannelMessageBroker) Publish(ctx context.Context, topic string, routingKey string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("message broker is closed")
	}

	msg := domain.Message{
		Topic:      topic,
		RoutingKey: routingKey,
		Payload:    message,
		Timestamp:  time.Now(),
	}

	subscribers := b.topics[makeKey(topic, routingKey)]
	if routingKey != domain.AnyRoutingKey {
		subscribers = append(subscribers[:len(subscribers):len(subscribers)], b.topics[makeKey(topic, domain.AnyRoutingKey)]...)
	}

	dropped := 0
	for _, channel := range subscribers {
		select {
		case channel <- msg:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		log.WithCtx(ctx).Warn("subscriber channel full, message dropped",
			zap.String("topic", topic),
			zap.String("routingKey", routingKey),
			zap.Int("dropped", dropped))
	}
	log.WithCtx(ctx).Debug("message published to topic",
		zap.String("topic", topic),
		zap.String("routingKey", routingKey),
		zap.Int("subscribers", len(subscribers)),
		zap.Int("payload_size", len(message)))
	return nil
}

// Subscribe listens for messages on a specific topic and routing key.
// The returned channel is closed when ctx is done or the broker closes.
func (b *ChannelMessageBroker) Subscribe(ctx context.Context, topic string, routingKey string) (<-chan domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("message broker is closed")
	}

	key := makeKey(topic, routingKey)
	channel := make(chan domain.Message, subscriberBuffer)
	b.topics[key] = append(b.topics[key], channel)

	go func() {
		<-ctx.Done()
		b.unsubscribe(key, channel)
	}()

	log.WithCtx(ctx).Info("subscribed to topic", zap.String("topic", topic), zap.String("routingKey", routingKey))
	return channel, nil
}

func (b *ChannelMessageBroker) unsubscribe(key string, channel chan domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subscribers := b.topics[key]
	for i, c := range subscribers {
		if c == channel {
			b.topics[key] = append(subscribers[:i:i], subscribers[i+1:]...)
			close(channel)
			break
		}
	}
	if len(b.topics[key]) == 0 {
		delete(b.topics, key)
	}
}

// Close closes the message broker and all subscriber channels
func (b *ChannelMessageBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	for key, subscribers := range b.topics {
		for _, channel := range subscribers {
			close(channel)
		}
		log.With(zap.String("key", key)).Debug("closed topic channels")
	}

	b.topics = make(map[string][]chan domain.Message)

	log.With().Info("message broker closed")
	return nil
}

// GetTopicCount returns the number of topic/routingKey pairs with subscribers
func (b *ChannelMessageBroker) GetTopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// IsClosed returns whether the broker is closed
func (b *ChannelMessageBroker) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
