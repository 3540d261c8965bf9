package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/TheCoderAdi/EchoPersona-Backend/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event types published on user and duel topics.
const (
	EventAwayMessage = "away_message"
	EventBotStatus   = "bot_status"
	EventDuelWinner  = "duel_winner"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent builds an event from any JSON-serializable payload.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

type topicSubscription struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

// Broker fans Redis pub/sub messages out to local subscribers. Publishing goes
// through Redis so every server instance sees every event.
type Broker struct {
	redis  *redisclient.Client
	topics map[string]*topicSubscription
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		topics: make(map[string]*topicSubscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a local client on topic. The first local subscriber
// for a topic starts the Redis subscription that feeds it.
func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	sub := b.topics[topic]
	if sub == nil {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &topicSubscription{clients: make(map[*Client]bool), cancel: cancel}
		b.topics[topic] = sub
		go b.subscribeToRedis(ctx, topic)
	}
	sub.clients[client] = true
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.topics[client.Topic]
	if !ok || !sub.clients[client] {
		return
	}

	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.topics, client.Topic)
	}

	log.Info().
		Str("topic", client.Topic).
		Int("clientCount", len(sub.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.TopicChannel(topic)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, topic string) {
	channel := redisclient.TopicChannel(topic)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("topic", topic).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, event)
		}
	}
}

func (b *Broker) broadcast(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub := b.topics[topic]
	if sub == nil {
		return
	}

	for client := range sub.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.topics = make(map[string]*topicSubscription)
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub := b.topics[topic]; sub != nil {
		return len(sub.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, sub := range b.topics {
		total += len(sub.clients)
	}
	return total
}
