package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/talentloop/convo/pkg/broker"
	"github.com/talentloop/convo/pkg/config"
	"github.com/talentloop/convo/pkg/model"
	"github.com/talentloop/convo/pkg/presence"
	"github.com/talentloop/convo/pkg/registry"
)

// Hub ties the gateway together: the Kafka change-event stream feeds the
// broker, the broker fans out through the topic registry to connected
// clients, and the presence tracker publishes typing events back upstream.
type Hub struct {
	registry *registry.Registry
	broker   *broker.Broker
	typing   *presence.Tracker
	producer *kafka.Writer
	consumer *kafka.Reader
	redis    *redis.Client
}

func NewHub(cfg config.Config) *Hub {
	producer := &kafka.Writer{
		Addr:  kafka.TCP(cfg.KafkaBrokers...),
		Topic: cfg.KafkaTopic,
		// Keyed by topic so conversation order survives partitioning.
		Balancer: &kafka.Hash{},
	}

	// Consumer for fanout. Every gateway instance gets its own group so
	// each one sees the full stream (broadcast, not work-sharing).
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     "gateway-group-" + time.Now().Format("20060102150405.000"),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	reg := registry.New()
	h := &Hub{
		registry: reg,
		broker:   broker.New(reg),
		producer: producer,
		consumer: consumer,
		redis:    redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
	}
	h.typing = presence.NewTracker(cfg.TypingTTL, cfg.SweepInterval, h.publishTyping)
	return h
}

// Run consumes the change-event stream until ctx is done. Each envelope is
// routed as-is; a malformed one is logged and skipped so the stream never
// halts on a single bad event.
func (h *Hub) Run(ctx context.Context) {
	defer h.producer.Close()
	defer h.consumer.Close()
	defer h.redis.Close()

	go h.typing.Run(ctx)

	for {
		m, err := h.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Gateway consumer error: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}
		if err := h.broker.IngestRaw(m.Value); err != nil {
			log.Printf("Skipping event: %v", err)
		}
	}
}

func (h *Hub) publishTyping(topic model.Topic, payload model.TypingEvent) error {
	ev, err := model.NewEvent(topic, model.KindTyping, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.producer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(topic.Key()),
		Value: value,
	})
}

// Register subscribes a connection to its topic and marks the user online.
func (h *Hub) Register(c *Client) *registry.Subscription {
	sub := h.registry.Subscribe(c.topic)

	err := h.redis.SAdd(context.Background(), "topic:"+c.topic.Key()+":users", c.userID).Err()
	if err != nil {
		log.Printf("Failed to set presence for %s: %v", c.userID, err)
	}
	log.Printf("Client registered: %s on topic %s", c.userID, c.topic)
	return sub
}

// Unregister is idempotent: the subscription close already is, and the
// Redis removal of an absent member is a no-op.
func (h *Hub) Unregister(c *Client) {
	c.sub.Close()
	h.typing.MarkStopped(c.topic, c.userID)

	err := h.redis.SRem(context.Background(), "topic:"+c.topic.Key()+":users", c.userID).Err()
	if err != nil {
		log.Printf("Failed to delete presence for %s: %v", c.userID, err)
	}
	log.Printf("Client unregistered: %s from topic %s", c.userID, c.topic)
}
