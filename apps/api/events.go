package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
	"github.com/talentloop/convo/pkg/model"
)

// publishEvent pushes a change event into the Kafka stream the gateways fan
// out from. Failures are logged, not surfaced: the write itself already
// committed, and subscribers reconcile on their next page load.
func (a *API) publishEvent(ctx context.Context, topic model.Topic, kind model.EventKind, payload any) {
	ev, err := model.NewEvent(topic, kind, payload)
	if err != nil {
		log.Printf("Failed to build %s event: %v", kind, err)
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", kind, err)
		return
	}

	err = a.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic.Key()),
		Value: value,
	})
	if err != nil {
		log.Printf("Failed to write %s event to Kafka: %v", kind, err)
	}
}
