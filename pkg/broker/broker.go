// Package broker routes externally observed change events to topic
// subscribers. It performs no business logic: validation and authorization
// happen at the write boundary before an event is ever ingested.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talentloop/convo/pkg/model"
	"github.com/talentloop/convo/pkg/registry"
)

var (
	ErrNoTopic = errors.New("broker: event has no topic")
	ErrNoKind  = errors.New("broker: event has no kind")
)

type Broker struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Broker {
	return &Broker{reg: reg}
}

// Ingest fans ev out to every subscriber of its topic. Events ingested for
// the same topic from a single caller goroutine reach each subscriber in
// ingestion order; no ordering holds across topics.
func (b *Broker) Ingest(ev model.Event) error {
	if ev.Topic.IsZero() {
		return ErrNoTopic
	}
	if ev.Kind == "" {
		return ErrNoKind
	}
	b.reg.Publish(ev)
	return nil
}

// IngestRaw decodes a wire envelope and ingests it. A malformed envelope is
// an error for the caller to log; it must not halt the consuming stream.
func (b *Broker) IngestRaw(data []byte) error {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("broker: decode envelope: %w", err)
	}
	return b.Ingest(ev)
}
