package main

import (
	"context"
	"log"

	"github.com/talentloop/convo/pkg/config"
	"github.com/talentloop/convo/pkg/db"
)

func main() {
	cfg := config.Load()

	// Note: In production, schema creation should be handled by migration
	// tools. For now we create keyspace/tables if absent at startup.
	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace); err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB %s keyspace: %v", cfg.Keyspace, err)
	}
	defer session.Close()

	if err := db.CreateSchema(session); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "messaging-service-group", session)
	defer consumer.Close()

	log.Println("Starting Kafka Consumer...")
	consumer.Consume(context.Background())
}
