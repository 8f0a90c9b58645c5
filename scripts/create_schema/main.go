package main

import (
	"log"

	"github.com/talentloop/convo/pkg/config"
	"github.com/talentloop/convo/pkg/db"
)

func main() {
	cfg := config.Load()

	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace); err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	if err := db.CreateSchema(session); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}
	log.Printf("Schema created in keyspace %s", cfg.Keyspace)
}
