package main

import (
	"log"

	"github.com/talentloop/convo/pkg/config"
	"github.com/talentloop/convo/pkg/db"
)

func main() {
	cfg := config.Load()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, table := range db.Tables {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop table %s: %v", table, err)
		}
	}
	log.Println("All tables dropped.")
}
