package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/talentloop/convo/pkg/config"
	"github.com/talentloop/convo/pkg/db"
	"github.com/talentloop/convo/pkg/snowflake"
)

// API holds the write-boundary dependencies: message storage, the change
// event producer, online presence and the message ID generator.
type API struct {
	db       *db.Session
	redis    *redis.Client
	producer *kafka.Writer
	ids      *snowflake.Node
	cfg      config.Config
}

func main() {
	cfg := config.Load()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	// Node ID should be unique per instance in production (env var or
	// service discovery).
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	api := &API{
		db:    session,
		redis: redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
		producer: &kafka.Writer{
			Addr:  kafka.TCP(cfg.KafkaBrokers...),
			Topic: cfg.KafkaTopic,
			// Events are keyed by topic so one conversation always lands on
			// one partition and stays ordered end to end.
			Balancer: &kafka.Hash{},
		},
		ids: node,
		cfg: cfg,
	}
	defer api.producer.Close()

	if err := os.MkdirAll(cfg.AttachmentDir, 0o755); err != nil {
		log.Fatalf("Failed to create attachment dir: %v", err)
	}

	r := mux.NewRouter()
	r.Use(CORSMiddleware)

	// Public endpoint
	r.HandleFunc("/login", LoginHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/attachments/{ref}", api.ServeAttachment).Methods(http.MethodGet, http.MethodOptions)

	// Protected endpoints
	p := r.NewRoute().Subrouter()
	p.Use(AuthMiddleware)
	p.HandleFunc("/conversations", api.ListConversations).Methods(http.MethodGet, http.MethodOptions)
	p.HandleFunc("/conversations/{candidateId}/messages", api.ListMessages).Methods(http.MethodGet, http.MethodOptions)
	p.HandleFunc("/conversations/{candidateId}/messages", api.SendMessage).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/messages/{id}", api.EditMessage).Methods(http.MethodPatch, http.MethodOptions)
	p.HandleFunc("/messages/{id}", api.DeleteMessage).Methods(http.MethodDelete, http.MethodOptions)
	p.HandleFunc("/messages/{id}/reactions", api.AddReaction).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/messages/{id}/reactions", api.RemoveReaction).Methods(http.MethodDelete, http.MethodOptions)
	p.HandleFunc("/messages/mark-read", api.MarkRead).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/attachments", api.UploadAttachment).Methods(http.MethodPost, http.MethodOptions)
	p.HandleFunc("/topics/{candidateId}/{jobId}/users", api.OnlineUsers).Methods(http.MethodGet, http.MethodOptions)

	log.Printf("API Service Starting on %s...", cfg.APIAddr)
	if err := http.ListenAndServe(cfg.APIAddr, r); err != nil {
		log.Fatal(err)
	}
}
