package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/talentloop/convo/pkg/config"
)

func main() {
	f, err := os.OpenFile("gateway.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening file: %v", err)
	}
	defer f.Close()
	log.SetOutput(f)

	cfg := config.Load()

	hub := NewHub(cfg)
	go hub.Run(context.Background())

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	log.Printf("Gateway Service Starting on %s...", cfg.GatewayAddr)
	if err := http.ListenAndServe(cfg.GatewayAddr, nil); err != nil {
		log.Fatal(err)
	}
}
