package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/talentloop/convo/pkg/auth"
	"github.com/talentloop/convo/pkg/model"
	"github.com/talentloop/convo/pkg/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send small
	// typing control frames; all writes go through the REST boundary.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *registry.Subscription

	userID   string
	userName string
	topic    model.Topic
}

// controlFrame is the only inbound shape clients send over the socket.
type controlFrame struct {
	Type string `json:"type"`
}

const (
	frameTypingStart = "typing.start"
	frameTypingStop  = "typing.stop"
)

// readPump consumes typing control frames until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("Ignoring malformed frame from %s: %v", c.userID, err)
			continue
		}

		switch frame.Type {
		case frameTypingStart:
			c.hub.typing.MarkTyping(c.topic, model.TypingUser{
				ID:        c.userID,
				Name:      c.userName,
				Timestamp: time.Now(),
			})
		case frameTypingStop:
			c.hub.typing.MarkStopped(c.topic, c.userID)
		default:
			log.Printf("Ignoring unknown frame type %q from %s", frame.Type, c.userID)
		}
	}
}

// writePump forwards fanned-out events to the peer. The subscription
// channel closes on unregister, which ends the loop.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if c.isOwnTyping(ev) {
				// Self-exclusion: a user's own typing never echoes back,
				// even on reconnect with replay.
				continue
			}

			value, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Failed to marshal event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, value); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) isOwnTyping(ev model.Event) bool {
	if ev.Kind != model.KindTyping {
		return false
	}
	var payload model.TypingEvent
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return false
	}
	return payload.User.ID == c.userID
}

// serveWs handles websocket requests from the peer.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromRequest(r)
	if err != nil {
		log.Printf("Unauthorized: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	topic := model.Topic{
		CandidateID: r.URL.Query().Get("candidate"),
		JobID:       r.URL.Query().Get("job"),
	}
	if topic.IsZero() {
		http.Error(w, "candidate and job are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		userID:   claims.UserID,
		userName: claims.Name,
		topic:    topic,
	}
	client.sub = hub.Register(client)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
