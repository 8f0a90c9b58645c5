package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/talentloop/convo/convo"
	"github.com/talentloop/convo/pkg/model"
)

// Interactive terminal client for exercising a conversation end to end:
// optimistic sends, reactions, edits, history paging and typing presence.
func main() {
	gatewayAddr := flag.String("gateway", "ws://localhost:8080/ws", "gateway websocket url")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "recruiter1", "user id")
	name := flag.String("name", "", "display name (defaults to user id)")
	role := flag.String("role", "recruiter", "role: recruiter, hiring_manager or candidate")
	candidateID := flag.String("candidate", "cand1", "candidate id of the conversation")
	jobID := flag.String("job", "job1", "job id of the conversation")
	flag.Parse()

	if *name == "" {
		*name = *userID
	}
	topic := model.Topic{CandidateID: *candidateID, JobID: *jobID}

	ctx := context.Background()

	log.Printf("Logging in as %s (%s)...", *userID, *role)
	rest := convo.NewREST(*apiAddr)
	token, err := rest.Login(ctx, *userID, *name, *userID+"@example.com", *role)
	if err != nil {
		log.Fatal("login failed: ", err)
	}

	cfg := convo.DefaultConfig()
	cfg.GatewayURL = *gatewayAddr
	cfg.APIBaseURL = *apiAddr
	cfg.Token = token
	cfg.UserID = *userID

	client, err := convo.NewClient(cfg, topic)
	if err != nil {
		log.Fatal("client: ", err)
	}

	client.OnMessageInserted(func(m model.Message) {
		if m.Sender.IsCurrentUser || m.Sender.ID == *userID {
			return
		}
		fmt.Printf("\r[%d] %s: %s\n> ", m.ID, m.Sender.Name, m.Text)
	})
	client.OnMessageUpdated(func(m model.Message) {
		fmt.Printf("\r[%d] %s (edited): %s\n> ", m.ID, m.Sender.Name, m.Text)
	})
	client.OnMessageDeleted(func(id int64) {
		fmt.Printf("\r[%d] message deleted\n> ", id)
	})
	client.OnReaction(func(d model.ReactionDelta) {
		fmt.Printf("\r[%d] %s %s %s\n> ", d.MessageID, d.UserID, d.Op, d.Emoji)
	})
	client.OnTyping(func(ev model.TypingEvent) {
		if ev.Started {
			fmt.Printf("\r%s is typing...\n> ", ev.User.Name)
		}
	})
	client.OnError(func(err error) {
		fmt.Printf("\rstream error: %v\n> ", err)
	})

	log.Printf("connecting to %s", *gatewayAddr)
	if err := client.Connect(ctx); err != nil {
		log.Fatal("connect: ", err)
	}
	defer client.Close()

	// Show the head page oldest-first, the way a chat pane renders it.
	head := client.Thread().Messages()
	for i := len(head) - 1; i >= 0; i-- {
		m := head[i]
		fmt.Printf("[%d] %s: %s\n", m.ID, m.Sender.Name, m.Text)
	}
	fmt.Printf("%d unread. Commands: /typing /older /read /react <id> <emoji> /edit <id> <text> /del <id> /upload <path> /quit\n", client.Thread().Unread())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Print("> ")
				continue
			}
			if line == "/quit" {
				return
			}
			runCommand(ctx, client, line)
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
	}
}

func runCommand(ctx context.Context, client *convo.Client, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/typing":
		client.StartTyping(ctx)

	case "/older":
		msgs, hasMore, err := client.LoadOlder(ctx)
		if err != nil {
			fmt.Println("load older:", err)
			return
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			fmt.Printf("[%d] %s: %s\n", msgs[i].ID, msgs[i].Sender.Name, msgs[i].Text)
		}
		if !hasMore {
			fmt.Println("(start of history)")
		}

	case "/read":
		if err := client.MarkRead(ctx); err != nil {
			fmt.Println("mark read:", err)
		}

	case "/react":
		if len(fields) < 3 {
			fmt.Println("usage: /react <id> <emoji>")
			return
		}
		id, _ := strconv.ParseInt(fields[1], 10, 64)
		if err := client.React(ctx, id, fields[2]); err != nil {
			fmt.Println("react:", err)
		}

	case "/edit":
		if len(fields) < 3 {
			fmt.Println("usage: /edit <id> <text>")
			return
		}
		id, _ := strconv.ParseInt(fields[1], 10, 64)
		if err := client.Edit(ctx, id, strings.Join(fields[2:], " ")); err != nil {
			fmt.Println("edit:", err)
		}

	case "/del":
		if len(fields) < 2 {
			fmt.Println("usage: /del <id>")
			return
		}
		id, _ := strconv.ParseInt(fields[1], 10, 64)
		if err := client.Delete(ctx, id); err != nil {
			fmt.Println("delete:", err)
		}

	case "/upload":
		if len(fields) < 2 {
			fmt.Println("usage: /upload <path>")
			return
		}
		sendWithAttachment(ctx, client, fields[1])

	case "/retry":
		if len(fields) < 2 {
			fmt.Println("usage: /retry <token>")
			return
		}
		if err := client.RetrySend(ctx, fields[1]); err != nil {
			fmt.Println("retry:", err)
		}

	default:
		client.StopTyping(ctx)
		token, err := client.Send(ctx, line)
		if err != nil {
			fmt.Printf("send failed (token %s, /retry or ignore): %v\n", token, err)
		}
	}
}

func sendWithAttachment(ctx context.Context, client *convo.Client, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("open:", err)
		return
	}
	defer f.Close()

	name := filepath.Base(path)
	res, err := client.Upload(ctx, name, mime.TypeByExtension(filepath.Ext(path)), f)
	if err != nil {
		fmt.Println("upload:", err)
		return
	}
	if _, err := client.Send(ctx, name, convo.WithAttachment(*res)); err != nil {
		fmt.Println("send:", err)
	}
}
