package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

// Smoke test for the API service: login, send a message into a topic, then
// read the page back. Run against a locally running stack.
func main() {
	apiAddr := "http://localhost:8081"

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{
		"user_id": "verify_user",
		"name":    "Verify User",
		"email":   "verify@example.com",
		"role":    "recruiter",
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	// 2. Send a message into candA/job1
	log.Println("Sending message to candidate candA, job job1...")
	sendBody, _ := json.Marshal(map[string]string{
		"job_id": "job1",
		"text":   "verify_api smoke message",
	})
	req, _ := http.NewRequest("POST", apiAddr+"/conversations/candA/messages", bytes.NewBuffer(sendBody))
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)
	req.Header.Add("Content-Type", "application/json")

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("Send request failed: ", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Send (%d): %s", resp.StatusCode, string(body))

	// 3. Read the page back
	log.Println("Fetching messages for candA/job1...")
	req, _ = http.NewRequest("GET", apiAddr+"/conversations/candA/messages?job_id=job1&limit=10", nil)
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("Messages request failed: ", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Messages (%d): %s", resp.StatusCode, string(body))

	// 4. Conversation index for this user
	log.Println("Fetching conversation list...")
	req, _ = http.NewRequest("GET", apiAddr+"/conversations", nil)
	req.Header.Add("Authorization", "Bearer "+loginResp.Token)

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("Conversations request failed: ", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Printf("Conversations (%d): %s", resp.StatusCode, string(body))
}
