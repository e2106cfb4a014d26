package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"CalPilot/sdk/go/calpilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(calpilot.Token{AccessToken: "demo-token", TokenType: "Bearer", ExpiresIn: 3600})
	})
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(calpilot.ChatResult{
			SessionID: "demo-session",
			Intent:    "create_event",
			Reply:     `Scheduled "Team lunch" for Fri Mar 6 12:00-13:00.`,
			Event:     &calpilot.Event{ID: "evt-demo", Title: "Team lunch"},
		})
	})
	mux.HandleFunc("/api/v1/briefing", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(calpilot.Briefing{
			Date: time.Now().Format("2006-01-02"),
			Text: "1 event today: 12:00-13:00 Team lunch.",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := calpilot.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, calpilot.Credentials{Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	result, err := client.Chat(ctx, calpilot.ChatRequest{Message: "book a team lunch on friday"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("assistant (%s): %s\n", result.Intent, result.Reply)

	briefing, err := client.DailyBriefing(ctx, time.Time{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("briefing for %s: %s\n", briefing.Date, briefing.Text)
}
