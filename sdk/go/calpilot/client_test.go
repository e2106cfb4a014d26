package calpilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticateStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if creds.Username != "ada" {
			t.Fatalf("unexpected username: %q", creds.Username)
		}
		_ = json.NewEncoder(w).Encode(Token{
			AccessToken: "abc123",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Authenticate(context.Background(), Credentials{
		Username: "ada",
		Password: "secret",
	}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestChatSendsBearerToken(t *testing.T) {
	chatCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "token"})
		case "/api/v1/chat":
			if r.Header.Get("Authorization") != "Bearer token" {
				t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
			}
			chatCalled = true
			_ = json.NewEncoder(w).Encode(ChatResult{
				SessionID: "s1",
				Intent:    "create_event",
				Reply:     "Scheduled.",
				Event:     &Event{ID: "e1", Title: "Standup"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Authenticate(context.Background(), Credentials{}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	result, err := client.Chat(context.Background(), ChatRequest{Message: "schedule the standup"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !chatCalled {
		t.Fatal("chat endpoint was not called")
	}
	if result.Event == nil || result.Event.ID != "e1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestListEventsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("status") != "confirmed,tentative" {
			t.Fatalf("status = %q", query.Get("status"))
		}
		if query.Get("q") != "review" || query.Get("limit") != "10" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Event{{ID: "e1", Title: "Design review"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	events, err := client.ListEvents(context.Background(), ListEventsOptions{
		From:     time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, time.March, 8, 0, 0, 0, 0, time.UTC),
		Statuses: []string{"confirmed", "tentative"},
		Query:    "review",
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestGetEventError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(struct {
			Error APIError `json:"error"`
		}{Error: APIError{Code: "EVENT_NOT_FOUND", Message: "missing"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetEvent(context.Background(), "e-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "EVENT_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestExportICSReturnsRawPayload(t *testing.T) {
	const payload = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/calendar.ics" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("expand") != "true" {
			t.Fatalf("expected expand=true, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := client.ExportICS(context.Background(), time.Time{}, time.Time{}, true)
	if err != nil {
		t.Fatalf("export ics: %v", err)
	}
	if got != payload {
		t.Fatalf("unexpected payload: %q", got)
	}
}

func TestDeleteEventNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.DeleteEvent(context.Background(), "e1"); err != nil {
		t.Fatalf("delete event: %v", err)
	}
}
