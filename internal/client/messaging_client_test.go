package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hrkit/schedmsg/internal/dispatch"
)

func TestMessagingClient_Deliver_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method      string
		Path        string
		ContentType string
		Body        []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.ContentType = r.Header.Get("Content-Type")

		b, _ := ioReadAll(r)
		captured.Body = b

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewMessagingClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Deliver(ctx, dispatch.DeliveryRequest{
		MessageID: "msg-1",
		ChannelID: "ch-42",
		SenderID:  "emp-7",
		Content:   "hello",
		Kind:      "text",
	})
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.Path != "/internal/messages" {
		t.Fatalf("expected path /internal/messages, got %q", captured.Path)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}

	var req dispatch.DeliveryRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.MessageID != "msg-1" {
		t.Fatalf("expected messageId %q, got %q", "msg-1", req.MessageID)
	}
	if req.ChannelID != "ch-42" || req.Content != "hello" {
		t.Fatalf("unexpected request payload: %+v", req)
	}
}

func TestMessagingClient_Deliver_NonAccepted_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("chat system down"))
	}))
	defer srv.Close()

	c := NewMessagingClient(srv.URL)

	err := c.Deliver(context.Background(), dispatch.DeliveryRequest{MessageID: "m"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "unexpected status code: 500") {
		t.Fatalf("expected error to mention status code, got: %v", err)
	}
	if !strings.Contains(msg, `body="chat system down"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestMessagingClient_AggregateUnreadBroadcast_Paths(t *testing.T) {
	t.Parallel()

	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewMessagingClient(srv.URL)
	ctx := context.Background()

	if err := c.UpdateDestinationAggregate(ctx, "ch-42", time.Now(), "hello", 1); err != nil {
		t.Fatalf("UpdateDestinationAggregate() error: %v", err)
	}
	if err := c.IncrementUnreadForMembersExcept(ctx, "ch-42", "emp-7"); err != nil {
		t.Fatalf("IncrementUnreadForMembersExcept() error: %v", err)
	}
	if err := c.Broadcast(ctx, "ch-42", dispatch.BroadcastEvent{Type: "scheduled_message.sent"}); err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}

	want := []string{
		"/internal/destinations/ch-42/aggregate",
		"/internal/destinations/ch-42/unread",
		"/internal/destinations/ch-42/events",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %d (%v)", len(want), len(paths), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("request %d: expected path %q, got %q", i, want[i], paths[i])
		}
	}
}

func TestMessagingClient_ContextCanceled(t *testing.T) {
	t.Parallel()

	// Server that intentionally blocks longer than our context deadline.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewMessagingClient(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Deliver(ctx, dispatch.DeliveryRequest{MessageID: "m"})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	// On cancellation, net/http returns context deadline exceeded.
	if !strings.Contains(strings.ToLower(err.Error()), "context") &&
		!strings.Contains(strings.ToLower(err.Error()), "deadline") {
		t.Fatalf("expected context/deadline error, got: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
