package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hrkit/schedmsg/internal/dispatch"
)

// MessagingClient is the HTTP implementation of the Messaging collaborator,
// talking to the chat system's internal API.
type MessagingClient struct {
	baseURL string
	client  *http.Client
}

func NewMessagingClient(baseURL string) *MessagingClient {
	return &MessagingClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *MessagingClient) Deliver(ctx context.Context, req dispatch.DeliveryRequest) error {
	return c.post(ctx, "/internal/messages", req, http.StatusAccepted)
}

type aggregateRequest struct {
	LastActivityAt time.Time `json:"lastActivityAt"`
	Preview        string    `json:"preview"`
	IncrementCount int       `json:"incrementCount"`
}

func (c *MessagingClient) UpdateDestinationAggregate(ctx context.Context, destinationID string, lastActivityAt time.Time, preview string, incrementCount int) error {
	path := fmt.Sprintf("/internal/destinations/%s/aggregate", url.PathEscape(destinationID))
	return c.post(ctx, path, aggregateRequest{
		LastActivityAt: lastActivityAt,
		Preview:        preview,
		IncrementCount: incrementCount,
	}, http.StatusOK)
}

type unreadRequest struct {
	ExcludedSenderID string `json:"excludedSenderId"`
}

func (c *MessagingClient) IncrementUnreadForMembersExcept(ctx context.Context, destinationID, excludedSenderID string) error {
	path := fmt.Sprintf("/internal/destinations/%s/unread", url.PathEscape(destinationID))
	return c.post(ctx, path, unreadRequest{ExcludedSenderID: excludedSenderID}, http.StatusOK)
}

func (c *MessagingClient) Broadcast(ctx context.Context, destinationID string, event dispatch.BroadcastEvent) error {
	path := fmt.Sprintf("/internal/destinations/%s/events", url.PathEscape(destinationID))
	return c.post(ctx, path, event, http.StatusOK)
}

func (c *MessagingClient) post(ctx context.Context, path string, payload any, wantStatus int) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	return nil
}
