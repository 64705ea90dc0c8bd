package dispatch

import (
	"context"
	"time"

	"github.com/hrkit/schedmsg/internal/model"
)

// DeliveryRequest carries everything the chat system needs to materialize a
// message. MessageID is minted by the dispatcher so the delivered message id
// is known before the collaborator is called.
type DeliveryRequest struct {
	MessageID  string         `json:"messageId"`
	ChannelID  string         `json:"channelId,omitempty"`
	RoomID     string         `json:"roomId,omitempty"`
	ThreadID   string         `json:"threadId,omitempty"`
	SenderKind string         `json:"senderKind"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName"`
	Content    string         `json:"content"`
	Kind       string         `json:"kind"`
	File       *model.FileRef `json:"file,omitempty"`
}

// BroadcastEvent is pushed to current subscribers of a destination after a
// successful delivery.
type BroadcastEvent struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"messageId"`
	ThreadID   string    `json:"threadId,omitempty"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	SentAt     time.Time `json:"sentAt"`
}

const EventMessageSent = "scheduled_message.sent"

// Messaging is the chat-system collaborator. It is consumed, never
// implemented, by this engine; internal/client provides the HTTP-backed
// production implementation.
type Messaging interface {
	Deliver(ctx context.Context, req DeliveryRequest) error
	UpdateDestinationAggregate(ctx context.Context, destinationID string, lastActivityAt time.Time, preview string, incrementCount int) error
	IncrementUnreadForMembersExcept(ctx context.Context, destinationID, excludedSenderID string) error
	Broadcast(ctx context.Context, destinationID string, event BroadcastEvent) error
}
