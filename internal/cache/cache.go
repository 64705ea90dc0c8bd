package cache

import (
	"context"
	"time"
)

// ReceiptCache records delivery receipts so owner-facing reads can resolve
// "was this sent, and as what message" without hitting the store.
type ReceiptCache interface {
	StoreSent(ctx context.Context, recordID, deliveredMessageID string, sentAt time.Time) error
}
