package outbox

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one event awaiting publication. Rows are written in the same
// transaction as the saga-state update that produced them, which is what
// makes state change and event emission atomic.
type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// Store reads and settles outbox rows. FetchPending returns unsent rows in
// insertion order so per-key ordering survives the async hop.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// Publisher delivers one record to the transport. It must not return nil
// before the transport acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
