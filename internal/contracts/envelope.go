package contracts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message crossing the transport. The Type tag selects
// the payload shape and the CorrelationID ties the message to its saga.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload, assigning a fresh event id.
func NewEnvelope(eventType, correlationID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		Type:          eventType,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
	}, nil
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}
