package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the frame written to websocket clients.
type Envelope struct {
	ID     string          `json:"id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sentAt"`
}

func NewEnvelope(event string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:     uuid.NewString(),
		Event:  event,
		Data:   data,
		SentAt: time.Now().UTC(),
	}, nil
}
