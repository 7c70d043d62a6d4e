package ws

import (
	"encoding/json"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// Envelope frames every relay message. Requests carry an ID and the reply
// echoes it; events and signals have none.
type Envelope struct {
	Type domain.EventType `json:"type"`
	ID   string           `json:"id,omitempty"`
	Data json.RawMessage  `json:"data,omitempty"`
}

// Ack answers a request that has no other result.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func NewEnvelope(typ domain.EventType, id string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// ErrorEnvelope reports a failed request or an unroutable message.
func ErrorEnvelope(id string, err error) Envelope {
	data, _ := json.Marshal(Ack{Error: err.Error()})
	return Envelope{Type: domain.EventError, ID: id, Data: data}
}
