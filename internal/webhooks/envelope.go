package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Envelope is the provider notification wrapper. Only these fields are read
// at receipt time; data stays opaque until the worker decodes it.
type Envelope struct {
	ID       string          `json:"id" validate:"required"`
	Type     string          `json:"type" validate:"required"`
	Created  int64           `json:"created" validate:"required,gt=0"`
	Sequence int64           `json:"sequence,omitempty" validate:"gte=0"`
	Data     json.RawMessage `json:"data" validate:"required"`
}

// OrderingSequence is the value compared against a subscription's last
// applied sequence. An explicit sequence wins over the creation time.
func (e Envelope) OrderingSequence() int64 {
	if e.Sequence > 0 {
		return e.Sequence
	}
	return e.Created
}

// ParseEnvelope decodes and structurally checks a webhook body.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("invalid envelope: data must be an object")
	}
	return env, nil
}
