package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the wire frame shared by every message on the bus: a unique
// message ID for deduplication, the kind discriminator, the order routing
// key, and the kind-specific payload.
type Envelope struct {
	MessageID string          `json:"message_id"`
	Kind      string          `json:"kind"`
	OrderID   string          `json:"order_id"`
	Payload   json.RawMessage `json:"payload"`
}

// EncodeEnvelope marshals an envelope for transport.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}

// DecodeEnvelope unmarshals and sanity-checks a transport frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(env.MessageID) == "" {
		return Envelope{}, fmt.Errorf("decode envelope: message_id is required")
	}
	if strings.TrimSpace(env.Kind) == "" {
		return Envelope{}, fmt.Errorf("decode envelope: kind is required")
	}
	return env, nil
}
