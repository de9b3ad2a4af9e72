package pubsub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of one distributed event. InstanceID identifies
// the publishing process so receivers can discard their own messages when
// they loop back through the transport.
type Envelope[E ~string] struct {
	Event      E               `json:"event"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
	InstanceID string          `json:"instance_id"`
}

// encodeEnvelope marshals an event into its wire form.
func encodeEnvelope[E ~string](event E, data interface{}, instanceID string) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	env := Envelope[E]{
		Event:      event,
		Data:       raw,
		Timestamp:  time.Now().UnixMilli(),
		InstanceID: instanceID,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, nil
}

// decodeEnvelope parses a wire payload back into an envelope.
func decodeEnvelope[E ~string](payload []byte) (Envelope[E], error) {
	var env Envelope[E]
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
