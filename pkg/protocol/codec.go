// ABOUTME: Helpers for decoding message payloads
// ABOUTME: Re-marshals the generic payload into a concrete message struct
package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodePayload converts msg.Payload into v
func DecodePayload(msg Message, v interface{}) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", msg.Type, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", msg.Type, err)
	}
	return nil
}
