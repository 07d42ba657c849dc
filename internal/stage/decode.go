package stage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"transcoder/internal/contracts"
	"transcoder/internal/services"
)

// Decode parses a JSON message body and validates it. Malformed or invalid
// bodies are returned as services.ErrValidation so they are never retried.
func Decode[T any, PT interface {
	*T
	contracts.Message
}](stageName string, body []byte) (T, error) {
	var msg T
	if len(bytes.TrimSpace(body)) == 0 {
		return msg, services.Wrap(services.ErrValidation, stageName, "decode message",
			"Message body is empty", nil)
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, services.Wrap(services.ErrValidation, stageName, "decode message",
			fmt.Sprintf("Message body is not valid %T JSON", msg), err)
	}
	if err := PT(&msg).Validate(); err != nil {
		return msg, services.Wrap(services.ErrValidation, stageName, "validate message",
			"Message failed validation", err)
	}
	return msg, nil
}
