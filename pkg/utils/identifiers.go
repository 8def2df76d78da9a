package utils

import (
	"errors"
	"strings"
)

// ValidateParticipantID validates a user or group identifier taken from CLI
// input. Identifiers are path- and room-safe: non-empty, no separators, no
// "_" (reserved as the room-key delimiter).
func ValidateParticipantID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return errors.New("identifier is required and must be a non-empty string")
	}
	if strings.ContainsAny(trimmed, "/\\_ ") {
		return errors.New("identifier must not contain separators or underscores")
	}
	return nil
}
