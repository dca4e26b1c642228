// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxParticipantIDLen = 64

var (
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrParticipantIDInvalid = errors.New("participant id contains control characters")
)

// ParticipantID identifies one signaling connection, not one person.
// A participant that reconnects gets a new id.
type ParticipantID string

// NewParticipantID is what the relay hands out when the client did not ask for one.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// ValidateParticipantID checks a client-requested id. Empty is valid and means "assign one".
func ValidateParticipantID(id ParticipantID) error {
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	for _, r := range string(id) {
		if r < 0x20 || r == 0x7f {
			return ErrParticipantIDInvalid
		}
	}
	return nil
}
