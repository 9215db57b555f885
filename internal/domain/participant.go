// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxNameLen  = 36
	MaxClassLen = 16
)

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

type ParticipantID string

// Participant is one connected identity: a stable account id for
// authenticated users or an ephemeral session id for guests.
type Participant struct {
	ID    ParticipantID `json:"id"`
	Name  string        `json:"name"`
	Guest bool          `json:"guest"`
	// Class is a free-form pairing hint consumed by the matchmaking
	// compatibility predicate. Empty means "matches anything".
	Class string `json:"class,omitempty"`
}

// NewGuest is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewGuest(name string) (*Participant, error) {
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if name == "" {
		name = "guest"
	}
	return &Participant{ID: ParticipantID(uuid.NewString()), Name: name, Guest: true}, nil
}

func (p *Participant) SetName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}
