package participant

import (
	"time"
)

// Status is the registration state of a participant. Only ACTIVE participants are notified.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusBlocked Status = "BLOCKED"
	StatusPending Status = "PENDING"
)

// Participant is a registered student eligible for exam notifications.
// Owned by the registration subsystem; the engine only reads it.
type Participant struct {
	ID         string
	Name       string
	Email      string
	Mobile     string
	ClassLevel int
	Status     Status
	CreatedAt  time.Time
}

// IsActive reports whether the participant belongs to the notification audience.
func (p *Participant) IsActive() bool {
	return p.Status == StatusActive
}
