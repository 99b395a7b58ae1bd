// internal/domain/notification/status.go
package notification

import (
	"database/sql"
	"time"
)

// Key is the natural key of the dispatch log. At most one entry exists per key.
type Key struct {
	ScheduleID    string
	ParticipantID string
	Type          Type
	Channel       Channel
}

// LogEntry records the delivery state of one Key.
// Corresponds to the 'notification_dispatch_logs' table.
type LogEntry struct {
	ID           string
	Key          Key
	Status       DispatchStatus
	Attempts     int
	ProviderRef  sql.NullString
	ErrorMessage sql.NullString
	SentAt       sql.NullTime // set when the entry reaches SENT
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Outcome is the result of one channel attempt.
type Outcome struct {
	Status      DispatchStatus
	ProviderRef string
	Reason      string
}

// Sent builds a successful outcome.
func Sent(providerRef string) Outcome {
	return Outcome{Status: DispatchSent, ProviderRef: providerRef}
}

// Failed builds a failed outcome carrying the reason.
func Failed(reason string) Outcome {
	return Outcome{Status: DispatchFailed, Reason: reason}
}

// StatusCount aggregates log entries for reporting.
type StatusCount struct {
	Type    Type           `json:"notif_type"`
	Channel Channel        `json:"channel"`
	Status  DispatchStatus `json:"status"`
	Count   int            `json:"count"`
}
