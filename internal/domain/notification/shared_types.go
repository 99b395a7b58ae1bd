// internal/domain/notification/shared_types.go
package notification

// Type identifies which reminder of an exam's notification window is being sent.
type Type string

const (
	TypeReminder5D Type = "REMINDER_5D"
	TypeReminder4D Type = "REMINDER_4D"
	TypeReminder3D Type = "REMINDER_3D"
	TypeReminder2D Type = "REMINDER_2D"
	TypeReminder1D Type = "REMINDER_1D"
	TypeExamDay    Type = "EXAM_DAY"
)

// Channel is an independent delivery transport.
type Channel string

const (
	ChannelEmail     Channel = "EMAIL"
	ChannelMessaging Channel = "WHATSAPP" // messaging gateway
)

// Channels lists every channel in dispatch order.
var Channels = []Channel{ChannelEmail, ChannelMessaging}

// DispatchStatus is the recorded state of one (schedule, participant, type, channel) attempt.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "PENDING" // claimed, channel call in progress
	DispatchSent    DispatchStatus = "SENT"
	DispatchFailed  DispatchStatus = "FAILED"
)
