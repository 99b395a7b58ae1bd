// Package events streams completed dispatch attempts to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"exam_dispatch_engine/internal/domain/notification"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 10 * time.Second

// DispatchEvent is the message value published for each completed attempt.
type DispatchEvent struct {
	EntryID       string    `json:"entry_id"`
	ScheduleID    string    `json:"schedule_id"`
	ParticipantID string    `json:"participant_id"`
	Type          string    `json:"notif_type"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	ProviderRef   string    `json:"provider_ref,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds an async, batching writer for the dispatch topic.
func NewWriter(brokers []string, topic string, logger *logrus.Entry) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same participant lands on the same partition
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: publishTimeout,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

// Publisher is an app.DispatchListener writing one message per completed attempt.
type Publisher struct {
	writer MessageWriter
	logger *logrus.Entry
}

func NewPublisher(writer MessageWriter, logger *logrus.Entry) *Publisher {
	return &Publisher{writer: writer, logger: logger.WithField("component", "kafka_publisher")}
}

func (p *Publisher) OnDispatch(ctx context.Context, entry *notification.LogEntry) {
	msg, err := EncodeDispatch(entry)
	if err != nil {
		p.logger.WithError(err).WithField("entry_id", entry.ID).Warn("Failed to encode dispatch event")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithError(err).WithField("entry_id", entry.ID).Warn("Failed to publish dispatch event")
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// EncodeDispatch builds the Kafka message for a log entry, keyed by participant.
func EncodeDispatch(entry *notification.LogEntry) (kafka.Message, error) {
	ev := DispatchEvent{
		EntryID:       entry.ID,
		ScheduleID:    entry.Key.ScheduleID,
		ParticipantID: entry.Key.ParticipantID,
		Type:          string(entry.Key.Type),
		Channel:       string(entry.Key.Channel),
		Status:        string(entry.Status),
		Attempts:      entry.Attempts,
		ProviderRef:   entry.ProviderRef.String,
		Error:         entry.ErrorMessage.String,
		OccurredAt:    entry.UpdatedAt.UTC(),
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(entry.Key.ParticipantID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "notif_type", Value: []byte(ev.Type)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}, nil
}
