package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"
	"exam_dispatch_engine/internal/domain/participant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunSendsOnEveryChannel(t *testing.T) {
	now := time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now, DispatcherConfig{Concurrency: 3, BatchSize: 2})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)
	env.addParticipant("p2", "p2@example.com", "+910000000002", participant.StatusActive)
	env.addParticipant("p3", "p3@example.com", "+910000000003", participant.StatusActive)
	env.addParticipant("p4", "p4@example.com", "+910000000004", participant.StatusBlocked)

	listener := &recordingListener{}
	env.dispatcher.AddListener(listener)

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Participants)
	assert.Equal(t, 6, report.Sent)
	assert.Zero(t, report.Failed)
	assert.False(t, report.WentLive)
	assert.ElementsMatch(t, []string{"p1@example.com", "p2@example.com", "p3@example.com"}, env.email.calls())
	assert.Len(t, env.messaging.calls(), 3)

	entries := env.dispatchLog.Entries()
	require.Len(t, entries, 6)
	assert.Equal(t, 6, entriesByStatus(entries, notification.DispatchSent))
	for _, e := range entries {
		assert.Equal(t, notification.TypeReminder3D, e.Key.Type)
		assert.True(t, e.ProviderRef.Valid)
		assert.True(t, e.SentAt.Valid)
	}
	assert.Len(t, listener.entries, 6)
	assert.Greater(t, env.participants.PagesServed(), 1, "audience is read page by page")

	updated := env.schedule(t, sched.ID)
	assert.Equal(t, exam.StatusNotifying, updated.Status)
	assert.True(t, updated.NotificationsStartedAt.Valid)
}

func TestDispatcherRunIsIdempotent(t *testing.T) {
	now := time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now, DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)
	env.addParticipant("p2", "p2@example.com", "+910000000002", participant.StatusActive)

	_, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)

	again, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Zero(t, again.Sent)
	assert.Equal(t, 4, again.Skipped)
	assert.Len(t, env.email.calls(), 2)
	assert.Len(t, env.messaging.calls(), 2)
	assert.Equal(t, 4, env.dispatchLog.Inserts())
}

func TestDispatcherSkipsChannelWithoutContact(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "", participant.StatusActive)

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, env.messaging.calls())

	entries := env.dispatchLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, notification.ChannelEmail, entries[0].Key.Channel)
}

func TestDispatcherFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{Concurrency: 2})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)
	env.addParticipant("p2", "p2@example.com", "+910000000002", participant.StatusActive)
	env.addParticipant("p3", "p3@example.com", "+910000000003", participant.StatusActive)
	env.email.setFail("p2@example.com", true)

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Sent)
	assert.Equal(t, 1, report.Failed)

	var failed []notification.LogEntry
	for _, e := range env.dispatchLog.Entries() {
		if e.Status == notification.DispatchFailed {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "p2", failed[0].Key.ParticipantID)
	assert.Equal(t, notification.ChannelEmail, failed[0].Key.Channel)
	assert.Equal(t, errProviderDown.Error(), failed[0].ErrorMessage.String)
	assert.Contains(t, env.messaging.calls(), "+910000000002", "other channel of the failing participant still goes out")
}

func TestDispatcherRetriesFailedEntries(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{MaxAttempts: 3})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)
	env.email.setFail("p1@example.com", true)

	_, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)

	t.Run("failure without recovery stays failed", func(t *testing.T) {
		report, err := env.dispatcher.RetryFailed(context.Background(), sched, notification.TypeReminder3D)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
	})

	env.email.setFail("p1@example.com", false)
	report, err := env.dispatcher.RetryFailed(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	entries := env.dispatchLog.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, notification.DispatchSent, e.Status)
		if e.Key.Channel == notification.ChannelEmail {
			assert.Equal(t, 3, e.Attempts)
		}
	}
	assert.Equal(t, []string{"p1@example.com"}, env.email.calls())
	assert.Len(t, env.messaging.calls(), 1, "sent channel is not retried")
}

func TestDispatcherRetryStopsAtMaxAttempts(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{MaxAttempts: 2})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "", participant.StatusActive)
	env.email.setFail("p1@example.com", true)

	for i := 0; i < 4; i++ {
		_, err := env.dispatcher.RetryFailed(context.Background(), sched, notification.TypeReminder3D)
		require.NoError(t, err)
		_, err = env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
		require.NoError(t, err)
	}

	entries := env.dispatchLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, notification.DispatchFailed, entries[0].Status)
	assert.Equal(t, 2, entries[0].Attempts)
}

func TestDispatcherRetrySkipsInactiveParticipant(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "", participant.StatusActive)
	env.email.setFail("p1@example.com", true)

	_, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)

	env.addParticipant("p1", "p1@example.com", "", participant.StatusBlocked)
	env.email.setFail("p1@example.com", false)
	report, err := env.dispatcher.RetryFailed(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, env.email.calls())
}

func TestDispatcherSkipsEntryClaimedElsewhere(t *testing.T) {
	now := time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now, DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "", participant.StatusActive)

	key := notification.Key{ScheduleID: sched.ID, ParticipantID: "p1", Type: notification.TypeReminder3D, Channel: notification.ChannelEmail}
	_, err := env.dispatchLog.Claim(context.Background(), key, now, notification.ClaimOptions{MaxAttempts: 5, StaleAfter: time.Hour})
	require.NoError(t, err)

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, env.email.calls())
}

func TestDispatcherExamDayGoesLiveOnce(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 5, 7, 0, 0, 0, time.UTC), DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusNotifying)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeExamDay)
	require.NoError(t, err)
	assert.True(t, report.WentLive)
	assert.Equal(t, exam.StatusLive, env.schedule(t, sched.ID).Status)

	again, err := env.dispatcher.Run(context.Background(), sched, notification.TypeExamDay)
	require.NoError(t, err)
	assert.False(t, again.WentLive)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, exam.StatusLive, env.schedule(t, sched.ID).Status)

	env.messaging.mu.Lock()
	defer env.messaging.mu.Unlock()
	require.Len(t, env.messaging.texts, 1)
	assert.True(t, strings.Contains(env.messaging.texts[0], "is today"))
}

func TestDispatcherExamDayFailuresDoNotBlockLive(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 5, 7, 0, 0, 0, time.UTC), DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "", participant.StatusActive)
	env.email.setFail("p1@example.com", true)

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeExamDay)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.WentLive)
}

func TestDispatcherCancelledExamDayStaysPending(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 5, 7, 0, 0, 0, time.UTC), DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusNotifying)
	env.addParticipant("p1", "p1@example.com", "", participant.StatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.dispatcher.Run(ctx, sched, notification.TypeExamDay)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, report.Interrupted)
	assert.False(t, report.WentLive)
	assert.Equal(t, exam.StatusNotifying, env.schedule(t, sched.ID).Status)
	assert.Empty(t, env.email.calls())
}

func TestDispatcherCancelLetsInFlightParticipantFinish(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{Concurrency: 1, BatchSize: 1})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusNotifying)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)
	env.addParticipant("p2", "p2@example.com", "+910000000002", participant.StatusActive)
	env.addParticipant("p3", "p3@example.com", "+910000000003", participant.StatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sendCtxErr error
	env.email.onSend = func(sendCtx context.Context, to string) {
		if to == "p1@example.com" {
			cancel()
			sendCtxErr = sendCtx.Err()
		}
	}

	report, err := env.dispatcher.Run(ctx, sched, notification.TypeReminder3D)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	assert.NoError(t, sendCtxErr, "in-flight send is detached from cancellation")
	assert.Equal(t, 1, report.Participants)

	entries := env.dispatchLog.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entriesByStatus(entries, notification.DispatchSent))
	for _, e := range entries {
		assert.Equal(t, "p1", e.Key.ParticipantID)
	}
}

func TestDispatcherRecoversFromChannelPanic(t *testing.T) {
	env := newTestEnv(t, time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC), DispatcherConfig{})
	sched := env.addSchedule(t, day(2025, time.July, 5), exam.StatusScheduled)
	env.addParticipant("p1", "p1@example.com", "+910000000001", participant.StatusActive)
	env.messaging.panic = true

	report, err := env.dispatcher.Run(context.Background(), sched, notification.TypeReminder3D)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)

	for _, e := range env.dispatchLog.Entries() {
		if e.Key.Channel == notification.ChannelMessaging {
			assert.Equal(t, notification.DispatchFailed, e.Status)
			assert.Contains(t, e.ErrorMessage.String, "channel panic")
		}
	}
}

func TestReminderText(t *testing.T) {
	params := notification.ReminderParams{Name: "Asha", ExamDate: day(2025, time.July, 5), Type: notification.TypeReminder1D}
	assert.Equal(t, "Namaste Asha, this is a reminder for your upcoming GPHDM Scholarship Exam on 05 Jul 2025. Prep well!",
		ReminderText("GPHDM Scholarship Exam", params))

	params.Type = notification.TypeExamDay
	assert.Contains(t, ReminderText("GPHDM Scholarship Exam", params), "is today (05 Jul 2025)")
}
