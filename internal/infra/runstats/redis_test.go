package runstats

import (
	"context"
	"testing"
	"time"

	"exam_dispatch_engine/internal/app"
	"exam_dispatch_engine/internal/domain/notification"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "exam:runs:workflow:last", LastRunKey(RunKindOf(&app.RunReport{})))
	assert.Equal(t, "exam:runs:retry:count", RunCountKey(RunKindOf(&app.RunReport{RetryOnly: true})))
}

func TestSummaryFields(t *testing.T) {
	start := time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC)
	report := &app.RunReport{
		StartedAt:       start,
		FinishedAt:      start.Add(time.Minute),
		EnsuredExamDate: "2025-08-05",
		ActiveSchedules: 2,
		Sweeps: []*app.SweepReport{
			{ScheduleID: "s1", ExamDate: "2025-07-05", Type: notification.TypeReminder3D, Sent: 3, Failed: 1},
		},
	}

	fields, err := summaryFields(report)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-02T08:00:00Z", fields["started_at"])
	assert.Equal(t, "2", fields["active_schedules"])
	assert.Equal(t, "3", fields["sent"])
	assert.Equal(t, "1", fields["failed"])
	assert.Equal(t, "2025-08-05", fields["ensured_exam_date"])
	assert.Contains(t, fields["sweeps"], `"notif_type":"REMINDER_3D"`)
	assert.NotContains(t, fields, "error")
}

func TestObserveRunToleratesUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	logger, hook := logtest.NewNullLogger()
	store := NewStore(rdb, logrus.NewEntry(logger))

	assert.NotPanics(t, func() {
		store.ObserveRun(context.Background(), &app.RunReport{})
	})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Failed to write run stats to redis", hook.LastEntry().Message)
}
