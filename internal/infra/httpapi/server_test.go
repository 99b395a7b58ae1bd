package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exam_dispatch_engine/internal/app"
	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct {
	schedules []*exam.Schedule
	stats     *app.ScheduleStats
	statsErr  error
	runErr    error
	runs      int
	retries   int
	runCtxErr error
	// when set, TriggerRun signals started and blocks until its context ends
	started   chan struct{}
}

func (f *fakeOps) ListActiveSchedules(context.Context) ([]*exam.Schedule, error) {
	return f.schedules, nil
}

func (f *fakeOps) DispatchStats(_ context.Context, id string) (*app.ScheduleStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeOps) TriggerRun(ctx context.Context) (*app.RunReport, error) {
	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		return &app.RunReport{}, ctx.Err()
	}
	f.runs++
	f.runCtxErr = ctx.Err()
	return &app.RunReport{ActiveSchedules: 1}, f.runErr
}

func (f *fakeOps) TriggerRetry(context.Context) (*app.RunReport, error) {
	f.retries++
	return &app.RunReport{RetryOnly: true}, nil
}

func newTestServer(ops Ops, token string) http.Handler {
	return newTestServerWithBase(context.Background(), ops, token)
}

func newTestServerWithBase(base context.Context, ops Ops, token string) http.Handler {
	logger, _ := logtest.NewNullLogger()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) })
	return NewServer(base, ops, metrics, token, time.Minute, logrus.NewEntry(logger)).Routes()
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(&fakeOps{}, "")

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestListSchedules(t *testing.T) {
	started := time.Date(2025, time.June, 30, 8, 0, 0, 0, time.UTC)
	sched := &exam.Schedule{ID: "s1", ExamDate: time.Date(2025, time.July, 5, 0, 0, 0, 0, time.UTC), Status: exam.StatusNotifying, Recurring: true}
	sched.NotificationsStartedAt.Time = started
	sched.NotificationsStartedAt.Valid = true
	h := newTestServer(&fakeOps{schedules: []*exam.Schedule{sched}}, "")

	rec := do(t, h, http.MethodGet, "/api/v1/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Schedules []scheduleView `json:"schedules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Schedules, 1)
	assert.Equal(t, "2025-07-05", body.Schedules[0].ExamDate)
	assert.Equal(t, "NOTIFYING", body.Schedules[0].Status)
	require.NotNil(t, body.Schedules[0].NotificationsStartedAt)
	assert.True(t, started.Equal(*body.Schedules[0].NotificationsStartedAt))
}

func TestDispatchStats(t *testing.T) {
	sched := &exam.Schedule{ID: "s1", ExamDate: time.Date(2025, time.July, 5, 0, 0, 0, 0, time.UTC), Status: exam.StatusLive}
	ops := &fakeOps{stats: &app.ScheduleStats{
		Schedule: sched,
		Counts: []notification.StatusCount{
			{Type: notification.TypeExamDay, Channel: notification.ChannelEmail, Status: notification.DispatchSent, Count: 12},
		},
	}}
	h := newTestServer(ops, "")

	rec := do(t, h, http.MethodGet, "/api/v1/schedules/s1/dispatch-stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"schedule": {"id": "s1", "exam_date": "2025-07-05", "status": "LIVE", "is_recurring": false, "auto_generate_questions": false},
		"counts": [{"notif_type": "EXAM_DAY", "channel": "EMAIL", "status": "SENT", "count": 12}]
	}`, rec.Body.String())

	ops.statsErr = exam.ErrScheduleNotFound
	rec = do(t, h, http.MethodGet, "/api/v1/schedules/nope/dispatch-stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ops.statsErr = errors.New("connection reset")
	rec = do(t, h, http.MethodGet, "/api/v1/schedules/s1/dispatch-stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerEndpoints(t *testing.T) {
	ops := &fakeOps{}
	h := newTestServer(ops, "secret")

	rec := do(t, h, http.MethodPost, "/api/v1/workflow/run", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/workflow/run", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ops.runs)

	rec = do(t, h, http.MethodPost, "/api/v1/workflow/run", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ops.runs)
	assert.NoError(t, ops.runCtxErr)

	var report app.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.ActiveSchedules)

	rec = do(t, h, http.MethodPost, "/api/v1/workflow/retry", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ops.retries)

	ops.runErr = errors.New("failed to list active schedules")
	rec = do(t, h, http.MethodPost, "/api/v1/workflow/run", "secret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to list active schedules")
}

func TestTriggerWithoutTokenConfigured(t *testing.T) {
	ops := &fakeOps{}
	h := newTestServer(ops, "")

	rec := do(t, h, http.MethodPost, "/api/v1/workflow/run", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ops.runs)
}

func TestTriggerCancelledWithBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	ops := &fakeOps{started: make(chan struct{})}
	h := newTestServerWithBase(base, ops, "")

	recs := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		recs <- do(t, h, http.MethodPost, "/api/v1/workflow/run", "")
	}()
	<-ops.started
	cancel()

	select {
	case rec := <-recs:
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), context.Canceled.Error())
	case <-time.After(5 * time.Second):
		t.Fatal("manual run kept going after the base context was cancelled")
	}
}
