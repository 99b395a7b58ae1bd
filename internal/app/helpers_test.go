package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"
	"exam_dispatch_engine/internal/domain/participant"
	"exam_dispatch_engine/internal/infra/memstore"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

var errProviderDown = errors.New("provider unavailable")

type fakeEmail struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]bool
	onSend func(ctx context.Context, to string)
}

func (f *fakeEmail) SendReminderEmail(ctx context.Context, to string, _ notification.ReminderParams) (notification.Receipt, error) {
	if f.onSend != nil {
		f.onSend(ctx, to)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to] {
		return notification.Receipt{}, errProviderDown
	}
	f.sent = append(f.sent, to)
	return notification.Receipt{ProviderRef: "email-" + to}, nil
}

func (f *fakeEmail) setFail(to string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo == nil {
		f.failTo = make(map[string]bool)
	}
	f.failTo[to] = fail
}

func (f *fakeEmail) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeMessaging struct {
	mu    sync.Mutex
	sent  []string
	texts []string
	panic bool
}

func (f *fakeMessaging) SendText(_ context.Context, to string, text string) (notification.Receipt, error) {
	if f.panic {
		panic("gateway client bug")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, text)
	return notification.Receipt{ProviderRef: "wa-" + to}, nil
}

func (f *fakeMessaging) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type recordingListener struct {
	mu      sync.Mutex
	entries []notification.LogEntry
}

func (l *recordingListener) OnDispatch(_ context.Context, entry *notification.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
}

type recordingObserver struct {
	reports []*RunReport
}

func (o *recordingObserver) ObserveRun(_ context.Context, report *RunReport) {
	o.reports = append(o.reports, report)
}

type fakeTelegram struct {
	chatIDs []int64
	texts   []string
	err     error
}

func (f *fakeTelegram) SendMessage(chatID int64, text string, _ *telebot.SendOptions) error {
	f.chatIDs = append(f.chatIDs, chatID)
	f.texts = append(f.texts, text)
	return f.err
}

type testEnv struct {
	schedules    *memstore.ScheduleStore
	participants *memstore.ParticipantStore
	dispatchLog  *memstore.DispatchLogStore
	email        *fakeEmail
	messaging    *fakeMessaging
	dispatcher   *Dispatcher
	driver       *WorkflowDriver
	now          time.Time
}

func testLogger() *logrus.Entry {
	logger, _ := logtest.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newTestEnv(t *testing.T, now time.Time, cfg DispatcherConfig) *testEnv {
	t.Helper()
	clock := FixedClock(now)
	env := &testEnv{
		schedules:    memstore.NewScheduleStore(time.UTC).WithClock(clock.Now),
		participants: memstore.NewParticipantStore(),
		dispatchLog:  memstore.NewDispatchLogStore(),
		email:        &fakeEmail{},
		messaging:    &fakeMessaging{},
		now:          now,
	}
	logger := testLogger()
	env.dispatcher = NewDispatcher(env.participants, env.schedules, env.dispatchLog, env.email, env.messaging, clock, cfg, logger)
	ensurer := NewScheduleEnsurer(env.schedules, time.UTC, logger)
	env.driver = NewWorkflowDriver(ensurer, env.schedules, env.dispatcher, time.UTC, clock, 2, logger)
	return env
}

func (e *testEnv) addSchedule(t *testing.T, date time.Time, status exam.Status) *exam.Schedule {
	t.Helper()
	sched := &exam.Schedule{ExamDate: date, Status: status, Recurring: true, AutoGenerateQuestions: true}
	require.NoError(t, e.schedules.Create(context.Background(), sched))
	return sched
}

func (e *testEnv) addParticipant(id, email, mobile string, status participant.Status) {
	e.participants.Add(&participant.Participant{
		ID:         id,
		Name:       "Student " + id,
		Email:      email,
		Mobile:     mobile,
		ClassLevel: 8,
		Status:     status,
	})
}

func (e *testEnv) schedule(t *testing.T, id string) *exam.Schedule {
	t.Helper()
	sched, err := e.schedules.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sched
}

func entriesByStatus(entries []notification.LogEntry, status notification.DispatchStatus) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
