package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exam_dispatch_engine/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Workflow is the part of the workflow driver the cron jobs trigger.
type Workflow interface {
	RunWorkflow(ctx context.Context, now time.Time) (*app.RunReport, error)
	RetryFailed(ctx context.Context, now time.Time) (*app.RunReport, error)
}

// WorkflowScheduler triggers the daily workflow and the failed dispatch retry on cron specs.
type WorkflowScheduler struct {
	cronEngine       *cron.Cron
	workflow         Workflow
	clock            app.Clock
	logger           *logrus.Entry
	cronSpecWorkflow string
	cronSpecRetry    string
	timeout          time.Duration

	// runs derive from baseCtx; Stop cancels it
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
}

func NewWorkflowScheduler(
	workflow Workflow,
	clock app.Clock,
	loc *time.Location,
	logger *logrus.Entry,
	cronSpecWorkflow string, // e.g. "0 8 * * *" (08:00 daily)
	cronSpecRetry string, // e.g. "*/30 * * * *"
	timeout time.Duration,
) *WorkflowScheduler {
	if loc == nil {
		loc = time.Local
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &WorkflowScheduler{
		cronEngine:       cron.New(cron.WithLocation(loc)),
		workflow:         workflow,
		clock:            clock,
		logger:           logger.WithField("component", "scheduler"),
		cronSpecWorkflow: cronSpecWorkflow,
		cronSpecRetry:    cronSpecRetry,
		timeout:          timeout,
		baseCtx:          baseCtx,
		cancel:           cancel,
		running:          make(map[string]bool),
	}
}

// Start registers both jobs and starts the cron engine.
func (s *WorkflowScheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.cronSpecWorkflow, func() {
		s.runJob("workflow", s.workflow.RunWorkflow)
	}); err != nil {
		return fmt.Errorf("could not add workflow cron job %q: %w", s.cronSpecWorkflow, err)
	}

	if _, err := s.cronEngine.AddFunc(s.cronSpecRetry, func() {
		s.runJob("retry", s.workflow.RetryFailed)
	}); err != nil {
		return fmt.Errorf("could not add retry cron job %q: %w", s.cronSpecRetry, err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"workflow_spec": s.cronSpecWorkflow,
		"retry_spec":    s.cronSpecRetry,
	}).Info("Workflow scheduler started")
	return nil
}

// runJob skips a tick while the previous run of the same job is still going.
func (s *WorkflowScheduler) runJob(name string, fn func(context.Context, time.Time) (*app.RunReport, error)) {
	log := s.logger.WithField("job", name)
	if !s.acquire(name) {
		log.Warn("Previous run still in progress, skipping this tick")
		return
	}
	defer s.release(name)

	log.Info("Cron job triggered")
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()

	report, err := fn(ctx, s.clock.Now())
	if err != nil {
		log.WithError(err).Error("Cron job failed")
		return
	}
	sent, failed, skipped := report.Totals()
	log.WithFields(logrus.Fields{"sent": sent, "failed": failed, "skipped": skipped}).Info("Cron job completed")
}

func (s *WorkflowScheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *WorkflowScheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

// Stop cancels in-flight runs, so sweeps stop taking new participants, then waits for them to return.
func (s *WorkflowScheduler) Stop() {
	s.logger.Info("Stopping workflow scheduler...")
	s.cancel()
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Workflow scheduler gracefully stopped")
}
