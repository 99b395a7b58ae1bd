package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"
	"exam_dispatch_engine/internal/domain/participant"
	"exam_dispatch_engine/internal/infra/worker"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes a dispatch sweep.
type DispatcherConfig struct {
	Concurrency            int           // participants processed in parallel
	BatchSize              int           // audience page size
	ChannelTimeout         time.Duration // upper bound for one channel call
	EmailRatePerSecond     float64       // 0 means unlimited
	MessagingRatePerSecond float64       // 0 means unlimited
	MaxAttempts            int
	ClaimStaleAfter        time.Duration
	ExamTitle              string
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ClaimStaleAfter <= 0 {
		c.ClaimStaleAfter = 10 * time.Minute
	}
	if c.ExamTitle == "" {
		c.ExamTitle = "Scholarship Exam"
	}
	return c
}

type attemptResult int

const (
	attemptSkipped attemptResult = iota
	attemptSent
	attemptFailed
	attemptError
)

// Dispatcher sends one notification type of one schedule to the whole active audience.
// Each (participant, channel) pair is claimed in the dispatch log before the channel is called,
// so a pair that already reached SENT is never sent again.
type Dispatcher struct {
	participants participant.Repository
	schedules    exam.Repository
	dispatchLog  notification.Repository
	email        notification.EmailSender
	messaging    notification.MessageSender
	limiters     map[notification.Channel]*rate.Limiter
	listeners    []DispatchListener
	clock        Clock
	cfg          DispatcherConfig
	logger       *logrus.Entry
}

func NewDispatcher(
	participants participant.Repository,
	schedules exam.Repository,
	dispatchLog notification.Repository,
	email notification.EmailSender,
	messaging notification.MessageSender,
	clock Clock,
	cfg DispatcherConfig,
	logger *logrus.Entry,
) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		participants: participants,
		schedules:    schedules,
		dispatchLog:  dispatchLog,
		email:        email,
		messaging:    messaging,
		limiters: map[notification.Channel]*rate.Limiter{
			notification.ChannelEmail:     newLimiter(cfg.EmailRatePerSecond),
			notification.ChannelMessaging: newLimiter(cfg.MessagingRatePerSecond),
		},
		clock:  clock,
		cfg:    cfg,
		logger: logger.WithField("component", "dispatcher"),
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// AddListener registers a listener for completed channel attempts. Not safe to call during a sweep.
func (d *Dispatcher) AddListener(l DispatchListener) {
	d.listeners = append(d.listeners, l)
}

func (d *Dispatcher) claimOptions() notification.ClaimOptions {
	return notification.ClaimOptions{MaxAttempts: d.cfg.MaxAttempts, StaleAfter: d.cfg.ClaimStaleAfter}
}

// Run sweeps the active audience for sched and nt.
// Cancelling ctx stops new participants from being started; participants already in
// progress finish their channel calls and log writes. An EXAM_DAY sweep moves the schedule
// to LIVE only after the whole audience has been processed.
func (d *Dispatcher) Run(ctx context.Context, sched *exam.Schedule, nt notification.Type) (*SweepReport, error) {
	report := &SweepReport{ScheduleID: sched.ID, ExamDate: exam.DateKey(sched.ExamDate), Type: nt}
	log := d.logger.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"exam_date":   report.ExamDate,
		"notif_type":  nt,
	})

	if nt != notification.TypeExamDay && sched.Status == exam.StatusScheduled {
		moved, err := d.schedules.TransitionStatus(ctx, sched.ID, []exam.Status{exam.StatusScheduled}, exam.StatusNotifying, d.clock.Now())
		if err != nil {
			log.WithError(err).Warn("Failed to mark schedule as NOTIFYING")
		} else if moved {
			log.Info("Schedule moved to NOTIFYING")
		}
	}

	log.Info("Starting dispatch sweep")
	dispatchCtx := context.WithoutCancel(ctx)
	pool := worker.NewPool(d.cfg.Concurrency)
	pool.Start()
	streamErr := participant.ForEachActive(ctx, d.participants, d.cfg.BatchSize, func(p *participant.Participant) error {
		return pool.Submit(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			report.add(d.dispatchParticipant(dispatchCtx, sched, nt, p))
		})
	})
	pool.Wait()

	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}
	if streamErr != nil {
		report.Interrupted = true
		report.Error = streamErr.Error()
		log.WithError(streamErr).WithField("participants", report.Participants).Warn("Dispatch sweep stopped before covering the audience")
		return report, fmt.Errorf("dispatch sweep for schedule %s: %w", sched.ID, streamErr)
	}

	if nt == notification.TypeExamDay {
		moved, err := d.schedules.TransitionStatus(ctx, sched.ID, exam.ActiveStatuses, exam.StatusLive, d.clock.Now())
		if err != nil {
			report.Error = err.Error()
			log.WithError(err).Error("Failed to move schedule to LIVE")
			return report, fmt.Errorf("failed to move schedule %s to LIVE: %w", sched.ID, err)
		}
		report.WentLive = moved
		if moved {
			log.Info("Schedule is LIVE")
		}
	}

	log.WithFields(logrus.Fields{
		"participants": report.Participants,
		"sent":         report.Sent,
		"failed":       report.Failed,
		"skipped":      report.Skipped,
		"errors":       report.Errors,
	}).Info("Dispatch sweep finished")
	return report, nil
}

// RetryFailed re-attempts FAILED entries of sched and nt that still have attempts left.
func (d *Dispatcher) RetryFailed(ctx context.Context, sched *exam.Schedule, nt notification.Type) (*SweepReport, error) {
	report := &SweepReport{ScheduleID: sched.ID, ExamDate: exam.DateKey(sched.ExamDate), Type: nt}
	log := d.logger.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"notif_type":  nt,
		"mode":        "retry",
	})

	failed, err := d.dispatchLog.ListFailed(ctx, sched.ID, nt, d.cfg.MaxAttempts)
	if err != nil {
		report.Error = err.Error()
		return report, fmt.Errorf("failed to list failed dispatches for schedule %s: %w", sched.ID, err)
	}
	if len(failed) == 0 {
		log.Debug("No failed dispatches to retry")
		return report, nil
	}
	log.WithField("entries", len(failed)).Info("Retrying failed dispatches")

	dispatchCtx := context.WithoutCancel(ctx)
	pool := worker.NewPool(d.cfg.Concurrency)
	pool.Start()
	var submitErr error
	for _, entry := range failed {
		entry := entry
		if submitErr = pool.Submit(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			report.add(d.retryEntry(dispatchCtx, sched, entry))
		}); submitErr != nil {
			break
		}
	}
	pool.Wait()

	if submitErr != nil {
		report.Interrupted = true
		report.Error = submitErr.Error()
		return report, fmt.Errorf("retry sweep for schedule %s: %w", sched.ID, submitErr)
	}
	return report, nil
}

func (d *Dispatcher) retryEntry(ctx context.Context, sched *exam.Schedule, entry *notification.LogEntry) participantResult {
	var res participantResult
	log := d.entryLogger(entry.Key)

	p, err := d.participants.GetByID(ctx, entry.Key.ParticipantID)
	if err != nil {
		if errors.Is(err, participant.ErrParticipantNotFound) {
			log.Warn("Participant no longer exists, not retrying")
			res.skipped++
			return res
		}
		log.WithError(err).Error("Failed to load participant for retry")
		res.errors++
		return res
	}
	if !p.IsActive() {
		log.Info("Participant no longer active, not retrying")
		res.skipped++
		return res
	}

	params := reminderParams(sched, entry.Key.Type, p)
	res.record(d.dispatchChannel(ctx, entry.Key, p, params))
	return res
}

func (d *Dispatcher) dispatchParticipant(ctx context.Context, sched *exam.Schedule, nt notification.Type, p *participant.Participant) participantResult {
	var res participantResult
	params := reminderParams(sched, nt, p)
	for _, ch := range notification.Channels {
		key := notification.Key{ScheduleID: sched.ID, ParticipantID: p.ID, Type: nt, Channel: ch}
		res.record(d.dispatchChannel(ctx, key, p, params))
	}
	return res
}

func (d *Dispatcher) dispatchChannel(ctx context.Context, key notification.Key, p *participant.Participant, params notification.ReminderParams) attemptResult {
	log := d.entryLogger(key)

	address := contactFor(p, key.Channel)
	if address == "" {
		log.Debug("Participant has no contact for channel, skipping")
		return attemptSkipped
	}

	// last read gate before the claim
	sent, err := d.dispatchLog.HasSent(ctx, key)
	if err != nil {
		log.WithError(err).Error("Failed to check dispatch log")
		return attemptError
	}
	if sent {
		return attemptSkipped
	}

	entry, err := d.dispatchLog.Claim(ctx, key, d.clock.Now(), d.claimOptions())
	if errors.Is(err, notification.ErrNotClaimed) {
		log.Debug("Dispatch already handled or held by another sweep")
		return attemptSkipped
	}
	if err != nil {
		log.WithError(err).Error("Failed to claim dispatch log entry")
		return attemptError
	}

	outcome := d.send(ctx, key.Channel, address, params)
	if err := d.dispatchLog.Complete(ctx, entry, outcome, d.clock.Now()); err != nil {
		log.WithError(err).WithField("outcome", outcome.Status).Error("Failed to record dispatch outcome")
		return attemptError
	}
	for _, l := range d.listeners {
		l.OnDispatch(ctx, entry)
	}

	if outcome.Status == notification.DispatchSent {
		log.WithField("provider_ref", outcome.ProviderRef).Debug("Notification sent")
		return attemptSent
	}
	log.WithField("reason", outcome.Reason).WithField("attempt", entry.Attempts).Warn("Notification failed")
	return attemptFailed
}

// send performs one channel call bounded by the channel timeout and rate limit.
// Any error or panic from the provider becomes a Failed outcome.
func (d *Dispatcher) send(ctx context.Context, ch notification.Channel, address string, params notification.ReminderParams) (outcome notification.Outcome) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			outcome = notification.Failed(fmt.Sprintf("channel panic: %v", r))
		}
	}()

	if lim := d.limiters[ch]; lim != nil {
		if err := lim.Wait(sendCtx); err != nil {
			return notification.Failed(fmt.Sprintf("rate limit wait: %v", err))
		}
	}

	var receipt notification.Receipt
	var err error
	switch ch {
	case notification.ChannelEmail:
		receipt, err = d.email.SendReminderEmail(sendCtx, address, params)
	case notification.ChannelMessaging:
		receipt, err = d.messaging.SendText(sendCtx, address, ReminderText(d.cfg.ExamTitle, params))
	default:
		return notification.Failed(fmt.Sprintf("unknown channel %s", ch))
	}
	if err != nil {
		return notification.Failed(err.Error())
	}
	return notification.Sent(receipt.ProviderRef)
}

func (d *Dispatcher) entryLogger(key notification.Key) *logrus.Entry {
	return d.logger.WithFields(logrus.Fields{
		"schedule_id":    key.ScheduleID,
		"participant_id": key.ParticipantID,
		"notif_type":     key.Type,
		"channel":        key.Channel,
	})
}

func (r *participantResult) record(a attemptResult) {
	switch a {
	case attemptSent:
		r.sent++
	case attemptFailed:
		r.failed++
	case attemptError:
		r.errors++
	default:
		r.skipped++
	}
}

func reminderParams(sched *exam.Schedule, nt notification.Type, p *participant.Participant) notification.ReminderParams {
	return notification.ReminderParams{
		Name:       p.Name,
		ClassLevel: p.ClassLevel,
		ExamDate:   sched.ExamDate,
		Type:       nt,
	}
}

func contactFor(p *participant.Participant, ch notification.Channel) string {
	switch ch {
	case notification.ChannelEmail:
		return p.Email
	case notification.ChannelMessaging:
		return p.Mobile
	default:
		return ""
	}
}
