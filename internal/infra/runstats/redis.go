// Package runstats keeps workflow run counters and the latest run summary in Redis
// so operators can read them without querying the dispatch log.
package runstats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"exam_dispatch_engine/internal/app"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Connect parses url, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func RunKindOf(report *app.RunReport) string {
	if report.RetryOnly {
		return "retry"
	}
	return "workflow"
}

// LastRunKey holds a hash with the summary of the latest run of a kind.
func LastRunKey(kind string) string { return "exam:runs:" + kind + ":last" }

// RunCountKey counts runs of a kind.
func RunCountKey(kind string) string { return "exam:runs:" + kind + ":count" }

// TotalsKey is a hash of sent/failed/skipped counters across all runs.
const TotalsKey = "exam:dispatch:totals"

// Store is an app.RunObserver backed by Redis.
type Store struct {
	rdb    redis.Cmdable
	logger *logrus.Entry
}

func NewStore(rdb redis.Cmdable, logger *logrus.Entry) *Store {
	return &Store{rdb: rdb, logger: logger.WithField("component", "runstats")}
}

// ObserveRun writes the run summary. Redis errors are logged and never affect the run.
func (s *Store) ObserveRun(ctx context.Context, report *app.RunReport) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	kind := RunKindOf(report)
	fields, err := summaryFields(report)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode run summary")
		return
	}
	sent, failed, skipped := report.Totals()

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, LastRunKey(kind))
	pipe.HSet(ctx, LastRunKey(kind), fields)
	pipe.Incr(ctx, RunCountKey(kind))
	pipe.HIncrBy(ctx, TotalsKey, "sent", int64(sent))
	pipe.HIncrBy(ctx, TotalsKey, "failed", int64(failed))
	pipe.HIncrBy(ctx, TotalsKey, "skipped", int64(skipped))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to write run stats to redis")
	}
}

// LastRun returns the stored summary of the latest run of a kind.
func (s *Store) LastRun(ctx context.Context, kind string) (map[string]string, error) {
	res, err := s.rdb.HGetAll(ctx, LastRunKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read last %s run: %w", kind, err)
	}
	return res, nil
}

func summaryFields(report *app.RunReport) (map[string]any, error) {
	sweeps, err := json.Marshal(report.Sweeps)
	if err != nil {
		return nil, err
	}
	sent, failed, skipped := report.Totals()
	fields := map[string]any{
		"started_at":       report.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":      report.FinishedAt.UTC().Format(time.RFC3339),
		"active_schedules": strconv.Itoa(report.ActiveSchedules),
		"schedule_created": strconv.FormatBool(report.ScheduleCreated),
		"sent":             strconv.Itoa(sent),
		"failed":           strconv.Itoa(failed),
		"skipped":          strconv.Itoa(skipped),
		"sweeps":           string(sweeps),
	}
	if report.EnsuredExamDate != "" {
		fields["ensured_exam_date"] = report.EnsuredExamDate
	}
	if report.EnsureError != "" {
		fields["ensure_error"] = report.EnsureError
	}
	if report.Error != "" {
		fields["error"] = report.Error
	}
	return fields, nil
}
