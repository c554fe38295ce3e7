package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const sweepScanCount = 200

// SoftLockSweepJob deletes process locks that carry no expiry. Locks taken through
// shared.SoftLocker always have a TTL, so a key without one was written by hand or by a
// crashed migration and would otherwise block its document forever.
type SoftLockSweepJob struct {
	Redis   redis.Cmdable
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSoftLockSweepJob constructs the job.
func NewSoftLockSweepJob(client redis.Cmdable, logger *slog.Logger, metrics *jobmetrics.Metrics) *SoftLockSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoftLockSweepJob{Redis: client, Logger: logger, Metrics: metrics}
}

// Handle executes the job.
func (j *SoftLockSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.Metrics.Track(TaskSoftLockSweep)
	removed, err := j.Sweep(ctx)
	if err == nil {
		j.Metrics.AddProcessed(TaskSoftLockSweep, removed)
		j.Logger.Info("soft lock sweep completed", slog.Int("removed", removed))
	}
	return tracker.End(err)
}

// Sweep scans every process lock and returns how many were removed.
func (j *SoftLockSweepJob) Sweep(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := j.Redis.Scan(ctx, cursor, shared.SoftLockPrefix+"*", sweepScanCount).Result()
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			ttl, err := j.Redis.TTL(ctx, key).Result()
			if err != nil {
				return removed, err
			}
			// -1 means the key exists without expiry; -2 means it is already gone.
			if ttl != -1 {
				continue
			}
			n, err := j.Redis.Del(ctx, key).Result()
			if err != nil {
				return removed, err
			}
			if n > 0 {
				j.Logger.Warn("removed soft lock without expiry", slog.String("key", key))
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
