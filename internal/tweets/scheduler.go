package tweets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Locker grants at most one replica the right to run a scheduled job.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// unlockScript deletes the lock only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a compare-and-delete unlock.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		// Use a fresh context: the job's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return unlock, true, nil
}

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

type scheduledJob struct {
	name     string
	schedule cron.Schedule
	job      Job
}

// Scheduler runs jobs on cron schedules.
type Scheduler struct {
	logger  *slog.Logger
	locker  Locker
	lockTTL time.Duration
	jobs    []scheduledJob
}

// NewScheduler creates a Scheduler. locker may be nil for a single replica.
func NewScheduler(logger *slog.Logger, locker Locker) *Scheduler {
	return &Scheduler{logger: logger, locker: locker, lockTTL: 10 * time.Minute}
}

// Add registers job under a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: parse %q: %w", name, spec, err)
	}
	s.jobs = append(s.jobs, scheduledJob{name: name, schedule: schedule, job: job})
	return nil
}

// Run starts every job and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, j := range s.jobs {
		c.Schedule(j.schedule, cron.FuncJob(func() { s.RunOnce(ctx, j.name, j.job) }))
		s.logger.Info("job scheduled", slog.String("job", j.name))
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce runs job now, under the lock when one is configured. It reports
// whether the job ran.
func (s *Scheduler) RunOnce(ctx context.Context, name string, job Job) bool {
	logger := s.logger.With(slog.String("job", name))
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "compendium:job:"+name, s.lockTTL)
		if err != nil {
			logger.Error("job lock failed", slog.String("error", err.Error()))
			return false
		}
		if !ok {
			logger.Debug("job held by another replica")
			return false
		}
		defer unlock()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		logger.Error("job failed", slog.String("error", err.Error()))
		return true
	}
	logger.Info("job finished", slog.Duration("duration", time.Since(start)))
	return true
}
