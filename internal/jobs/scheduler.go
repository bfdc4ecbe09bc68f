package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/pkg/apperror"
	"github.com/timebank/timebank-api/internal/pkg/logger"
	"github.com/timebank/timebank-api/internal/pkg/metrics"
)

// Job names.
const (
	JobAutoRelease = "auto-release"
	JobReconcile   = "reconcile"
	JobCleanup     = "cleanup-idempotency"
)

// TriggerChannel carries job names published for asynchronous runs.
const TriggerChannel = "ledger:jobs:trigger"

const (
	leasePrefix     = "ledger:jobs:lease:"
	defaultJobLimit = 10 * time.Minute
)

var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Summary is the JSON-friendly outcome of a job run.
type Summary map[string]any

// Job is a named periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) (Summary, error)
}

// SweepJob wraps a sweeper.
func SweepJob(s *Sweeper, schedule string) Job {
	return Job{
		Name:     JobAutoRelease,
		Schedule: schedule,
		Run: func(ctx context.Context) (Summary, error) {
			report, err := s.Sweep(ctx)
			if err != nil {
				return nil, err
			}
			return Summary{
				"scanned":        report.Scanned,
				"released_count": report.Released,
				"skipped":        report.Skipped,
				"failed":         report.Failed,
			}, nil
		},
	}
}

// ReconcileJob wraps a reconciler.
func ReconcileJob(r *Reconciler, schedule string) Job {
	return Job{
		Name:     JobReconcile,
		Schedule: schedule,
		Run: func(ctx context.Context) (Summary, error) {
			report, err := r.Reconcile(ctx)
			if err != nil {
				return nil, err
			}
			return Summary{
				"run_id":            report.RunID,
				"circulating_total": report.CirculatingTotal,
				"issued_total":      report.IssuedTotal,
				"drift":             report.Drift,
				"anomalies":         report.Anomalies,
			}, nil
		},
	}
}

// CleanupJob wraps a retention cleaner.
func CleanupJob(c *Cleaner, schedule string) Job {
	return Job{
		Name:     JobCleanup,
		Schedule: schedule,
		Run: func(ctx context.Context) (Summary, error) {
			report, err := c.Clean(ctx)
			if err != nil {
				return nil, err
			}
			return Summary{"deleted_count": report.Deleted}, nil
		},
	}
}

// Runner executes jobs on demand, on their schedules, and on published triggers.
// Scheduled and triggered runs hold a Redis lease so only one instance runs a job at a time.
type Runner struct {
	jobs  map[string]Job
	redis *redis.Client

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRunner creates a runner. redisClient may be nil for a single instance.
func NewRunner(redisClient *redis.Client, jobs ...Job) *Runner {
	r := &Runner{
		jobs:  make(map[string]Job, len(jobs)),
		redis: redisClient,
	}
	for _, j := range jobs {
		if j.Timeout <= 0 {
			j.Timeout = defaultJobLimit
		}
		r.jobs[j.Name] = j
	}
	return r
}

// Names lists registered jobs in order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a job immediately.
func (r *Runner) Run(ctx context.Context, name string) (Summary, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, apperror.Newf(apperror.KindNotFound, "unknown job %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	l := logger.ForJob(name)
	start := time.Now()
	summary, err := job.Run(ctx)
	elapsed := time.Since(start)
	metrics.RecordJobRun(name, elapsed, err == nil)

	if err != nil {
		l.Error().Err(err).Dur("duration", elapsed).Msg("Job failed")
		return nil, err
	}
	l.Info().Dur("duration", elapsed).Interface("summary", summary).Msg("Job finished")
	return summary, nil
}

// Trigger asks a worker to run the job asynchronously.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	if _, ok := r.jobs[name]; !ok {
		return apperror.Newf(apperror.KindNotFound, "unknown job %q", name)
	}
	if r.redis == nil {
		return apperror.New(apperror.KindInvalidState, "asynchronous triggers need redis")
	}
	return r.redis.Publish(ctx, TriggerChannel, name).Err()
}

// runLeased runs the job if this instance wins the lease. It reports whether it ran.
func (r *Runner) runLeased(ctx context.Context, name string) bool {
	job, ok := r.jobs[name]
	if !ok {
		log.Warn().Str("job", name).Msg("Ignoring unknown job")
		return false
	}

	if r.redis != nil {
		key := leasePrefix + name
		token := uuid.NewString()
		acquired, err := r.redis.SetNX(ctx, key, token, job.Timeout).Result()
		if err != nil {
			log.Error().Err(err).Str("job", name).Msg("Failed to acquire job lease")
			return false
		}
		if !acquired {
			log.Debug().Str("job", name).Msg("Job lease held elsewhere, skipping")
			return false
		}
		defer func() {
			if err := releaseLease.Run(context.WithoutCancel(ctx), r.redis, []string{key}, token).Err(); err != nil {
				log.Warn().Err(err).Str("job", name).Msg("Failed to release job lease")
			}
		}()
	}

	_, _ = r.Run(ctx, name)
	return true
}

// Start schedules every job with a schedule. Stop with the returned function.
func (r *Runner) Start(ctx context.Context) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil, fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{l: log.With().Str("component", "scheduler").Logger()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, name := range r.Names() {
		name := name
		job := r.jobs[name]
		if job.Schedule == "" {
			continue
		}
		if _, err := c.AddFunc(job.Schedule, func() { r.runLeased(ctx, name) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, job.Schedule, err)
		}
		log.Info().Str("job", name).Str("schedule", job.Schedule).Msg("Job scheduled")
	}

	c.Start()
	r.cron = c

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		<-c.Stop().Done()
		r.cron = nil
	}, nil
}

// ListenTriggers runs jobs named on TriggerChannel until ctx is done.
func (r *Runner) ListenTriggers(ctx context.Context) {
	if r.redis == nil {
		return
	}

	pubsub := r.redis.Subscribe(ctx, TriggerChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			log.Info().Str("job", msg.Payload).Msg("Job triggered")
			go r.runLeased(ctx, msg.Payload)
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
