package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/phenoscope-backend/internal/jobs"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

const (
	EventJobQueued    = "job_queued"
	EventJobProgress  = "job_progress"
	EventJobDone      = "job_done"
	EventJobFailed    = "job_failed"
	EventJobCancelled = "job_cancelled"
)

// JobEvent is the wire shape published for every lifecycle transition.
type JobEvent struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	CohortID  string    `json:"cohort_id"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Progress  int       `json:"progress"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// redisJobNotifier fans job lifecycle events out over a redis pub/sub
// channel so pollers and dashboards can follow runs without hammering the
// jobs endpoint. Publish failures are logged and dropped; notifications are
// best effort and never fail a job.
type redisJobNotifier struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

func NewRedisJobNotifier(log *logger.Logger, addr, channel string) (jobs.Notifier, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "phenoscope.jobs"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisJobNotifier{
		log:     log.With("service", "RedisJobNotifier"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (n *redisJobNotifier) publish(ev JobEvent) {
	ev.At = time.Now().UTC()
	raw, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("Failed to marshal job event", "event", ev.Event, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("Failed to publish job event", "event", ev.Event, "job_id", ev.JobID, "error", err)
	}
}

func (n *redisJobNotifier) JobQueued(job *types.AssocJob) {
	n.publish(JobEvent{
		Event:    EventJobQueued,
		JobID:    job.ID.String(),
		CohortID: job.CohortID,
		Status:   types.JobStatusQueued,
	})
}

func (n *redisJobNotifier) JobProgress(job *types.AssocJob, stage string, pct int) {
	n.publish(JobEvent{
		Event:    EventJobProgress,
		JobID:    job.ID.String(),
		CohortID: job.CohortID,
		Status:   types.JobStatusRunning,
		Stage:    stage,
		Progress: pct,
	})
}

func (n *redisJobNotifier) JobDone(job *types.AssocJob) {
	n.publish(JobEvent{
		Event:    EventJobDone,
		JobID:    job.ID.String(),
		CohortID: job.CohortID,
		Status:   types.JobStatusSucceeded,
		Progress: 100,
	})
}

func (n *redisJobNotifier) JobFailed(job *types.AssocJob, stage string, kind string, msg string) {
	n.publish(JobEvent{
		Event:     EventJobFailed,
		JobID:     job.ID.String(),
		CohortID:  job.CohortID,
		Status:    types.JobStatusFailed,
		Stage:     stage,
		ErrorKind: kind,
		Error:     msg,
	})
}

func (n *redisJobNotifier) JobCancelled(job *types.AssocJob) {
	n.publish(JobEvent{
		Event:     EventJobCancelled,
		JobID:     job.ID.String(),
		CohortID:  job.CohortID,
		Status:    types.JobStatusCancelled,
		ErrorKind: job.ErrorKind,
	})
}

func (n *redisJobNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}
