package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/repos"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// terminalStatuses guards every lifecycle write: once a row reaches one of
// these it is never transitioned again, no matter which goroutine reports
// later.
var terminalStatuses = []string{
	types.JobStatusSucceeded,
	types.JobStatusFailed,
	types.JobStatusCancelled,
}

// Execution is the handle a running job reports through. It wraps the job
// row, the repository and the notifier, and is the only sanctioned way for
// pipeline code to record progress or terminate a run. All writes go through
// UpdateFieldsUnlessStatus so a concurrent cancel always wins.
type Execution struct {
	Ctx    context.Context
	Job    *types.AssocJob
	Repo   repos.AssocJobRepo
	Notify Notifier
}

func NewExecution(ctx context.Context, job *types.AssocJob, repo repos.AssocJobRepo, notify Notifier) *Execution {
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &Execution{
		Ctx:    ctx,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
}

// Progress publishes a non-terminal stage update. Rejected writes (the job
// was cancelled underneath us) are silent; the run context is cancelled
// separately and the pipeline notices at its next checkpoint.
func (e *Execution) Progress(stage string, pct int) {
	if e == nil || e.Job == nil || e.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	ok, _ := e.Repo.UpdateFieldsUnlessStatus(e.Ctx, nil, e.Job.ID, terminalStatuses, map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"heartbeat_at": now,
	})
	if !ok {
		return
	}
	e.Job.Stage = stage
	e.Job.Progress = pct
	e.Job.HeartbeatAt = &now
	e.Notify.JobProgress(e.Job, stage, pct)
}

// Succeed marks the run terminally succeeded and persists the serialized
// result.
func (e *Execution) Succeed(result *types.ApproximationResult) {
	if e == nil || e.Job == nil || e.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	// Terminal writes use a fresh context: the run context may already be
	// expired and the row must still be updated.
	ok, _ := e.Repo.UpdateFieldsUnlessStatus(context.Background(), nil, e.Job.ID, terminalStatuses, map[string]interface{}{
		"status":      types.JobStatusSucceeded,
		"stage":       "done",
		"progress":    100,
		"error":       "",
		"error_kind":  "",
		"result":      res,
		"finished_at": now,
	})
	if !ok {
		return
	}
	e.Job.Status = types.JobStatusSucceeded
	e.Job.Stage = "done"
	e.Job.Progress = 100
	e.Job.Error = ""
	e.Job.ErrorKind = ""
	e.Job.Result = res
	e.Job.FinishedAt = &now
	e.Notify.JobDone(e.Job)
}

// Fail terminates the run with an error. Errors carrying the cancelled kind
// are routed to the cancelled status instead of failed so a cancel observed
// inside the pipeline and a cancel raced by the coordinator land in the same
// state.
func (e *Execution) Fail(stage string, err error) {
	if e == nil || e.Job == nil || e.Job.ID == uuid.Nil {
		return
	}
	kind := apperr.KindOf(err)
	if kind == apperr.KindCancelled {
		e.MarkCancelled()
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ok, _ := e.Repo.UpdateFieldsUnlessStatus(context.Background(), nil, e.Job.ID, terminalStatuses, map[string]interface{}{
		"status":      types.JobStatusFailed,
		"stage":       stage,
		"error":       msg,
		"error_kind":  string(kind),
		"finished_at": now,
	})
	if !ok {
		return
	}
	e.Job.Status = types.JobStatusFailed
	e.Job.Stage = stage
	e.Job.Error = msg
	e.Job.ErrorKind = string(kind)
	e.Job.FinishedAt = &now
	e.Notify.JobFailed(e.Job, stage, string(kind), msg)
}

// MarkCancelled records the cancelled terminal status. Uses a background
// context for the write because the run context is usually already
// cancelled by the time this runs.
func (e *Execution) MarkCancelled() {
	if e == nil || e.Job == nil || e.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	ok, _ := e.Repo.UpdateFieldsUnlessStatus(context.Background(), nil, e.Job.ID, terminalStatuses, map[string]interface{}{
		"status":      types.JobStatusCancelled,
		"error":       "job cancelled",
		"error_kind":  string(apperr.KindCancelled),
		"finished_at": now,
	})
	if !ok {
		return
	}
	e.Job.Status = types.JobStatusCancelled
	e.Job.Error = "job cancelled"
	e.Job.ErrorKind = string(apperr.KindCancelled)
	e.Job.FinishedAt = &now
	e.Notify.JobCancelled(e.Job)
}
