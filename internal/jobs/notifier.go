package jobs

import (
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// Notifier receives lifecycle events for association jobs. Implementations
// must not block; the worker pool calls these inline.
type Notifier interface {
	JobQueued(job *types.AssocJob)
	JobProgress(job *types.AssocJob, stage string, pct int)
	JobDone(job *types.AssocJob)
	JobFailed(job *types.AssocJob, stage string, kind string, msg string)
	JobCancelled(job *types.AssocJob)
}

// NoopNotifier is used when no event channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) JobQueued(*types.AssocJob)                         {}
func (NoopNotifier) JobProgress(*types.AssocJob, string, int)          {}
func (NoopNotifier) JobDone(*types.AssocJob)                           {}
func (NoopNotifier) JobFailed(*types.AssocJob, string, string, string) {}
func (NoopNotifier) JobCancelled(*types.AssocJob)                      {}
