package jobs

import (
	"time"

	"gorm.io/datatypes"
)

type patchKind int

const (
	patchProgress patchKind = iota + 1
	patchFailure
	patchSuccess
)

// Patch is one state change a handler reports for its run. The same value
// produces the column updates for the row and mutates the in-memory copy, so
// the two cannot drift apart.
type Patch struct {
	kind     patchKind
	Stage    string
	Progress int
	Message  string
	Error    string
	Result   datatypes.JSON
}

func ProgressPatch(stage string, pct int, msg string) Patch {
	return Patch{kind: patchProgress, Stage: stage, Progress: pct, Message: msg}
}

func FailurePatch(stage string, err error) Patch {
	p := Patch{kind: patchFailure, Stage: stage}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

func SuccessPatch(stage string, result datatypes.JSON) Patch {
	return Patch{kind: patchSuccess, Stage: stage, Progress: 100, Result: result}
}

// Status is the status the patch moves the run into; "" for progress.
func (p Patch) Status() string {
	switch p.kind {
	case patchFailure:
		return StatusFailed
	case patchSuccess:
		return StatusSucceeded
	default:
		return ""
	}
}

func (p Patch) Columns(now time.Time) map[string]interface{} {
	cols := map[string]interface{}{
		"stage":      p.Stage,
		"updated_at": now,
	}
	switch p.kind {
	case patchProgress:
		cols["progress"] = p.Progress
		cols["message"] = p.Message
		cols["heartbeat_at"] = now
	case patchFailure:
		cols["status"] = StatusFailed
		cols["message"] = ""
		cols["error"] = p.Error
		cols["last_error_at"] = now
		cols["locked_at"] = nil
	case patchSuccess:
		cols["status"] = StatusSucceeded
		cols["progress"] = 100
		cols["message"] = ""
		cols["error"] = ""
		cols["result"] = p.Result
		cols["locked_at"] = nil
		cols["heartbeat_at"] = now
	}
	return cols
}

func (p Patch) ApplyTo(j *JobRun, now time.Time) {
	if j == nil {
		return
	}
	j.Stage = p.Stage
	j.UpdatedAt = now
	switch p.kind {
	case patchProgress:
		j.Progress = p.Progress
		j.Message = p.Message
		j.HeartbeatAt = &now
	case patchFailure:
		j.Status = StatusFailed
		j.Message = ""
		j.Error = p.Error
		j.LastErrorAt = &now
		j.LockedAt = nil
	case patchSuccess:
		j.Status = StatusSucceeded
		j.Progress = 100
		j.Message = ""
		j.Error = ""
		j.Result = p.Result
		j.LockedAt = nil
		j.HeartbeatAt = &now
	}
}
