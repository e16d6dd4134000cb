package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// TaskLinkMode controls what a failed task update does to the completion.
type TaskLinkMode string

const (
	// TaskLinkLenient logs the failure and keeps the XP and streak update.
	TaskLinkLenient TaskLinkMode = "lenient"

	// TaskLinkStrict aborts the whole unit of work.
	TaskLinkStrict TaskLinkMode = "strict"
)

// ParseTaskLinkMode parses "lenient" or "strict".
func ParseTaskLinkMode(s string) (TaskLinkMode, error) {
	switch m := TaskLinkMode(strings.ToLower(strings.TrimSpace(s))); m {
	case TaskLinkLenient, TaskLinkStrict:
		return m, nil
	default:
		return "", fmt.Errorf("unknown task link mode %q", s)
	}
}

// TaskProgressLinker adds a session's duration to its linked task.
type TaskProgressLinker struct {
	mode TaskLinkMode
	log  *logger.Logger
}

// NewTaskProgressLinker creates a linker; an unknown mode means lenient.
func NewTaskProgressLinker(mode TaskLinkMode, log *logger.Logger) *TaskProgressLinker {
	if mode != TaskLinkStrict {
		mode = TaskLinkLenient
	}
	if log == nil {
		log = logger.Default()
	}
	return &TaskProgressLinker{mode: mode, log: log}
}

// Link reports whether the task was updated. The update runs in a nested
// scope of uow, so in lenient mode a failure leaves the rest of the unit
// untouched and Link returns (false, nil).
func (l *TaskProgressLinker) Link(ctx context.Context, uow progress.UnitOfWork, s *session.CompletedSession) (bool, error) {
	if !s.HasTask() {
		return false, nil
	}

	err := uow.AddTaskTime(ctx, *s.TaskID, s.UserID, s.DurationSeconds)
	if err == nil {
		return true, nil
	}

	if l.mode == TaskLinkStrict {
		return false, fmt.Errorf("failed to link task %s: %w", *s.TaskID, err)
	}

	l.log.Warn("task link skipped",
		logger.UserID(s.UserID.String()),
		logger.SessionID(s.ID.String()),
		logger.TaskID(*s.TaskID),
		logger.Err(err),
	)
	return false, nil
}
