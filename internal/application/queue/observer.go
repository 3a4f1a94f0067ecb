package queue

import (
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// Observer receives task lifecycle notifications, e.g. for metrics
type Observer interface {
	TaskEnqueued(taskType entity.TaskType)
	TaskCompleted(taskType entity.TaskType, duration time.Duration)
	TaskRetried(taskType entity.TaskType)
	TaskDeadLettered(taskType entity.TaskType)
	TaskFailed(taskType entity.TaskType)
}

type noopObserver struct{}

func (noopObserver) TaskEnqueued(entity.TaskType)                 {}
func (noopObserver) TaskCompleted(entity.TaskType, time.Duration) {}
func (noopObserver) TaskRetried(entity.TaskType)                  {}
func (noopObserver) TaskDeadLettered(entity.TaskType)             {}
func (noopObserver) TaskFailed(entity.TaskType)                   {}
