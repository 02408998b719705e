package api

import (
	"context"

	"github.com/starford/nudge/internal/models"
)

// Service is the scheduler surface the handlers depend on.
// *scheduler.Scheduler satisfies it.
type Service interface {
	Refresh() []models.Reminder
	Get(id string) (models.Reminder, error)
	AddReminder(ctx context.Context, title, body string, trigger models.Trigger) (models.Reminder, error)
	Reactivate(ctx context.Context, id string) (models.Reminder, error)
	Remove(id string) error
	CheckIfFirstLaunch() bool
	FirstLaunchCompleted() error
	HardReset()
}
