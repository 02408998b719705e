package api

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nudge/internal/models"
)

// CreateReminderRequest is the request body for creating a reminder.
// Exactly one of Interval or At must be set.
type CreateReminderRequest struct {
	Title    string     `json:"title" example:"Stretch" validate:"required"`
	Body     string     `json:"body" example:"Stand up and stretch" validate:"required"`
	Interval string     `json:"interval,omitempty" example:"45m"`
	Repeats  bool       `json:"repeats,omitempty"`
	At       *time.Time `json:"at,omitempty" example:"2026-10-17T09:00:00Z"`
}

// Validate implements validation.Validatable.
func (r CreateReminderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Body, validation.Required),
		validation.Field(&r.Interval,
			validation.When(r.At == nil, validation.Required.Error("interval or at is required")),
			validation.When(r.At != nil, validation.Empty.Error("interval and at are mutually exclusive")),
			validation.By(positiveDuration)),
		validation.Field(&r.Repeats,
			validation.When(r.At != nil, validation.Empty.Error("only interval reminders can repeat"))),
	)
}

// Trigger converts the validated request into a trigger.
func (r CreateReminderRequest) Trigger() models.Trigger {
	if r.At != nil {
		return models.At(*r.At)
	}
	d, _ := time.ParseDuration(r.Interval)
	return models.AfterInterval(d, r.Repeats)
}

func positiveDuration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("must be a duration such as 90s or 2h")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// ResetRequest is the request body for a hard reset.
type ResetRequest struct {
	Confirm bool `json:"confirm" example:"true" validate:"required"`
}

// ReminderDTO is the API representation of a reminder, laid out like the
// persisted record.
type ReminderDTO struct {
	ID              string     `json:"id" example:"0b7c..." validate:"required"`
	Title           string     `json:"title" example:"Stretch" validate:"required"`
	Body            string     `json:"body" example:"Stand up and stretch" validate:"required"`
	TriggerKind     string     `json:"triggerKind" example:"interval" validate:"required"`
	IntervalSeconds *float64   `json:"intervalSeconds,omitempty" example:"2700"`
	Repeats         *bool      `json:"repeats,omitempty"`
	FiresAt         *time.Time `json:"firesAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt" validate:"required"`
	Description     string     `json:"description" example:"Stretch (every 45m0s)"`
}

func toDTO(r models.Reminder) ReminderDTO {
	d := ReminderDTO{
		ID:          r.ID,
		Title:       r.Title,
		Body:        r.Body,
		TriggerKind: r.Trigger.Kind(),
		CreatedAt:   r.CreatedAt,
		Description: r.Describe(),
	}
	if iv := r.Trigger.Interval; iv != nil {
		secs, repeats := iv.Seconds, iv.Repeats
		d.IntervalSeconds, d.Repeats = &secs, &repeats
	}
	if ab := r.Trigger.Absolute; ab != nil {
		at := ab.FiresAt
		d.FiresAt = &at
	}
	return d
}

// ReminderListResponse wraps the reminder collection.
type ReminderListResponse struct {
	Reminders []ReminderDTO `json:"reminders" validate:"required"`
	Total     int           `json:"total" example:"3" validate:"required"`
}

// ReminderResponse is returned by create and reactivate. Warning is set when
// the reminder was saved but could not be armed.
type ReminderResponse struct {
	ReminderDTO
	Warning string `json:"warning,omitempty" example:"delivery failed: ..."`
}

// LaunchResponse reports whether onboarding is still pending.
type LaunchResponse struct {
	FirstLaunch bool `json:"firstLaunch"`
}
