// Package models defines the domain types for nudge.
package models

import (
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nudge/internal/apperr"
)

// Trigger kinds as they appear in the persisted record layout.
const (
	TriggerKindInterval = "interval"
	TriggerKindAbsolute = "absolute"
)

// MaxIntervalSeconds is the longest interval a time.Duration can hold.
const MaxIntervalSeconds = float64(math.MaxInt64 / int64(time.Second))

// IntervalTrigger fires a fixed number of seconds after the reminder was
// created (or re-activated), optionally repeating forever.
type IntervalTrigger struct {
	Seconds float64 `json:"seconds"`
	Repeats bool    `json:"repeats"`
}

// Duration returns the interval as a time.Duration.
func (t IntervalTrigger) Duration() time.Duration {
	return time.Duration(t.Seconds * float64(time.Second))
}

// AbsoluteTrigger fires once at a calendar date and time.
type AbsoluteTrigger struct {
	FiresAt time.Time `json:"firesAt"`
}

// Trigger holds exactly one of Interval or Absolute.
type Trigger struct {
	Interval *IntervalTrigger `json:"interval,omitempty"`
	Absolute *AbsoluteTrigger `json:"absolute,omitempty"`
}

// AfterInterval builds an interval trigger.
func AfterInterval(d time.Duration, repeats bool) Trigger {
	return Trigger{Interval: &IntervalTrigger{Seconds: d.Seconds(), Repeats: repeats}}
}

// At builds an absolute trigger.
func At(t time.Time) Trigger {
	return Trigger{Absolute: &AbsoluteTrigger{FiresAt: t}}
}

// Validate reports ErrInvalidTrigger unless exactly one well-formed variant is set.
func (t Trigger) Validate() error {
	switch {
	case t.Interval != nil && t.Absolute != nil:
		return fmt.Errorf("%w: interval and absolute are mutually exclusive", apperr.ErrInvalidTrigger)
	case t.Interval == nil && t.Absolute == nil:
		return fmt.Errorf("%w: no trigger set", apperr.ErrInvalidTrigger)
	case t.Interval != nil:
		s := t.Interval.Seconds
		if !(s > 0) || math.IsInf(s, 1) {
			return fmt.Errorf("%w: interval must be a positive number of seconds, got %v", apperr.ErrInvalidTrigger, s)
		}
		if s > MaxIntervalSeconds {
			return fmt.Errorf("%w: interval of %v seconds exceeds the maximum of %v", apperr.ErrInvalidTrigger, s, MaxIntervalSeconds)
		}
	default:
		if t.Absolute.FiresAt.IsZero() {
			return fmt.Errorf("%w: fire time is required", apperr.ErrInvalidTrigger)
		}
	}
	return nil
}

// Kind returns TriggerKindInterval or TriggerKindAbsolute, or "" for an
// invalid trigger.
func (t Trigger) Kind() string {
	if t.Validate() != nil {
		return ""
	}
	if t.Interval != nil {
		return TriggerKindInterval
	}
	return TriggerKindAbsolute
}

// Repeats is true only for repeating interval triggers.
func (t Trigger) Repeats() bool {
	return t.Interval != nil && t.Interval.Repeats
}

// Equal compares trigger payloads.
func (t Trigger) Equal(o Trigger) bool {
	if (t.Interval == nil) != (o.Interval == nil) || (t.Absolute == nil) != (o.Absolute == nil) {
		return false
	}
	if t.Interval != nil && *t.Interval != *o.Interval {
		return false
	}
	if t.Absolute != nil && !t.Absolute.FiresAt.Equal(o.Absolute.FiresAt) {
		return false
	}
	return true
}

// Describe renders a short display string for the trigger.
func (t Trigger) Describe() string {
	switch t.Kind() {
	case TriggerKindInterval:
		d := t.Interval.Duration()
		if t.Interval.Repeats {
			return "every " + d.String()
		}
		return "once, " + d.String() + " after creation"
	case TriggerKindAbsolute:
		return "at " + t.Absolute.FiresAt.Format("2006-01-02 15:04 MST")
	}
	return "invalid trigger"
}

func (t Trigger) clone() Trigger {
	var c Trigger
	if t.Interval != nil {
		iv := *t.Interval
		c.Interval = &iv
	}
	if t.Absolute != nil {
		ab := *t.Absolute
		c.Absolute = &ab
	}
	return c
}

// Reminder is the persisted unit: what to say and when to say it.
type Reminder struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Trigger   Trigger   `json:"trigger"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewReminder constructs a validated reminder. The trigger is copied so the
// caller's value can't alias the reminder's.
func NewReminder(id, title, body string, trigger Trigger, createdAt time.Time) (Reminder, error) {
	r := Reminder{
		ID:        id,
		Title:     title,
		Body:      body,
		Trigger:   trigger.clone(),
		CreatedAt: createdAt,
	}
	if err := r.Validate(); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// Validate checks the trigger first, then the required fields.
func (r Reminder) Validate() error {
	if err := r.Trigger.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Body, validation.Required),
		validation.Field(&r.CreatedAt, validation.Required),
	)
}

// IsIntervalBased reports whether the reminder uses an interval trigger.
func (r Reminder) IsIntervalBased() bool {
	return r.Trigger.Interval != nil
}

// IsExpired is true iff the reminder has an absolute trigger strictly before
// now. Interval reminders never expire by calendar comparison.
func (r Reminder) IsExpired(now time.Time) bool {
	if r.IsIntervalBased() || r.Trigger.Absolute == nil {
		return false
	}
	return r.Trigger.Absolute.FiresAt.Before(now)
}

// Describe renders "title (trigger)" without any I/O.
func (r Reminder) Describe() string {
	return fmt.Sprintf("%s (%s)", r.Title, r.Trigger.Describe())
}

// Reactivated returns a copy with CreatedAt reset to now.
func (r Reminder) Reactivated(now time.Time) Reminder {
	c := r.Clone()
	c.CreatedAt = now
	return c
}

// Clone returns a deep copy.
func (r Reminder) Clone() Reminder {
	r.Trigger = r.Trigger.clone()
	return r
}

// Equal compares every persisted field.
func (r Reminder) Equal(o Reminder) bool {
	return r.ID == o.ID &&
		r.Title == o.Title &&
		r.Body == o.Body &&
		r.CreatedAt.Equal(o.CreatedAt) &&
		r.Trigger.Equal(o.Trigger)
}
