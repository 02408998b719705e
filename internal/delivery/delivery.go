// Package delivery defines the contract nudge needs from a notification
// scheduler and ships an in-process implementation of it.
package delivery

import (
	"context"
	"time"

	"github.com/starford/nudge/internal/models"
)

// Service arms and disarms scheduled deliveries keyed by reminder id.
//
// Arm schedules r to fire on trigger, which may differ from r.Trigger when a
// schedule is resumed. It replaces any schedule already registered under
// r.ID and returns once the schedule is registered; it never waits for the
// delivery itself. Failures wrap apperr.ErrDelivery.
type Service interface {
	Arm(ctx context.Context, r models.Reminder, trigger models.Trigger) error
	// Disarm cancels pending deliveries. Unknown ids are ignored.
	Disarm(ids ...string)
	// DisarmAll cancels every pending delivery and forgets delivered ones.
	DisarmAll()
	// OnDelivered registers the receipt callback invoked after each firing.
	// The notification carries the CreatedAt of the reminder as it was armed,
	// so a receipt for a schedule that has since been replaced can be told
	// apart from a current one.
	OnDelivered(fn func(n Notification))
}

// Notification is what a Sink receives when a schedule fires.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Repeats   bool      `json:"repeats"`
	CreatedAt time.Time `json:"createdAt"`
	FiredAt   time.Time `json:"firedAt"`
}

// Nop accepts every request and never fires. Short-lived processes use it;
// the long-running daemon arms their reminders on its next reconcile.
type Nop struct{}

var _ Service = Nop{}

func (Nop) Arm(context.Context, models.Reminder, models.Trigger) error { return nil }

func (Nop) Disarm(...string) {}

func (Nop) DisarmAll() {}

func (Nop) OnDelivered(func(Notification)) {}
