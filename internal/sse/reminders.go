package sse

import (
	"context"
	"sync"

	"github.com/starford/nudge/internal/delivery"
	"github.com/starford/nudge/internal/models"
)

// Deliver implements delivery.Sink by broadcasting reminder.delivered.
func (b *Broker) Deliver(_ context.Context, n delivery.Notification) error {
	b.PublishReminderEvent("delivered", ReminderPayload{ID: n.ID, Title: n.Title, Body: n.Body})
	return nil
}

// Observer returns a state-change callback that diffs consecutive snapshots
// into reminder.created and reminder.removed events followed by a throttled
// reminders.changed.
func (b *Broker) Observer() func([]models.Reminder) {
	var mu sync.Mutex
	var prev map[string]models.Reminder

	return func(rs []models.Reminder) {
		mu.Lock()
		defer mu.Unlock()

		next := make(map[string]models.Reminder, len(rs))
		for _, r := range rs {
			next[r.ID] = r
			if _, ok := prev[r.ID]; !ok && prev != nil {
				b.PublishReminderEvent("created", ReminderPayload{ID: r.ID, Title: r.Title})
			}
		}
		for id, r := range prev {
			if _, ok := next[id]; !ok {
				b.PublishReminderEvent("removed", ReminderPayload{ID: id, Title: r.Title})
			}
		}
		prev = next
		b.PublishChanged(len(rs))
	}
}
