// Package storage persists the reminder collection.
package storage

import "github.com/starford/nudge/internal/models"

// Provider is the durable, ordered reminder collection.
type Provider interface {
	// LoadAll returns the collection in stored order. Missing or unreadable
	// state yields an empty collection, never an error.
	LoadAll() []models.Reminder
	// SaveAll atomically replaces the whole collection.
	SaveAll(reminders []models.Reminder) error
}
