// Package testutil provides shared test helpers for stores, flag databases
// and delivery fakes.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/nudge/internal/delivery"
	"github.com/starford/nudge/internal/models"
	"github.com/starford/nudge/internal/settings"
	"github.com/starford/nudge/internal/storage"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestStore creates a reminders file provider inside a temporary directory.
func TestStore(t *testing.T) *storage.FS {
	t.Helper()
	store, err := storage.NewFS(filepath.Join(t.TempDir(), "reminders.json"), DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestSettings creates a temporary SQLite settings database that is
// automatically closed.
func TestSettings(t *testing.T) *settings.DB {
	t.Helper()
	db, err := settings.Open(filepath.Join(t.TempDir(), "nudge-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Arm is one recorded Arm call.
type Arm struct {
	ID        string
	Title     string
	Body      string
	CreatedAt time.Time
	Trigger   models.Trigger
}

// FakeDelivery is a delivery.Service that records calls instead of
// scheduling anything.
type FakeDelivery struct {
	mu          sync.Mutex
	ArmErr      error
	Arms        []Arm
	Disarms     []string
	DisarmAlls  int
	onDelivered func(n delivery.Notification)
}

var _ delivery.Service = (*FakeDelivery)(nil)

// Arm implements delivery.Service.
func (f *FakeDelivery) Arm(_ context.Context, r models.Reminder, trigger models.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Arms = append(f.Arms, Arm{ID: r.ID, Title: r.Title, Body: r.Body, CreatedAt: r.CreatedAt, Trigger: trigger})
	return f.ArmErr
}

// Disarm implements delivery.Service.
func (f *FakeDelivery) Disarm(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Disarms = append(f.Disarms, ids...)
}

// DisarmAll implements delivery.Service.
func (f *FakeDelivery) DisarmAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DisarmAlls++
}

// OnDelivered implements delivery.Service.
func (f *FakeDelivery) OnDelivered(fn func(n delivery.Notification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDelivered = fn
}

// Fire simulates a delivery receipt for the most recent Arm of id.
func (f *FakeDelivery) Fire(id string) {
	f.mu.Lock()
	n := delivery.Notification{ID: id}
	for _, a := range f.Arms {
		if a.ID == id {
			n = delivery.Notification{
				ID:        a.ID,
				Title:     a.Title,
				Body:      a.Body,
				Repeats:   a.Trigger.Repeats(),
				CreatedAt: a.CreatedAt,
			}
		}
	}
	f.mu.Unlock()
	f.Receipt(n)
}

// Receipt hands n to the registered receipt callback as-is.
func (f *FakeDelivery) Receipt(n delivery.Notification) {
	f.mu.Lock()
	cb := f.onDelivered
	f.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}

// ArmedIDs returns the ids passed to Arm, in call order.
func (f *FakeDelivery) ArmedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.Arms))
	for i, a := range f.Arms {
		ids[i] = a.ID
	}
	return ids
}

// Reset forgets every recorded call.
func (f *FakeDelivery) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Arms = nil
	f.Disarms = nil
	f.DisarmAlls = 0
}

// CountingStore counts saves on a wrapped storage.Provider and can make them fail.
type CountingStore struct {
	storage.Provider
	mu      sync.Mutex
	SaveErr error
	Saves   int
}

// SaveAll implements storage.Provider.
func (s *CountingStore) SaveAll(rs []models.Reminder) error {
	s.mu.Lock()
	s.Saves++
	err := s.SaveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Provider.SaveAll(rs)
}

// SaveCount returns how many times SaveAll was called.
func (s *CountingStore) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Saves
}
