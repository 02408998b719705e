// Package scheduler owns the in-memory reminder collection and keeps the
// persisted store and the delivery service consistent with it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/delivery"
	"github.com/starford/nudge/internal/models"
	"github.com/starford/nudge/internal/settings"
	"github.com/starford/nudge/internal/storage"
)

// minResumeDelay is the shortest wait used when re-arming a one-shot
// interval reminder whose time already elapsed.
const minResumeDelay = time.Second

// Flags is the key-value store backing the first-launch flag.
type Flags interface {
	Bool(key string) (bool, error)
	SetBool(key string, value bool) error
	Delete(key string) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator sets the reminder id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithReloadOnWrite makes every mutation start from the persisted
// collection instead of the in-memory one, so edits written by other
// processes are not overwritten.
func WithReloadOnWrite() Option {
	return func(s *Scheduler) { s.reloadOnWrite = true }
}

// WithExit replaces the function HardReset calls to terminate the process.
func WithExit(fn func(code int)) Option {
	return func(s *Scheduler) { s.exit = fn }
}

// Scheduler serializes every mutation of the reminder collection.
type Scheduler struct {
	store  storage.Provider
	svc    delivery.Service
	flags  Flags
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
	exit   func(code int)

	reloadOnWrite bool

	mu      sync.Mutex
	loaded  bool
	state   []models.Reminder
	armed   map[string]time.Time // id -> CreatedAt the schedule was armed for
	version uint64

	subMu    sync.Mutex
	subSeq   int
	subs     map[int]func([]models.Reminder)
	notified uint64
}

// New creates a Scheduler. The collection is loaded lazily on first use.
func New(store storage.Provider, svc delivery.Service, flags Flags, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		svc:    svc,
		flags:  flags,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
		exit:   os.Exit,
		armed:  make(map[string]time.Time),
		subs:   make(map[int]func([]models.Reminder)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh reloads the persisted collection, drops expired absolute
// reminders and returns the survivors. Save failures are logged.
func (s *Scheduler) Refresh() []models.Reminder {
	out, err := s.RefreshErr()
	if err != nil {
		s.logger.Warn("scheduler: refresh save failed", slog.String("error", err.Error()))
	}
	return out
}

// RefreshErr is Refresh with the save error returned to the caller.
// The survivors are returned even when saving them failed.
func (s *Scheduler) RefreshErr() ([]models.Reminder, error) {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed, err := s.refreshLocked()
	return cloneAll(s.state), err
}

// AddReminder creates, arms and persists a new reminder. A delivery error
// does not prevent persistence: the reminder is returned together with it.
func (s *Scheduler) AddReminder(ctx context.Context, title, body string, trigger models.Trigger) (models.Reminder, error) {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed = s.loadForWriteLocked()

	r, err := models.NewReminder(s.newID(), title, body, trigger, s.now())
	if err != nil {
		return models.Reminder{}, fmt.Errorf("scheduler: add: %w", err)
	}
	if s.indexLocked(r.ID) >= 0 {
		return models.Reminder{}, fmt.Errorf("scheduler: add: %w: id %s already in use", apperr.ErrConflict, r.ID)
	}

	armErr := s.armLocked(ctx, r, r.Trigger)

	s.state = slices.Insert(s.state, 0, r)
	changed = true

	var saveErr error
	if err := s.store.SaveAll(s.state); err != nil {
		saveErr = fmt.Errorf("scheduler: add %s: %w", r.ID, err)
	}
	return r.Clone(), errors.Join(saveErr, armErr)
}

// Reactivate resets the reminder's CreatedAt and re-arms it with the same
// trigger.
func (s *Scheduler) Reactivate(ctx context.Context, id string) (models.Reminder, error) {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed = s.loadForWriteLocked()

	i := s.indexLocked(id)
	if i < 0 {
		return models.Reminder{}, fmt.Errorf("scheduler: reactivate %s: %w", id, apperr.ErrNotFound)
	}

	s.svc.Disarm(id)
	delete(s.armed, id)

	updated := s.state[i].Reactivated(s.now())
	armErr := s.armLocked(ctx, updated, updated.Trigger)

	s.state[i] = updated
	changed = true

	var saveErr error
	if err := s.store.SaveAll(s.state); err != nil {
		saveErr = fmt.Errorf("scheduler: reactivate %s: %w", id, err)
	}
	return updated.Clone(), errors.Join(saveErr, armErr)
}

// Remove disarms and deletes the reminder. An unknown id is a no-op.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed = s.loadForWriteLocked()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.svc.Disarm(id)
	delete(s.armed, id)
	s.state = slices.Delete(s.state, i, i+1)
	changed = true

	if err := s.store.SaveAll(s.state); err != nil {
		return fmt.Errorf("scheduler: remove %s: %w", id, err)
	}
	return nil
}

// HandleDelivered is the delivery-receipt handler. A fired non-repeating
// reminder is removed from the collection; repeating ones are kept. A
// receipt whose CreatedAt no longer matches the reminder belongs to a
// schedule that was replaced by a reactivation and is ignored.
func (s *Scheduler) HandleDelivered(n delivery.Notification) {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed = s.loadForWriteLocked()

	id := n.ID
	i := s.indexLocked(id)
	if i < 0 || s.state[i].Trigger.Repeats() {
		return
	}
	if !s.state[i].CreatedAt.Equal(n.CreatedAt) {
		s.logger.Info("scheduler: stale delivery receipt ignored",
			slog.String("id", id),
			slog.Time("armed_created_at", n.CreatedAt),
			slog.Time("created_at", s.state[i].CreatedAt))
		return
	}
	delete(s.armed, id)
	s.state = slices.Delete(s.state, i, i+1)
	changed = true

	if err := s.store.SaveAll(s.state); err != nil {
		s.logger.Warn("scheduler: save after delivery failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
}

// HardReset disarms everything, clears the collection and the first-launch
// flag, then terminates the process. Failures are logged and never stop the
// reset.
func (s *Scheduler) HardReset() {
	s.mu.Lock()
	s.svc.DisarmAll()
	clear(s.armed)
	s.state = []models.Reminder{}
	s.loaded = true
	if err := s.store.SaveAll(s.state); err != nil {
		s.logger.Error("scheduler: reset: clear store", slog.String("error", err.Error()))
	}
	if err := s.flags.Delete(settings.LaunchedBefore); err != nil {
		s.logger.Error("scheduler: reset: clear first-launch flag", slog.String("error", err.Error()))
	}
	s.logger.Warn("scheduler: hard reset complete, exiting")
	s.unlockAndNotify(true)

	s.exit(0)
}

// Resume reconciles the delivery service with the persisted collection.
// Reminders that are new, or were reactivated since they were last armed,
// get armed; schedules for reminders that no longer exist are disarmed.
func (s *Scheduler) Resume(ctx context.Context) error {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed, err := s.refreshLocked()
	errs := []error{err}

	now := s.now()
	live := make(map[string]struct{}, len(s.state))
	for _, r := range s.state {
		live[r.ID] = struct{}{}
		if at, ok := s.armed[r.ID]; ok && at.Equal(r.CreatedAt) {
			continue
		}
		errs = append(errs, s.armLocked(ctx, r, resumeTrigger(r, now)))
	}
	for id := range s.armed {
		if _, ok := live[id]; !ok {
			s.svc.Disarm(id)
			delete(s.armed, id)
		}
	}
	return errors.Join(errs...)
}

// CurrentState returns a copy of the in-memory collection.
func (s *Scheduler) CurrentState() []models.Reminder {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed = s.ensureLoadedLocked()
	return cloneAll(s.state)
}

// Get returns one reminder by id.
func (s *Scheduler) Get(id string) (models.Reminder, error) {
	s.mu.Lock()
	var changed bool
	defer func() { s.unlockAndNotify(changed) }()

	changed = s.ensureLoadedLocked()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Reminder{}, fmt.Errorf("scheduler: get %s: %w", id, apperr.ErrNotFound)
	}
	return s.state[i].Clone(), nil
}

// CheckIfFirstLaunch reports whether onboarding has not been completed yet.
// A flag store error reads as a first launch.
func (s *Scheduler) CheckIfFirstLaunch() bool {
	launched, err := s.flags.Bool(settings.LaunchedBefore)
	if err != nil {
		s.logger.Warn("scheduler: read first-launch flag", slog.String("error", err.Error()))
		return true
	}
	return !launched
}

// FirstLaunchCompleted records that onboarding has been completed.
func (s *Scheduler) FirstLaunchCompleted() error {
	if err := s.flags.SetBool(settings.LaunchedBefore, true); err != nil {
		return fmt.Errorf("scheduler: first launch completed: %w", err)
	}
	return nil
}

// refreshLocked is the expiry sweep. It saves only when something was
// dropped and reports whether the in-memory state changed.
func (s *Scheduler) refreshLocked() (bool, error) {
	loaded := s.store.LoadAll()
	now := s.now()

	survivors := make([]models.Reminder, 0, len(loaded))
	for _, r := range loaded {
		if r.IsExpired(now) {
			s.logger.Info("scheduler: expired", slog.String("id", r.ID), slog.String("reminder", r.Describe()))
			continue
		}
		survivors = append(survivors, r)
	}

	var err error
	if len(survivors) != len(loaded) {
		if saveErr := s.store.SaveAll(survivors); saveErr != nil {
			err = fmt.Errorf("scheduler: refresh: %w", saveErr)
		}
	}

	changed := !s.loaded || !equalAll(s.state, survivors)
	s.state = survivors
	s.loaded = true
	return changed, err
}

func (s *Scheduler) ensureLoadedLocked() bool {
	if s.loaded {
		return false
	}
	changed, err := s.refreshLocked()
	if err != nil {
		s.logger.Warn("scheduler: initial load save failed", slog.String("error", err.Error()))
	}
	return changed
}

// loadForWriteLocked prepares the state for a mutation: a full reload when
// other processes may have written the store, the lazy first load otherwise.
func (s *Scheduler) loadForWriteLocked() bool {
	if !s.reloadOnWrite {
		return s.ensureLoadedLocked()
	}
	changed, err := s.refreshLocked()
	if err != nil {
		s.logger.Warn("scheduler: reload save failed", slog.String("error", err.Error()))
	}
	return changed
}

// armLocked arms r with the given trigger and records it as armed on
// success.
func (s *Scheduler) armLocked(ctx context.Context, r models.Reminder, trigger models.Trigger) error {
	if err := s.svc.Arm(ctx, r, trigger); err != nil {
		s.logger.Warn("scheduler: arm failed", slog.String("id", r.ID), slog.String("error", err.Error()))
		return fmt.Errorf("scheduler: arm %s: %w", r.ID, err)
	}
	s.armed[r.ID] = r.CreatedAt
	return nil
}

func (s *Scheduler) indexLocked(id string) int {
	return slices.IndexFunc(s.state, func(r models.Reminder) bool { return r.ID == id })
}

// resumeTrigger shortens a one-shot interval to the time left since
// CreatedAt. Repeating and absolute triggers are armed unchanged.
func resumeTrigger(r models.Reminder, now time.Time) models.Trigger {
	if r.Trigger.Interval == nil || r.Trigger.Interval.Repeats {
		return r.Trigger
	}
	left := r.CreatedAt.Add(r.Trigger.Interval.Duration()).Sub(now)
	if left < minResumeDelay {
		left = minResumeDelay
	}
	return models.AfterInterval(left, false)
}

func cloneAll(rs []models.Reminder) []models.Reminder {
	out := make([]models.Reminder, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

func equalAll(a, b []models.Reminder) bool {
	return slices.EqualFunc(a, b, models.Reminder.Equal)
}
