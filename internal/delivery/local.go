package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/models"
)

// DefaultMinRepeatInterval is the shortest interval a repeating trigger may use.
const DefaultMinRepeatInterval = 60 * time.Second

const sinkTimeout = 30 * time.Second

type schedule struct {
	gen     uint64
	note    Notification
	trigger models.Trigger
	timer   *time.Timer
}

// Local is an in-process Service built on time.AfterFunc. Schedules live
// only as long as the process; callers re-arm on startup.
type Local struct {
	sink      Sink
	logger    *slog.Logger
	now       func() time.Time
	minRepeat time.Duration

	mu          sync.Mutex
	seq         uint64
	pending     map[string]*schedule
	delivered   map[string]time.Time
	onDelivered func(n Notification)
}

var _ Service = (*Local)(nil)

// LocalOption configures a Local service.
type LocalOption func(*Local)

// WithMinRepeatInterval overrides DefaultMinRepeatInterval.
func WithMinRepeatInterval(d time.Duration) LocalOption {
	return func(l *Local) { l.minRepeat = d }
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// WithClock sets the time source used for absolute triggers.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// NewLocal creates a Local service delivering to sink.
func NewLocal(sink Sink, opts ...LocalOption) *Local {
	l := &Local{
		sink:      sink,
		logger:    slog.Default(),
		now:       time.Now,
		minRepeat: DefaultMinRepeatInterval,
		pending:   make(map[string]*schedule),
		delivered: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Arm implements Service.
func (l *Local) Arm(ctx context.Context, r models.Reminder, trigger models.Trigger) error {
	id := r.ID
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: arm %s: %w", apperr.ErrDelivery, id, err)
	}
	if err := trigger.Validate(); err != nil {
		return fmt.Errorf("%w: arm %s: %w", apperr.ErrDelivery, id, err)
	}

	var wait time.Duration
	switch trigger.Kind() {
	case models.TriggerKindInterval:
		wait = trigger.Interval.Duration()
		if trigger.Interval.Repeats && wait < l.minRepeat {
			return fmt.Errorf("%w: arm %s: repeating interval must be at least %s, got %s",
				apperr.ErrDelivery, id, l.minRepeat, wait)
		}
	case models.TriggerKindAbsolute:
		wait = trigger.Absolute.FiresAt.Sub(l.now())
		if wait < 0 {
			return fmt.Errorf("%w: arm %s: fire time %s already passed",
				apperr.ErrDelivery, id, trigger.Absolute.FiresAt.Format(time.RFC3339))
		}
	}

	note := Notification{
		ID:        id,
		Title:     r.Title,
		Body:      r.Body,
		Repeats:   trigger.Repeats(),
		CreatedAt: r.CreatedAt,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelLocked(id)
	l.seq++
	gen := l.seq
	s := &schedule{
		gen:     gen,
		note:    note,
		trigger: trigger,
	}
	s.timer = time.AfterFunc(wait, func() { l.fire(id, gen) })
	l.pending[id] = s
	return nil
}

// Disarm implements Service.
func (l *Local) Disarm(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.cancelLocked(id)
	}
}

// DisarmAll implements Service.
func (l *Local) DisarmAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.pending {
		l.cancelLocked(id)
	}
	clear(l.delivered)
}

// OnDelivered implements Service.
func (l *Local) OnDelivered(fn func(n Notification)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDelivered = fn
}

// Pending returns the ids with an armed schedule, sorted.
func (l *Local) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Delivered returns the ids that fired at least once since the last
// DisarmAll, sorted.
func (l *Local) Delivered() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.delivered))
	for id := range l.delivered {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (l *Local) cancelLocked(id string) {
	if s, ok := l.pending[id]; ok {
		s.timer.Stop()
		delete(l.pending, id)
	}
}

// fire runs on the timer goroutine. gen guards against a timer that was
// replaced or cancelled after it had already started. A one-shot schedule
// stays pending while the sink runs; the receipt is dropped if the schedule
// was replaced or cancelled in the meantime.
func (l *Local) fire(id string, gen uint64) {
	l.mu.Lock()
	s, ok := l.pending[id]
	if !ok || s.gen != gen {
		l.mu.Unlock()
		return
	}
	repeats := s.trigger.Repeats()
	if repeats {
		s.timer = time.AfterFunc(s.trigger.Interval.Duration(), func() { l.fire(id, gen) })
	}
	firedAt := l.now()
	l.delivered[id] = firedAt
	note := s.note
	note.FiredAt = firedAt
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if l.sink != nil {
		if err := l.sink.Deliver(ctx, note); err != nil {
			l.logger.Warn("delivery: sink failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	l.mu.Lock()
	cur, ok := l.pending[id]
	current := ok && cur.gen == gen
	if current && !repeats {
		delete(l.pending, id)
	}
	cb := l.onDelivered
	l.mu.Unlock()

	if !current {
		l.logger.Debug("delivery: receipt for replaced schedule dropped", slog.String("id", id))
		return
	}
	if cb != nil {
		cb(note)
	}
}
