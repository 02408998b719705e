package scheduler

import "github.com/starford/nudge/internal/models"

// OnChange registers fn to receive a snapshot after every state change.
// Callbacks run outside the scheduler lock. The returned func unregisters fn.
func (s *Scheduler) OnChange(fn func([]models.Reminder)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subSeq++
	key := s.subSeq
	s.subs[key] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, key)
	}
}

// unlockAndNotify releases s.mu and, when changed, publishes a snapshot.
// A snapshot older than one already published is dropped.
func (s *Scheduler) unlockAndNotify(changed bool) {
	if !changed {
		s.mu.Unlock()
		return
	}
	s.version++
	version := s.version
	snap := cloneAll(s.state)
	s.mu.Unlock()

	s.subMu.Lock()
	if version <= s.notified {
		s.subMu.Unlock()
		return
	}
	s.notified = version
	subs := make([]func([]models.Reminder), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(cloneAll(snap))
	}
}
