package sched

import (
	"sync"
	"time"
)

// Scheduler keeps at most one live timer per session id. Arming an id that
// already has a timer replaces it wholesale: the inactivity window always
// restarts in full.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Arm cancels any existing timer for id and starts a new one. onFire runs
// exactly once unless the timer is canceled or re-armed first. A timer
// whose callback races a Cancel checks that it is still the registered
// timer before firing, so fire-after-cancel degrades to a no-op.
func (s *Scheduler) Arm(id string, d time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.timers[id]
		if !ok || cur != t {
			// canceled or replaced between firing and running
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		onFire()
	})
	s.timers[id] = t
}

// Cancel stops and removes the timer for id. No-op when absent.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Stop cancels every armed timer. Used at shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Len reports how many timers are armed.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
