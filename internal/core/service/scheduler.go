package service

import (
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc in production.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type scheduledTask struct {
	timer Timer
}

// scheduler runs at most one delayed task per user. A task that was
// cancelled or replaced never runs, even if its timer already fired.
type scheduler struct {
	mu    sync.Mutex
	after AfterFunc
	tasks map[domain.UserID]*scheduledTask
}

func newScheduler(after AfterFunc) *scheduler {
	if after == nil {
		after = realAfterFunc
	}
	return &scheduler{
		after: after,
		tasks: make(map[domain.UserID]*scheduledTask),
	}
}

func (s *scheduler) schedule(key domain.UserID, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	task := &scheduledTask{}
	s.tasks[key] = task
	task.timer = s.after(d, func() {
		s.mu.Lock()
		current := s.tasks[key]
		if current == task {
			delete(s.tasks, key)
		}
		s.mu.Unlock()
		if current == task {
			fn()
		}
	})
}

func (s *scheduler) cancel(key domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[key]; ok {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}

func (s *scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}

func (s *scheduler) pending(key domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}
