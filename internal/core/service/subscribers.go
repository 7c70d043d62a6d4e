package service

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type subscriber[T any] struct {
	id int
	fn func(T)
}

// subscribers is an ordered set of callbacks with unsubscribe tokens.
// notify calls every callback synchronously in subscription order.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID int
	list   []subscriber[T]
}

func (s *subscribers[T]) add(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.list = append(s.list, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers[T]) notify(v T) {
	s.mu.Lock()
	list := make([]subscriber[T], len(s.list))
	copy(list, s.list)
	s.mu.Unlock()

	for _, sub := range list {
		call(sub.fn, v)
	}
}

func call[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Subscriber callback panicked")
		}
	}()
	fn(v)
}
