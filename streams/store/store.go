// Package store keeps the live streams of a connection, keyed by stream
// identifier.
package store

import "sync"

// Store is the registry contract the connection dispatcher works against.
type Store[T any] interface {
	Set(id uint32, v T)
	Get(id uint32) T
	GetAndDelete(id uint32) T
	Delete(id uint32)
	Each(fn func(T))
	Len() int
}

// Map is a mutex-guarded map store.
type Map[T any] struct {
	m  map[uint32]T
	mu sync.RWMutex
}

func NewMap[T any](size int) *Map[T] {
	return &Map[T]{m: make(map[uint32]T, size)}
}

func (s *Map[T]) Set(id uint32, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[id] = v
}

func (s *Map[T]) Get(id uint32) T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.m[id]
}

func (s *Map[T]) GetAndDelete(id uint32) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.m[id]
	if ok {
		delete(s.m, id)
	}
	return v
}

func (s *Map[T]) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, id)
}

func (s *Map[T]) Each(fn func(T)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.m {
		fn(v)
	}
}

func (s *Map[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.m)
}

// Sharded spreads a Store over size shards to cut lock contention when many
// streams are in flight. size must be a power of two.
type Sharded[T any] struct {
	shards []Store[T]
	mask   uint32
}

func NewSharded[T any](size uint32, build func() Store[T]) *Sharded[T] {
	shards := make([]Store[T], size)
	for i := range shards {
		shards[i] = build()
	}
	return &Sharded[T]{shards, size - 1}
}

func (s *Sharded[T]) shard(id uint32) Store[T] { return s.shards[id&s.mask] }

func (s *Sharded[T]) Set(id uint32, v T)       { s.shard(id).Set(id, v) }
func (s *Sharded[T]) Get(id uint32) T          { return s.shard(id).Get(id) }
func (s *Sharded[T]) GetAndDelete(id uint32) T { return s.shard(id).GetAndDelete(id) }
func (s *Sharded[T]) Delete(id uint32)         { s.shard(id).Delete(id) }

func (s *Sharded[T]) Each(fn func(T)) {
	for _, shard := range s.shards {
		shard.Each(fn)
	}
}

func (s *Sharded[T]) Len() int {
	n := 0
	for _, shard := range s.shards {
		n += shard.Len()
	}
	return n
}
