package main

import "sync"

// MutexValue guards a single value. The zero value is ready to use.
type MutexValue[T any] struct {
	mu sync.RWMutex
	v  T
}

func (m *MutexValue[T]) Get() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v
}

func (m *MutexValue[T]) Set(val T) {
	m.mu.Lock()
	m.v = val
	m.mu.Unlock()
}

// Update applies fn to the current value under the write lock.
func (m *MutexValue[T]) Update(fn func(T) T) T {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = fn(m.v)
	return m.v
}
