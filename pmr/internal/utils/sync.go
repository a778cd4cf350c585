package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off for externally synchronized consumers. When
// the mutex is in use, it also carries a condition variable so that blocked callers can sleep until
// the state they are waiting on changes.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool

	cond *sync.Cond
}

func NewOptionalMutex(useMutex bool) *OptionalMutex {
	m := &OptionalMutex{UseMutex: useMutex}
	if useMutex {
		m.cond = sync.NewCond(&m.Mutex)
	}
	return m
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// CanWait returns true if Wait can be used. Waiting on an unsynchronized mutex would never wake.
func (m *OptionalMutex) CanWait() bool {
	return m.cond != nil
}

// Wait releases the mutex, sleeps until Broadcast is called, and reacquires the mutex before
// returning. The mutex must be held.
func (m *OptionalMutex) Wait() {
	if m.cond == nil {
		panic("attempted to wait on an externally synchronized mutex")
	}
	m.cond.Wait()
}

// Broadcast wakes every caller sleeping in Wait
func (m *OptionalMutex) Broadcast() {
	if m.cond != nil {
		m.cond.Broadcast()
	}
}
