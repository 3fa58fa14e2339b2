// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package semaphore provides a bounded async permit with a FIFO wait queue,
// used by the kernel to cap how many sessions run concurrently.
package semaphore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDrained is returned to every waiter rejected by Drain.
var ErrDrained = errors.New("semaphore: drained")

// PermitGuard releases exactly one permit when Release is called. Calling
// Release more than once is a programmer error and panics, mirroring the
// "reentrancy is the caller's responsibility" contract.
type PermitGuard struct {
	sem      *Semaphore
	released bool
	mu       sync.Mutex
}

// Release frees the permit held by this guard, waking one FIFO waiter.
func (g *PermitGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		panic("semaphore: permit guard released twice")
	}
	g.released = true
	g.sem.release()
}

// Semaphore is a bounded permit pool with FIFO waiter ordering.
type Semaphore struct {
	mu        sync.Mutex
	max       uint32
	available uint32
	waiters   []chan error
	epoch     uint64
}

// New creates a Semaphore with max simultaneous permits.
func New(max uint32) *Semaphore {
	return &Semaphore{max: max, available: max}
}

// Acquire blocks until a permit is available or ctx is cancelled, returning a
// PermitGuard that must be released exactly once.
func (s *Semaphore) Acquire(ctx context.Context) (*PermitGuard, error) {
	s.mu.Lock()
	if s.available > 0 {
		s.available--
		s.mu.Unlock()
		return &PermitGuard{sem: s}, nil
	}

	wait := make(chan error, 1)
	s.waiters = append(s.waiters, wait)
	myEpoch := s.epoch
	s.mu.Unlock()

	select {
	case err := <-wait:
		if err != nil {
			return nil, err
		}
		return &PermitGuard{sem: s}, nil
	case <-ctx.Done():
		s.abandon(wait, myEpoch)
		return nil, ctx.Err()
	}
}

// abandon removes a waiter from the queue if it has not yet been granted a
// permit, so a cancelled Acquire does not leak a slot.
func (s *Semaphore) abandon(wait chan error, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	for i, w := range s.waiters {
		if w == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Semaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		next <- nil
		return
	}
	s.available++
}

// Available returns the current count of free permits (waiters excluded).
func (s *Semaphore) Available() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Drain rejects every current waiter with ErrDrained and resets available
// permits back to max. In-flight (already acquired) permits are unaffected.
func (s *Semaphore) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.waiters {
		w <- ErrDrained
	}
	s.waiters = nil
	s.available = s.max
	s.epoch++
}

// String implements fmt.Stringer for debugging/log output.
func (s *Semaphore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("Semaphore(available=%d/%d, waiters=%d)", s.available, s.max, len(s.waiters))
}
