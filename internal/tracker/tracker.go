// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"amr-relay/internal/mission"
	"amr-relay/internal/testbed"
)

// ErrLeaseReleased is returned when a released lease is used.
var ErrLeaseReleased = errors.New("lease already released")

type slot struct {
	// sem serializes whole operations on the robot, including the
	// downstream call made while the lease is held
	sem *semaphore.Weighted

	// mu guards active so Peek and Snapshot never wait on a lease
	mu     sync.RWMutex
	active *Binding
}

// Tracker implements the active-mission table with one lease per robot.
type Tracker struct {
	robots []testbed.AMR
	slots  map[testbed.AMR]*slot
	now    func() time.Time
}

// New creates a tracker with an Idle slot for each robot. With no robots it
// tracks every robot on the testbed.
func New(robots ...testbed.AMR) *Tracker {
	if len(robots) == 0 {
		robots = testbed.AMRs()
	}
	t := &Tracker{
		robots: make([]testbed.AMR, 0, len(robots)),
		slots:  make(map[testbed.AMR]*slot, len(robots)),
		now:    time.Now,
	}
	for _, amr := range robots {
		if _, dup := t.slots[amr]; dup {
			continue
		}
		t.robots = append(t.robots, amr)
		t.slots[amr] = &slot{sem: semaphore.NewWeighted(1)}
	}
	return t
}

// SetClock overrides the time source used for BoundAt (useful for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Robots returns the robots the tracker has slots for.
func (t *Tracker) Robots() []testbed.AMR {
	return append([]testbed.AMR(nil), t.robots...)
}

// Acquire takes the robot's lease, blocking until it is free or ctx ends.
// The caller must Release the lease.
func (t *Tracker) Acquire(ctx context.Context, amr testbed.AMR) (*Lease, error) {
	s, ok := t.slots[amr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRobot, amr)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, amr, err)
	}
	return &Lease{tracker: t, amr: amr, slot: s}, nil
}

// Bind assigns msg to an Idle robot.
func (t *Tracker) Bind(ctx context.Context, amr testbed.AMR, msg mission.TaskMessage) error {
	lease, err := t.Acquire(ctx, amr)
	if err != nil {
		return err
	}
	defer lease.Release()
	return lease.Bind(msg)
}

// Unbind returns an Assigned robot to Idle and hands back its task.
func (t *Tracker) Unbind(ctx context.Context, amr testbed.AMR) (mission.TaskMessage, error) {
	lease, err := t.Acquire(ctx, amr)
	if err != nil {
		return mission.TaskMessage{}, err
	}
	defer lease.Release()
	return lease.Unbind()
}

// Peek returns the robot's current binding without taking its lease.
func (t *Tracker) Peek(amr testbed.AMR) (Binding, bool) {
	s, ok := t.slots[amr]
	if !ok {
		return Binding{}, false
	}
	return s.load()
}

// Snapshot returns every current binding, ordered by robot.
func (t *Tracker) Snapshot() []Binding {
	bindings := make([]Binding, 0, len(t.robots))
	for _, amr := range t.robots {
		if b, ok := t.slots[amr].load(); ok {
			bindings = append(bindings, b)
		}
	}
	return bindings
}

func (s *slot) load() (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return Binding{}, false
	}
	return *s.active, true
}

func (s *slot) store(b *Binding) {
	s.mu.Lock()
	s.active = b
	s.mu.Unlock()
}

// Lease is exclusive access to one robot's slot. A lease is not safe for
// concurrent use; it belongs to the request that acquired it.
type Lease struct {
	tracker  *Tracker
	amr      testbed.AMR
	slot     *slot
	released bool
	once     sync.Once
}

// AMR returns the robot this lease covers.
func (l *Lease) AMR() testbed.AMR {
	return l.amr
}

// Active returns the robot's binding, if any.
func (l *Lease) Active() (Binding, bool) {
	return l.slot.load()
}

// Bind moves the robot from Idle to Assigned.
func (l *Lease) Bind(msg mission.TaskMessage) error {
	if l.released {
		return ErrLeaseReleased
	}
	if existing, ok := l.slot.load(); ok {
		return &ConflictError{
			AMR:             l.amr,
			Existing:        existing,
			RequestedTaskID: msg.TaskID,
		}
	}
	l.slot.store(&Binding{
		AMR:     l.amr,
		Task:    msg,
		BoundAt: l.tracker.now(),
	})
	return nil
}

// Unbind moves the robot from Assigned to Idle and returns the task that
// was bound.
func (l *Lease) Unbind() (mission.TaskMessage, error) {
	if l.released {
		return mission.TaskMessage{}, ErrLeaseReleased
	}
	existing, ok := l.slot.load()
	if !ok {
		return mission.TaskMessage{}, &mission.NoActiveMissionError{AMR: l.amr}
	}
	l.slot.store(nil)
	return existing.Task, nil
}

// Release gives the lease back. Calling it more than once is safe.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.released = true
		l.slot.sem.Release(1)
	})
}
