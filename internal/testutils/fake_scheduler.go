//go:build test

package testutils

import (
	"sort"
	"time"

	"github.com/srg/vecs/internal/loop"
)

// FakeScheduler is a manually advanced clock for loop.Scheduler users.
type FakeScheduler struct {
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

// AfterFunc implements loop.Scheduler
func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	s.seq++
	t := &fakeTimer{at: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of armed timers
func (s *FakeScheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers armed by a firing callback fire too if they fall due within d.
func (s *FakeScheduler) Advance(d time.Duration) int {
	target := s.now + d
	fired := 0
	for {
		next := s.next(target)
		if next == nil {
			break
		}
		s.now = next.at
		next.fired = true
		next.fn()
		fired++
	}
	s.now = target
	s.compact()
	return fired
}

func (s *FakeScheduler) next(until time.Duration) *fakeTimer {
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= until {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at == due[j].at {
			return due[i].seq < due[j].seq
		}
		return due[i].at < due[j].at
	})
	return due[0]
}

func (s *FakeScheduler) compact() {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
}
