// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package expiry implements a monotonic-deadline scheduler: a queue that
// fires a one-shot callback at a transfer's expiresAt, cancelling it if
// it is still prepared.
//
// No deadline/priority-queue library fits this concern better than the
// standard library's container/heap — the same primitive go-ethereum
// itself reaches for to order its internal eviction and scheduling
// queues.
package expiry

import (
	"container/heap"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coilhq/ilp-plugin-bilateral/xlog"
)

// Callback is invoked once, at or after deadline, for the transfer id it
// was scheduled for.
type Callback func(id string)

type item struct {
	id       string
	deadline time.Time
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x any)         { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler drives the prepared -> cancelled transition on expiry.
type Scheduler struct {
	mu       sync.Mutex
	heap     itemHeap
	byID     map[string]*item
	fired    *lru.Cache[string, struct{}]
	wake     chan struct{}
	stop     chan struct{}
	stopped  bool
	callback Callback
	log      xlog.Logger
	now      func() time.Time
}

// New returns a running Scheduler. cb is invoked (in its own goroutine,
// sequentially per fire) once per transfer id whose deadline has passed.
func New(cb Callback, log xlog.Logger) *Scheduler {
	if log == nil {
		log = xlog.Root()
	}
	firedSet, _ := lru.New[string, struct{}](4096)
	s := &Scheduler{
		byID:     make(map[string]*item),
		fired:    firedSet,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		callback: cb,
		log:      log,
		now:      time.Now,
	}
	go s.run()
	return s
}

// Schedule arms a one-shot timer for id at deadline. Scheduling the same id
// twice replaces its prior deadline.
func (s *Scheduler) Schedule(id string, deadline time.Time) {
	s.mu.Lock()
	if it, ok := s.byID[id]; ok {
		it.deadline = deadline
		heap.Fix(&s.heap, it.index)
	} else {
		it := &item{id: id, deadline: deadline}
		heap.Push(&s.heap, it)
		s.byID[id] = it
	}
	s.mu.Unlock()
	s.nudge()
}

// Cancel removes id from the queue, if still pending. It is not an error
// to cancel an id that already fired or was never scheduled.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byID[id]
	if !ok {
		return
	}
	heap.Remove(&s.heap, it.index)
	delete(s.byID, id)
}

// Stop halts the scheduler goroutine. No further callbacks fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stop)
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next time.Duration = time.Hour
		if len(s.heap) > 0 {
			next = time.Until(s.heap[0].deadline)
			if next < 0 {
				next = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.now()
	var due []string

	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
		it := heap.Pop(&s.heap).(*item)
		delete(s.byID, it.id)
		due = append(due, it.id)
	}
	s.mu.Unlock()

	for _, id := range due {
		if _, seen := s.fired.Get(id); seen {
			continue
		}
		s.fired.Add(id, struct{}{})
		s.safeCallback(id)
	}
}

func (s *Scheduler) safeCallback(id string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("expiry callback panicked", "id", id, "panic", r)
		}
	}()
	s.callback(id)
}
