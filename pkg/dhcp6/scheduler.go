package dhcp6

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DeadlineFunc is invoked once a device's scheduled deadline has passed.
// It runs on the scheduler's own goroutine; the supervisor's callback
// calls Device.TimerFired directly from here, which is safe because every
// Device method takes the device's own mutex.
type DeadlineFunc func(ifindex int, deadline time.Time)

type deadlineEntry struct {
	ifindex  int
	deadline time.Time
	index    int
}

type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	entry := x.(*deadlineEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[0 : n-1]
	return entry
}

// DeadlineScheduler tracks at most one pending deadline per device (keyed
// by ifindex) and fires DeadlineFunc for whichever one elapses first. It
// exists so the daemon runs a single timer goroutine regardless of how
// many interfaces it manages, rather than one goroutine and timer per
// device — the concurrency model spec calls for by default.
type DeadlineScheduler struct {
	heap     deadlineHeap
	byIndex  map[int]*deadlineEntry
	mu       sync.Mutex
	wakeup   chan struct{}
	callback DeadlineFunc
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewDeadlineScheduler(callback DeadlineFunc) *DeadlineScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &DeadlineScheduler{
		heap:     make(deadlineHeap, 0),
		byIndex:  make(map[int]*deadlineEntry),
		wakeup:   make(chan struct{}, 1),
		callback: callback,
		ctx:      ctx,
		cancel:   cancel,
	}
	heap.Init(&s.heap)
	return s
}

func (s *DeadlineScheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *DeadlineScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Set replaces ifindex's pending deadline, if any, with at. Per the data
// model's invariant, a device has at most one outstanding deadline at a
// time, so a second Set for the same ifindex supersedes rather than adds.
func (s *DeadlineScheduler) Set(ifindex int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.byIndex[ifindex]; ok {
		entry.deadline = at
		heap.Fix(&s.heap, entry.index)
	} else {
		entry := &deadlineEntry{ifindex: ifindex, deadline: at}
		heap.Push(&s.heap, entry)
		s.byIndex[ifindex] = entry
	}

	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Remove clears ifindex's pending deadline, if it has one.
func (s *DeadlineScheduler) Remove(ifindex int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.byIndex[ifindex]; ok {
		heap.Remove(&s.heap, entry.index)
		delete(s.byIndex, ifindex)
	}
}

func (s *DeadlineScheduler) run() {
	defer s.wg.Done()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		s.mu.Lock()
		var wait time.Duration
		if s.heap.Len() > 0 {
			next := s.heap[0].deadline
			now := time.Now()
			if !next.After(now) {
				entry := heap.Pop(&s.heap).(*deadlineEntry)
				delete(s.byIndex, entry.ifindex)
				s.mu.Unlock()

				if s.callback != nil {
					s.callback(entry.ifindex, entry.deadline)
				}
				continue
			}
			wait = next.Sub(now)
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(wait)
			timerCh = timer.C
		} else {
			timer.Reset(wait)
		}

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timerCh:
		case <-s.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}
