// timer/timer.go
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultResolution is how often the scheduler checks for due tasks.
const DefaultResolution = 100 * time.Millisecond

type TimerTask struct {
	Key      string
	Execute  time.Time
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Scheduler runs one-shot callbacks at absolute deadlines. Tasks are keyed;
// scheduling a key again replaces its pending task.
type Scheduler struct {
	clock      clockwork.Clock
	resolution time.Duration
	queue      TimerQueue
	byKey      map[string]*TimerTask
	mutex      sync.Mutex
}

func NewScheduler(clock clockwork.Clock, resolution time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	s := &Scheduler{
		clock:      clock,
		resolution: resolution,
		queue:      make(TimerQueue, 0),
		byKey:      make(map[string]*TimerTask),
	}
	heap.Init(&s.queue)
	return s
}

// AddTimer schedules callback at the given instant, replacing any pending
// task with the same key.
func (s *Scheduler) AddTimer(key string, at time.Time, callback func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.byKey[key]; ok {
		heap.Remove(&s.queue, existing.index)
	}
	task := &TimerTask{
		Key:      key,
		Execute:  at,
		Callback: callback,
	}
	heap.Push(&s.queue, task)
	s.byKey[key] = task
}

// RemoveTimer cancels the pending task for key, if any.
func (s *Scheduler) RemoveTimer(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if task, ok := s.byKey[key]; ok {
		heap.Remove(&s.queue, task.index)
		delete(s.byKey, key)
	}
}

// Pending returns the deadline scheduled for key.
func (s *Scheduler) Pending(key string) (time.Time, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	task, ok := s.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return task.Execute, true
}

func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.queue.Len()
}

// Run processes due tasks until ctx is done. Callbacks run on their own
// goroutines.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			for _, task := range s.due() {
				go task.Callback()
			}
		}
	}
}

func (s *Scheduler) due() []*TimerTask {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now()
	var due []*TimerTask
	for s.queue.Len() > 0 {
		task := s.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&s.queue)
		delete(s.byKey, task.Key)
		due = append(due, task)
	}
	return due
}
