package antifreeze

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"toasty/internal/room"
)

var ErrNotScheduled = errors.New("room not scheduled")

// jitterWindow spreads the daily firings around the base hour so the whole
// fleet does not hit the chat platform at once.
const jitterWindow = time.Hour

// Runner is what a firing invokes; in production it is the Engine.
type Runner interface {
	RunAntifreeze(ctx context.Context, roomID int64) error
}

type job struct {
	roomID int64
	next   time.Time
	index  int
}

// jobQueue is a min-heap ordered by next fire time.
type jobQueue []*job

func (q jobQueue) Len() int           { return len(q) }
func (q jobQueue) Less(i, j int) bool { return q[i].next.Before(q[j].next) }

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return j
}

// Scheduler holds exactly one recurring job per registered room and fires
// each once per day at 00:00 UTC plus jitter. The registry is process-local;
// the lifecycle controller rebuilds it from the store on boot.
type Scheduler struct {
	runner Runner
	log    *zap.Logger

	now      func() time.Time
	nextFire func(now time.Time) time.Time

	mu      sync.Mutex
	jobs    map[int64]*job
	queue   jobQueue
	started bool
	stopped bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(runner Runner, log *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		log:      log,
		now:      time.Now,
		nextFire: nextDailyFire,
		jobs:     map[int64]*job{},
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// nextDailyFire picks the next midnight UTC after now, shifted by up to
// ±jitterWindow. A draw that lands in the past is redrawn over the rest of
// the window instead of rolling over a whole day, so consecutive firings
// never drift a day apart.
func nextDailyFire(now time.Time) time.Time {
	base := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	next := base.Add(rand.N(2*jitterWindow) - jitterWindow)
	if !next.After(now) {
		slack := base.Add(jitterWindow).Sub(now)
		next = now.Add(time.Second + rand.N(slack))
	}
	return next
}

// Schedule registers a recurring job for the room. Callers must not schedule
// a room twice without removing it in between.
func (s *Scheduler) Schedule(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	j := &job{roomID: roomID, next: s.nextFire(s.now())}
	s.jobs[roomID] = j
	heap.Push(&s.queue, j)
	s.log.Info("antifreeze scheduled",
		zap.Int64("room", roomID),
		zap.Time("next_fire", j.next))
	s.kick()
}

// Remove cancels the room's job. Removing an unknown room fails with
// ErrNotScheduled.
func (s *Scheduler) Remove(roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[roomID]
	if !ok {
		return fmt.Errorf("remove room %d: %w", roomID, ErrNotScheduled)
	}
	delete(s.jobs, roomID)
	heap.Remove(&s.queue, j.index)
	s.log.Info("antifreeze removed", zap.Int64("room", roomID))
	s.kick()
	return nil
}

// Start begins dispatching. Jobs scheduled before Start cannot fire early, so
// boot-time registration races nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.loop()
}

// Shutdown cancels every job and stops the dispatch loop. No firing starts
// after it returns; a check already in flight runs to completion.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.jobs = map[int64]*job{}
	s.queue = nil
	s.mu.Unlock()

	close(s.stop)
	if started {
		<-s.done
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		s.mu.Lock()
		var wait time.Duration
		idle := s.queue.Len() == 0
		if !idle {
			wait = s.queue[0].next.Sub(s.now())
		}
		s.mu.Unlock()

		if idle {
			select {
			case <-s.stop:
				return
			case <-s.wake:
			}
			continue
		}
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-s.stop:
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-s.wake:
				if !timer.Stop() {
					<-timer.C
				}
				continue
			case <-timer.C:
			}
		}
		s.fireDue()
	}
}

// fireDue pops every job whose fire time has arrived, reschedules it, and
// runs the check in its own goroutine so slow rooms do not stall the rest.
func (s *Scheduler) fireDue() {
	now := s.now()
	s.mu.Lock()
	var due []int64
	for s.queue.Len() > 0 && !s.queue[0].next.After(now) {
		j := s.queue[0]
		j.next = s.nextFire(now)
		heap.Fix(&s.queue, 0)
		due = append(due, j.roomID)
	}
	s.mu.Unlock()
	for _, roomID := range due {
		go s.run(roomID)
	}
}

// run invokes the engine for one firing. Whatever comes back, the job stays
// registered; the one exception is a room the store no longer has, whose
// orphaned job gets deregistered instead of firing forever.
func (s *Scheduler) run(roomID int64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("antifreeze run panicked",
				zap.Int64("room", roomID),
				zap.Any("panic", r))
		}
	}()
	// Runs get a fresh context: shutdown stops future firings, it does not
	// abort work already started.
	err := s.runner.RunAntifreeze(context.Background(), roomID)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrNotFound):
		s.log.Error("job scheduled for a room the store does not have, deregistering",
			zap.Int64("room", roomID), zap.Error(err))
		_ = s.Remove(roomID)
	default:
		s.log.Error("antifreeze run failed", zap.Int64("room", roomID), zap.Error(err))
	}
}
