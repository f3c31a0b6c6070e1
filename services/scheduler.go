// services/scheduler.go
package services

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// TimerHandle identifies one armed repeating task. Once cancelled it never
// becomes active again; re-arming the same key produces a new handle.
type TimerHandle struct {
	Key       string
	tag       string
	jobID     uuid.UUID
	cancelled atomic.Bool
}

// Tag is the gocron tag the handle's job is registered and removed under:
// the slugged key plus a per-arm suffix, so keys that slug alike never
// remove each other's jobs.
func (h *TimerHandle) Tag() string {
	return h.tag
}

func timerTag(key string) string {
	return slug.Make(key) + "-" + uuid.NewString()[:8]
}

// Cancelled reports whether the handle has been cancelled.
func (h *TimerHandle) Cancelled() bool {
	return h == nil || h.cancelled.Load()
}

// TimerRegistry owns the repeating tasks of the service, at most one per key.
type TimerRegistry struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	sched   gocron.Scheduler
	handles map[string]*TimerHandle
}

// NewTimerRegistry starts a gocron scheduler driven by clock. A nil clock
// means wall-clock time.
func NewTimerRegistry(clock clockwork.Clock) (*TimerRegistry, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()

	return &TimerRegistry{
		clock:   clock,
		sched:   sched,
		handles: make(map[string]*TimerHandle),
	}, nil
}

// Clock is the clock the registry schedules against.
func (r *TimerRegistry) Clock() clockwork.Clock {
	return r.clock
}

// Arm registers task to run every interval under key. Any handle already
// armed for key is cancelled first. Runs never overlap: if a run is still
// in progress when the next is due, the next is rescheduled.
func (r *TimerRegistry) Arm(key string, every time.Duration, task func(h *TimerHandle)) (*TimerHandle, error) {
	if every <= 0 {
		return nil, fmt.Errorf("invalid timer interval %s", every)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked(key)

	h := &TimerHandle{Key: key, tag: timerTag(key)}
	job, err := r.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if h.Cancelled() {
				return
			}
			task(h)
		}),
		gocron.WithName(key),
		gocron.WithTags(h.tag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to arm timer %q: %w", key, err)
	}
	h.jobID = job.ID()
	r.handles[key] = h

	logrus.Debugf("[Scheduler] Armed timer %q every %s (job %s, tag %s)", key, every, h.jobID, h.tag)
	return h, nil
}

// Cancel stops the timer armed under key. Cancelling an unknown or already
// cancelled key is a no-op; the result reports whether anything was removed.
func (r *TimerRegistry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(key)
}

// CancelAll stops every armed timer.
func (r *TimerRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key := range r.handles {
		if r.cancelLocked(key) {
			n++
		}
	}
	return n
}

func (r *TimerRegistry) cancelLocked(key string) bool {
	h, ok := r.handles[key]
	if !ok {
		return false
	}
	delete(r.handles, key)
	h.cancelled.Store(true)

	r.sched.RemoveByTags(h.tag)
	logrus.Debugf("[Scheduler] Cancelled timer %q", key)
	return true
}

// Active returns the live handle for key, or nil.
func (r *TimerRegistry) Active(key string) *TimerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[key]
}

// Len is the number of armed timers.
func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Shutdown cancels every timer and stops the underlying scheduler.
func (r *TimerRegistry) Shutdown() error {
	r.CancelAll()
	return r.sched.Shutdown()
}
