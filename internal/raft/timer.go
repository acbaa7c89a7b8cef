package raft

import (
	"time"
)

// Scheduler delivers msg to the participant's own inbox after d. The
// returned function cancels delivery if it has not happened yet.
type Scheduler interface {
	Schedule(d time.Duration, msg Message) (cancel func())
}

type timeScheduler struct {
	post func(Message)
}

// NewTimeScheduler returns a Scheduler backed by time.AfterFunc.
func NewTimeScheduler(post func(Message)) Scheduler {
	return &timeScheduler{post: post}
}

func (s *timeScheduler) Schedule(d time.Duration, msg Message) func() {
	t := time.AfterFunc(d, func() { s.post(msg) })
	return func() { t.Stop() }
}

// timer is a rescheduleable single timer owned by one behavior. Firings
// from earlier schedules are recognized by their generation and dropped.
type timer struct {
	ctx    *Context
	gen    uint64
	cancel func()
}

// schedule replaces any pending firing with one carrying a new generation.
func (t *timer) schedule(d time.Duration, build func(gen uint64) Message) {
	t.stop()
	t.gen = t.ctx.nextTimerGen()
	t.cancel = t.ctx.scheduler.Schedule(d, build(t.gen))
}

// fired reports whether gen belongs to the pending firing and, if so,
// consumes it.
func (t *timer) fired(gen uint64) bool {
	if gen == 0 || gen != t.gen {
		return false
	}
	t.gen = 0
	t.cancel = nil
	return true
}

func (t *timer) stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen = 0
}
