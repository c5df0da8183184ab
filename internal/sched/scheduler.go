// Package sched implements the kernel's round-robin scheduler contract:
// ScheduleNext leaves the system in exactly one of two stable
// configurations (some PCB RUNNING and in no queue, or no PCB RUNNING and
// every READY PCB in the ready queue).
package sched

import (
	"ktlsim/internal/pcb"
	"ktlsim/internal/queue"
)

// Continuer resumes a stopped process so it can run (SIGCONT in the
// process model).
type Continuer func(pid int) error

// Stopper suspends a running process (SIGSTOP in the process model).
type Stopper func(pid int) error

// Scheduler implements strict round-robin selection over a PCB table and
// a ready queue of table indices.
type Scheduler struct {
	Table      *pcb.Table
	ReadyQueue *queue.Queue[int]
	Continue   Continuer
	Stop       Stopper

	// Running is the table index of the currently RUNNING PCB, or -1.
	Running int
}

// NewScheduler builds a Scheduler over an already-populated table and
// ready queue.
func NewScheduler(t *pcb.Table, rq *queue.Queue[int], cont Continuer, stop Stopper) *Scheduler {
	return &Scheduler{Table: t, ReadyQueue: rq, Continue: cont, Stop: stop, Running: -1}
}

// stopRunning stops the current RUNNING PCB (if any), marks it READY, and
// re-enqueues it at the tail. Used both mid-algorithm (to make way for a
// new candidate) and when no READY candidate exists.
func (s *Scheduler) stopRunning() {
	if s.Running < 0 {
		return
	}
	cur := s.Table.Get(s.Running)
	if cur.State != pcb.Running {
		s.Running = -1
		return
	}
	if s.Stop != nil {
		_ = s.Stop(cur.PID)
	}
	cur.State = pcb.Ready
	s.ReadyQueue.PushTail(s.Running)
	s.Running = -1
}

// ScheduleNext pops candidates from the head of the ready queue until a
// READY one is found, re-queueing BLOCKED strays and dropping TERMINATED
// ones. If the queue yields nothing but READY PCBs exist outside it, the
// queue is rebuilt from states and the selection retried once.
func (s *Scheduler) ScheduleNext() {
	s.scheduleNext(false)
}

func (s *Scheduler) scheduleNext(isRetry bool) {
	tries := s.ReadyQueue.Len()
	for tries > 0 {
		tries--
		next, ok := s.ReadyQueue.PopHead()
		if !ok {
			break
		}
		cand := s.Table.Get(next)

		switch cand.State {
		case pcb.Ready:
			s.stopRunning()
			if s.Continue != nil {
				_ = s.Continue(cand.PID)
			}
			cand.State = pcb.Running
			s.Running = next
			return
		case pcb.Terminated:
			// Dropped from the queue.
		default:
			// BLOCKED (or otherwise not READY/TERMINATED): re-queue.
			s.ReadyQueue.PushTail(next)
		}
	}

	// No READY candidate was found in the queue itself.
	s.stopRunning()

	if s.ReadyQueue.Len() == 0 {
		// Recovery path: some bookkeeping error may have left READY PCBs
		// outside the queue. Rebuild from states and retry once.
		foundReady := false
		s.Table.Each(func(i int, p *pcb.PCB) {
			if p.State == pcb.Ready {
				s.ReadyQueue.PushTail(i)
				foundReady = true
			}
		})
		if foundReady && !isRetry {
			s.scheduleNext(true)
			return
		}
	}
	// Otherwise: ready queue has items but none are READY (e.g. all
	// became BLOCKED), or truly idle. Running is already -1.
}

// IsIdle reports whether no PCB is RUNNING and none is BLOCKED either,
// meaning the scheduler has nothing left to do.
func (s *Scheduler) IsIdle() bool {
	if s.Running >= 0 {
		return false
	}
	return !s.Table.AnyBlocked()
}
