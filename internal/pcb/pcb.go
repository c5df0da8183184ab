// Package pcb implements the kernel's process control block table: a
// fixed arena where PCBs never move or get deallocated, and queues
// elsewhere store indices rather than pointers.
package pcb

import (
	"fmt"

	"ktlsim/internal/sfp"
)

// State is the lifecycle state of a PCB.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Terminated:
		return "TERMINATED"
	default:
		return "?"
	}
}

// PCB is one application's bookkeeping record.
type PCB struct {
	// PID is the OS process id of the child.
	PID int
	// ID is the logical identifier, 1..N (app "A{ID}").
	ID int
	// State is the current lifecycle state.
	State State
	// PC is the last observed program counter.
	PC int
	// Pending is a copy of the SFP request sent while entering BLOCKED,
	// kept for diagnostics/snapshot only.
	Pending sfp.Message
}

// Logical returns the PCB's logical name, e.g. "A3".
func (p *PCB) Logical() string { return fmt.Sprintf("A%d", p.ID) }

// Table is the fixed-size arena of PCBs, indexed by logical ID - 1.
type Table struct {
	pcbs []PCB
}

// NewTable allocates a table for n applications, all starting READY with
// no PID assigned yet.
func NewTable(n int) *Table {
	t := &Table{pcbs: make([]PCB, n)}
	for i := range t.pcbs {
		t.pcbs[i] = PCB{ID: i + 1, State: Ready}
	}
	return t
}

// Len returns the number of PCBs (N).
func (t *Table) Len() int { return len(t.pcbs) }

// Get returns a pointer to the PCB at index i (0-based). Panics if i is
// out of range; callers validate indices first.
func (t *Table) Get(i int) *PCB { return &t.pcbs[i] }

// IndexForOwner converts an SFP owner id (1..N) to a table index
// (owner-1). The result is not range-checked; callers check it with Valid.
func IndexForOwner(owner int32) int { return int(owner) - 1 }

// IndexForPID returns the table index of the PCB with the given OS pid, or
// -1 if none matches.
func (t *Table) IndexForPID(pid int) int {
	for i := range t.pcbs {
		if t.pcbs[i].PID == pid {
			return i
		}
	}
	return -1
}

// Valid reports whether i is a valid index into the table.
func (t *Table) Valid(i int) bool { return i >= 0 && i < len(t.pcbs) }

// AllTerminated reports whether every PCB has reached TERMINATED.
func (t *Table) AllTerminated() bool {
	for i := range t.pcbs {
		if t.pcbs[i].State != Terminated {
			return false
		}
	}
	return true
}

// AnyBlocked reports whether at least one PCB is BLOCKED.
func (t *Table) AnyBlocked() bool {
	for i := range t.pcbs {
		if t.pcbs[i].State == Blocked {
			return true
		}
	}
	return false
}

// Each calls fn for every PCB index in order.
func (t *Table) Each(fn func(i int, p *PCB)) {
	for i := range t.pcbs {
		fn(i, &t.pcbs[i])
	}
}
