package kernel

import (
	"fmt"
	"strings"

	"ktlsim/internal/pcb"
)

// RenderSnapshot renders the table/queue state for the SIGINT pause:
// per-PCB logical id, state, PC and pid (plus the pending SFP message
// kind when BLOCKED), the ready queue by logical id, and both wait
// queue depths.
func RenderSnapshot(k *Kernel) string {
	var b strings.Builder
	fmt.Fprintln(&b, "=== snapshot ===")
	k.table.Each(func(i int, p *pcb.PCB) {
		marker := " "
		if i == k.sched.Running {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-4s state=%-10s pc=%d pid=%d", marker, p.Logical(), p.State, p.PC, p.PID)
		if p.State == pcb.Blocked {
			fmt.Fprintf(&b, ", waiting SFP_MSG %d", int32(p.Pending.Type))
		}
		fmt.Fprintln(&b)
	})

	fmt.Fprintf(&b, "ready: %s\n", formatIndices(k.readyQ.Items(), k.table))
	fmt.Fprintf(&b, "file-wait: %d pending\n", k.fileQ.Len())
	fmt.Fprintf(&b, "dir-wait: %d pending\n", k.dirQ.Len())
	return b.String()
}

func formatIndices(idxs []int, t *pcb.Table) string {
	names := make([]string, len(idxs))
	for i, idx := range idxs {
		if t.Valid(idx) {
			names[i] = t.Get(idx).Logical()
		} else {
			names[i] = "?"
		}
	}
	return strings.Join(names, " ")
}
