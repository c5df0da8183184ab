// Package kernel implements the microkernel simulator's core: the PCB
// table, ready/wait queues, scheduler wiring, IRQ handling, and the
// syscall blocking/unblocking protocol. The main loop multiplexes a
// single select over channels fed by dedicated goroutines (UDP reply
// reader, controller line reader, app line reader, and
// signal.Notify-delivered snapshot/resume requests). All scheduling
// state is mutated from that one loop goroutine.
package kernel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ktlsim/internal/kerrors"
	"ktlsim/internal/ktlog"
	"ktlsim/internal/pcb"
	"ktlsim/internal/queue"
	"ktlsim/internal/sched"
	"ktlsim/internal/sfp"
	"ktlsim/internal/shmem"
)

// Config parameterizes one kernel run.
type Config struct {
	// NApps is N, the number of application processes.
	NApps int
	// Quantum is the preemption interval; it is also handed to the
	// spawned interrupt controller.
	Quantum time.Duration
	// SyscallProb is the 1-in-P chance an app issues a syscall per tick;
	// handed to spawned app processes.
	SyscallProb int
	// MaxPC is the instruction budget handed to spawned app processes.
	MaxPC int
	// IRQ1Prob / IRQ2Prob are the interrupt controller's probabilities;
	// handed to the spawned controller.
	IRQ1Prob int
	IRQ2Prob int
	// SFSSAddr is host:port of the SFSS storage server.
	SFSSAddr string
	// SelfExe is the path this binary re-execs to spawn controller/app
	// roles. Defaults to os.Executable() when empty.
	SelfExe string
	// Logger is the structured logger used throughout. Defaults to
	// ktlog.Default().
	Logger *slog.Logger
}

// Kernel owns the PCB table, queues, scheduler, and IPC fabric for one
// simulation run.
type Kernel struct {
	cfg Config
	log *slog.Logger

	table   *pcb.Table
	readyQ  *queue.Queue[int]
	fileQ   *queue.Queue[sfp.Message]
	dirQ    *queue.Queue[sfp.Message]
	sched   *sched.Scheduler

	conn      *net.UDPConn
	sfssAddr  *net.UDPAddr
	segments  map[int]*shmem.Segment

	interProc *os.Process

	paused bool
}

// New constructs a Kernel ready to Run. It does not spawn any processes.
func New(cfg Config) *Kernel {
	if cfg.Logger == nil {
		cfg.Logger = ktlog.Default()
	}
	n := cfg.NApps
	table := pcb.NewTable(n)
	readyQ := queue.New[int](n)
	k := &Kernel{
		cfg:      cfg,
		log:      ktlog.WithRole(cfg.Logger, "kernel"),
		table:    table,
		readyQ:   readyQ,
		fileQ:    queue.New[sfp.Message](n),
		dirQ:     queue.New[sfp.Message](n),
		segments: make(map[int]*shmem.Segment, n),
	}
	k.sched = sched.NewScheduler(table, readyQ, k.continuePID, k.stopPID)
	return k
}

func (k *Kernel) continuePID(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGCONT)
}

func (k *Kernel) stopPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGSTOP)
}

// Table exposes the PCB table, chiefly for snapshot printing and tests.
func (k *Kernel) Table() *pcb.Table { return k.table }

// ReadyQueue exposes the ready queue, chiefly for snapshot printing.
func (k *Kernel) ReadyQueue() *queue.Queue[int] { return k.readyQ }

// FileQueue exposes the file wait queue, chiefly for snapshot printing.
func (k *Kernel) FileQueue() *queue.Queue[sfp.Message] { return k.fileQ }

// DirQueue exposes the directory wait queue, chiefly for snapshot printing.
func (k *Kernel) DirQueue() *queue.Queue[sfp.Message] { return k.dirQ }

// Running returns the table index of the RUNNING PCB, or -1.
func (k *Kernel) Running() int { return k.sched.Running }

// Paused reports whether the kernel is currently paused for a snapshot.
func (k *Kernel) Paused() bool { return k.paused }

// sendRequest marshals and sends req to SFSS over the bound UDP socket.
func (k *Kernel) sendRequest(req *sfp.Message) error {
	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = k.conn.WriteToUDP(data, k.sfssAddr)
	return err
}

// HandleSFSSReply routes a reply datagram from SFSS into the matching
// wait queue. The reply stays buffered there until the next I/O IRQ of
// its class delivers it.
func (k *Kernel) HandleSFSSReply(reply sfp.Message) {
	k.log.Debug("received SFP reply", "type", reply.Type.String(), "owner", reply.Owner)
	switch {
	case reply.Type.IsFileReply():
		if !k.fileQ.PushTail(reply) {
			k.log.Warn("file wait queue full, dropping reply", "owner", reply.Owner)
		}
	case reply.Type.IsDirReply():
		if !k.dirQ.PushTail(reply) {
			k.log.Warn("dir wait queue full, dropping reply", "owner", reply.Owner)
		}
	default:
		k.log.Warn("unknown reply type from SFSS", "type", int32(reply.Type))
	}
}

// HandleIRQ0 implements the timer IRQ: preempt the RUNNING PCB (if any)
// and reschedule.
func (k *Kernel) HandleIRQ0() {
	running := k.sched.Running
	if running >= 0 {
		cur := k.table.Get(running)
		if cur.State == pcb.Running {
			cur.State = pcb.Ready
			k.readyQ.PushTail(running)
			_ = k.stopPID(cur.PID)
			k.sched.Running = -1
		}
	}
	k.sched.ScheduleNext()
}

// HandleIRQ1 implements the file-I/O-done IRQ: deliver the head of the
// file wait queue to its owner and unblock it.
func (k *Kernel) HandleIRQ1() {
	k.deliverReply(k.fileQ, "IRQ1")
}

// HandleIRQ2 implements the directory-I/O-done IRQ over the directory
// wait queue.
func (k *Kernel) HandleIRQ2() {
	k.deliverReply(k.dirQ, "IRQ2")
}

func (k *Kernel) deliverReply(q *queue.Queue[sfp.Message], irq string) {
	reply, ok := q.PopHead()
	if !ok {
		return
	}
	idx := pcb.IndexForOwner(reply.Owner)
	if !k.table.Valid(idx) {
		k.log.Error("IRQ delivery for unknown owner", "irq", irq, "owner", reply.Owner, "error", kerrors.ErrNoSuchPCB)
		return
	}
	if k.table.Get(idx).State != pcb.Blocked {
		k.log.Error("IRQ delivery for non-blocked PCB", "irq", irq, "app", k.table.Get(idx).Logical(), "error", kerrors.ErrPCBNotBlocked)
		return
	}
	seg := k.segments[int(reply.Owner)]
	if seg != nil {
		if err := seg.Write(&reply); err != nil {
			k.log.Error("failed writing reply to shared slot", "owner", reply.Owner, "error", err)
		}
	}
	p := k.table.Get(idx)
	p.State = pcb.Ready
	k.readyQ.PushTail(idx)
	k.log.Info("delivered reply, unblocked", "irq", irq, "owner", reply.Owner, "pid", p.PID)
	if k.sched.Running == -1 {
		k.sched.ScheduleNext()
	}
}

// HandleControllerLine parses one line from the controller channel:
// IRQ0/IRQ1/IRQ2, anything else ignored with a warning.
func (k *Kernel) HandleControllerLine(line string) {
	switch line {
	case "IRQ0":
		k.HandleIRQ0()
	case "IRQ1":
		k.HandleIRQ1()
	case "IRQ2":
		k.HandleIRQ2()
	default:
		k.log.Warn("unknown controller line", "line", line, "error", kerrors.ErrUnknownIRQLine)
	}
}

// HandleAppLine parses one line from the app channel and applies the
// corresponding kernel-side handling: PC updates for TICK, termination
// for DONE, and block-and-forward for syscalls.
func (k *Kernel) HandleAppLine(line string) {
	sc, err := ParseSyscallLine(line)
	if err != nil {
		k.log.Warn("unknown app line", "line", line, "error", kerrors.ErrUnknownAppLine)
		return
	}

	idx := k.table.IndexForPID(sc.PID)
	if idx < 0 {
		k.log.Warn("app line for unknown pid", "pid", sc.PID, "error", kerrors.ErrNoSuchPCB)
		return
	}
	p := k.table.Get(idx)
	if p.State == pcb.Terminated {
		return
	}

	switch sc.Kind {
	case KindTick:
		p.PC = sc.PC
	case KindDone:
		p.PC = sc.PC
		p.State = pcb.Terminated
		k.log.Info("app finished", "app", p.Logical(), "pid", p.PID)
		if idx == k.sched.Running {
			k.sched.Running = -1
			k.sched.ScheduleNext()
		}
	default:
		req := sc.Message
		req.Owner = int32(p.ID)
		p.State = pcb.Blocked
		p.Pending = req
		k.log.Info("syscall, blocking", "app", p.Logical(), "type", req.Type.String())
		if err := k.sendRequest(&req); err != nil {
			k.log.Error("sendto SFSS failed", "error", err)
		}
		if idx == k.sched.Running {
			k.sched.Running = -1
			k.sched.ScheduleNext()
		} else if k.sched.Running == -1 {
			k.sched.ScheduleNext()
		}
	}
}

// Snapshot pauses the controller and the running app and returns a
// rendered snapshot string. The kernel stays paused until Resume.
func (k *Kernel) Snapshot() string {
	k.paused = true
	if k.interProc != nil {
		_ = k.interProc.Signal(syscall.SIGINT)
	}
	if k.sched.Running >= 0 {
		p := k.table.Get(k.sched.Running)
		if p.State == pcb.Running {
			_ = k.stopPID(p.PID)
		}
	}
	return RenderSnapshot(k)
}

// Resume lifts the pause, resuming the controller and the running app.
func (k *Kernel) Resume() {
	k.paused = false
	if k.interProc != nil {
		_ = k.interProc.Signal(syscall.SIGCONT)
	}
	if k.sched.Running >= 0 {
		p := k.table.Get(k.sched.Running)
		if p.State == pcb.Running {
			_ = k.continuePID(p.PID)
		}
	}
	k.log.Info("resumed")
}

// reapChildren performs a non-blocking wait for any terminated children,
// marking their PCBs TERMINATED regardless of prior state.
func (k *Kernel) reapChildren() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		idx := k.table.IndexForPID(pid)
		if idx < 0 {
			continue
		}
		p := k.table.Get(idx)
		if p.State == pcb.Terminated {
			continue
		}
		p.State = pcb.Terminated
		k.log.Info("reaped terminated child", "app", p.Logical(), "pid", pid)
		if idx == k.sched.Running {
			k.sched.Running = -1
			k.sched.ScheduleNext()
		}
	}
}

// shutdown tears down IPC resources: signals and waits for the
// controller, and detaches and removes every shared memory segment.
func (k *Kernel) shutdown() {
	if k.interProc != nil {
		_ = k.interProc.Signal(syscall.SIGTERM)
		_, _ = k.interProc.Wait()
	}
	if k.conn != nil {
		_ = k.conn.Close()
	}
	for _, seg := range k.segments {
		_ = seg.Detach()
		_ = seg.Destroy()
	}
	k.log.Info("all apps terminated, kernel exiting")
}

// Run spawns the interrupt controller and all applications, then drives
// the main event loop until every application has terminated or ctx is
// cancelled. It returns nil on a clean exit.
func (k *Kernel) Run(ctx context.Context) error {
	ctx = ktlog.ContextWithLogger(ctx, k.log)

	udpAddr, err := net.ResolveUDPAddr("udp", k.cfg.SFSSAddr)
	if err != nil {
		return fmt.Errorf("kernel: resolve SFSS addr: %w", err)
	}
	k.sfssAddr = udpAddr

	// Bind a local port rather than Dial so SFSS replies route back to
	// this socket deterministically.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("kernel: bind UDP socket: %w", err)
	}
	k.conn = conn

	for i := 1; i <= k.cfg.NApps; i++ {
		seg, err := shmem.Create(i)
		if err != nil {
			k.shutdown()
			return fmt.Errorf("kernel: create shmem for A%d: %w", i, err)
		}
		k.segments[i] = seg
	}

	interR, err := k.spawnController()
	if err != nil {
		k.shutdown()
		return fmt.Errorf("kernel: spawn controller: %w", err)
	}

	appR, err := k.spawnApps()
	if err != nil {
		k.shutdown()
		return fmt.Errorf("kernel: spawn apps: %w", err)
	}

	udpReplyCh := k.readUDPReplies(ctx)
	controllerLineCh := readLines(ctx, interR)
	appLineCh := readLines(ctx, appR)

	snapshotCh := make(chan os.Signal, 1)
	signal.Notify(snapshotCh, syscall.SIGINT)
	resumeCh := make(chan os.Signal, 1)
	signal.Notify(resumeCh, syscall.SIGCONT)

	k.sched.ScheduleNext()
	k.log.Info("kernel started", "apps", k.cfg.NApps)

	// Lines collected in the same wakeup as a snapshot request are held
	// here until the resume lifts the pause.
	var ctrlLines, appLines []string

	for {
		// While paused, stop receiving from both line channels: their
		// feeding goroutines block on the 1-slot channel, so undelivered
		// lines back up in the pipes instead of being consumed. Datagram
		// replies keep flowing.
		ctrlCh, appCh := controllerLineCh, appLineCh
		if k.paused {
			ctrlCh, appCh = nil, nil
		}

		var replies []sfp.Message
		var doSnapshot, doResume bool

		// Block until the first event of this wakeup arrives, then sweep
		// the remaining sources without blocking. Everything is buffered
		// first so the dispatch below runs in a fixed order regardless of
		// which case the select picked.
		select {
		case <-ctx.Done():
			k.shutdown()
			return ctx.Err()

		case reply, ok := <-udpReplyCh:
			if !ok {
				udpReplyCh = nil
			} else {
				replies = append(replies, reply)
			}

		case <-snapshotCh:
			doSnapshot = true

		case <-resumeCh:
			doResume = true

		case line, ok := <-ctrlCh:
			if !ok {
				controllerLineCh, ctrlCh = nil, nil
			} else {
				ctrlLines = append(ctrlLines, line)
			}

		case line, ok := <-appCh:
			if !ok {
				appLineCh, appCh = nil, nil
			} else {
				appLines = append(appLines, line)
			}
		}

	sweep:
		for {
			select {
			case reply, ok := <-udpReplyCh:
				if !ok {
					udpReplyCh = nil
				} else {
					replies = append(replies, reply)
				}
			case <-snapshotCh:
				doSnapshot = true
			case <-resumeCh:
				doResume = true
			case line, ok := <-ctrlCh:
				if !ok {
					controllerLineCh, ctrlCh = nil, nil
				} else {
					ctrlLines = append(ctrlLines, line)
				}
			case line, ok := <-appCh:
				if !ok {
					appLineCh, appCh = nil, nil
				} else {
					appLines = append(appLines, line)
				}
			default:
				break sweep
			}
		}

		// Dispatch in fixed order: datagram replies, snapshot/resume,
		// controller lines, app lines.
		for _, reply := range replies {
			k.HandleSFSSReply(reply)
		}
		if doSnapshot {
			fmt.Fprintln(os.Stderr, k.Snapshot())
		}
		if doResume {
			k.Resume()
		}
		if !k.paused {
			for _, line := range ctrlLines {
				k.HandleControllerLine(line)
			}
			for _, line := range appLines {
				k.HandleAppLine(line)
			}
			ctrlLines, appLines = nil, nil
		}

		k.reapChildren()
		if k.table.AllTerminated() {
			k.shutdown()
			return nil
		}
	}
}

func (k *Kernel) readUDPReplies(ctx context.Context) <-chan sfp.Message {
	log := ktlog.FromContext(ctx)
	out := make(chan sfp.Message, 1)
	go func() {
		defer close(out)
		buf := make([]byte, sfp.WireSize())
		for {
			n, _, err := k.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			var msg sfp.Message
			if err := msg.UnmarshalBinary(buf[:n]); err != nil {
				log.Warn("malformed SFP reply", "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// readLines streams newline-terminated lines from r onto a channel. The
// logger is pulled from ctx (set once in Run via
// ktlog.ContextWithLogger).
func readLines(ctx context.Context, r io.Reader) <-chan string {
	log := ktlog.FromContext(ctx)
	out := make(chan string, 1)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn("line reader stopped with error", "error", err)
		}
	}()
	return out
}
