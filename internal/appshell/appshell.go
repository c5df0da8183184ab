// Package appshell implements the application process role: a simulated
// program that advances its program counter once per quantum, emits a
// TICK line to the kernel each time, occasionally issues a blocking
// syscall and waits to be resumed, and finally emits DONE.
package appshell

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"

	"ktlsim/internal/ktlog"
	"ktlsim/internal/sfp"
	"ktlsim/internal/shmem"
	"ktlsim/internal/syncpipe"
)

// Config parameterizes one application run.
type Config struct {
	// ID is the application's logical id, 1..N.
	ID int
	// Quantum is the sleep duration per simulated instruction.
	Quantum time.Duration
	// MaxPC is the instruction budget before the app emits DONE.
	MaxPC int
	// SyscallProb is the 1-in-P chance of a syscall per tick.
	SyscallProb int
	// Out is where TICK/DONE/syscall lines are written; defaults to
	// os.Stdout.
	Out io.Writer
	// Ready, if set, is signaled once setup (shmem attach) completes,
	// just before the app raises SIGSTOP on itself.
	Ready *syncpipe.Pipe
	// Logger defaults to ktlog.Default().
	Logger *slog.Logger
}

// App is one running application process.
type App struct {
	cfg Config
	log *slog.Logger
}

// New constructs an App.
func New(cfg Config) *App {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = ktlog.Default()
	}
	return &App{cfg: cfg, log: ktlog.WithOwner(ktlog.WithRole(cfg.Logger, "app"), cfg.ID)}
}

// Run attaches shared memory, raises SIGSTOP to await the kernel's first
// schedule, then drives the tick/syscall loop until MaxPC is reached.
func (a *App) Run() error {
	signal.Ignore(syscall.SIGINT)

	seg, err := shmem.Attach(a.cfg.ID)
	if err != nil {
		return fmt.Errorf("app A%d: attach shmem: %w", a.cfg.ID, err)
	}
	defer seg.Detach()

	w := bufio.NewWriter(a.cfg.Out)
	pid := os.Getpid()

	if a.cfg.Ready != nil {
		if err := a.cfg.Ready.Signal(); err != nil {
			return fmt.Errorf("app A%d: signal ready: %w", a.cfg.ID, err)
		}
	}
	if err := syscall.Kill(pid, syscall.SIGSTOP); err != nil {
		return fmt.Errorf("app A%d: self SIGSTOP: %w", a.cfg.ID, err)
	}

	for pc := 0; pc < a.cfg.MaxPC; {
		time.Sleep(a.cfg.Quantum)
		pc++
		a.writeLine(w, fmt.Sprintf("TICK A%d %d %d", a.cfg.ID, pid, pc))

		if a.cfg.SyscallProb > 0 && fastrand.Intn(a.cfg.SyscallProb) == 0 {
			line := a.randomSyscallLine(pid, pc)
			a.writeLine(w, line)

			if err := syscall.Kill(pid, syscall.SIGSTOP); err != nil {
				return fmt.Errorf("app A%d: self SIGSTOP: %w", a.cfg.ID, err)
			}

			a.reportOutcome(seg)
		}
	}

	a.writeLine(w, fmt.Sprintf("DONE A%d %d %d", a.cfg.ID, pid, a.cfg.MaxPC))
	return nil
}

func (a *App) writeLine(w *bufio.Writer, line string) {
	fmt.Fprintln(w, line)
	_ = w.Flush()
}

// randomSyscallLine picks one of the five syscall verbs with a
// uniformly random target path under the app's own tree or the shared
// "/A0" tree.
func (a *App) randomSyscallLine(pid, pc int) string {
	target := a.cfg.ID
	if fastrand.Intn(2) == 0 {
		target = 0
	}
	offset := fastrand.Intn(4) * 16

	switch fastrand.Intn(5) {
	case 0:
		return fmt.Sprintf("READ A%d %d /A%d/file.txt %d", a.cfg.ID, pid, target, offset)
	case 1:
		return fmt.Sprintf("WRITE A%d %d /A%d/file.txt %d HelloA%dPC%d", a.cfg.ID, pid, target, offset, a.cfg.ID, pc)
	case 2:
		return fmt.Sprintf("ADD A%d %d /A%d newDir_A%d_%d", a.cfg.ID, pid, target, a.cfg.ID, pc)
	case 3:
		prev := pc - 1
		if prev < 0 {
			prev = 0
		}
		return fmt.Sprintf("REM A%d %d /A%d newDir_A%d_%d", a.cfg.ID, pid, target, a.cfg.ID, prev)
	default:
		return fmt.Sprintf("LISTDIR A%d %d /A%d", a.cfg.ID, pid, target)
	}
}

// reportOutcome reads the kernel's reply out of shared memory and logs
// it. Purely diagnostic; the reply slot is read exactly once per
// syscall cycle, here.
func (a *App) reportOutcome(seg *shmem.Segment) {
	reply, err := seg.Read()
	if err != nil {
		a.log.Error("failed reading shared reply", "error", err)
		return
	}
	switch reply.Type {
	case sfp.RdRep:
		if reply.Offset >= 0 {
			a.log.Info("READ OK", "offset", reply.Offset)
		} else {
			a.log.Info("READ ERROR", "code", reply.Offset)
		}
	case sfp.WrRep:
		if reply.Offset >= 0 {
			a.log.Info("WRITE OK", "offset", reply.Offset)
		} else {
			a.log.Info("WRITE ERROR", "code", reply.Offset)
		}
	case sfp.DcRep:
		if reply.PathLen >= 0 {
			a.log.Info("DIR CREATE OK", "path", reply.PathString())
		} else {
			a.log.Info("DIR CREATE ERROR", "code", reply.PathLen)
		}
	case sfp.DrRep:
		if reply.PathLen >= 0 {
			a.log.Info("DIR REMOVE OK", "path", reply.PathString())
		} else {
			a.log.Info("DIR REMOVE ERROR", "code", reply.PathLen)
		}
	case sfp.DlRep:
		if reply.NRNames >= 0 {
			a.log.Info("LISTDIR OK", "entries", reply.NRNames)
		} else {
			a.log.Info("LISTDIR ERROR", "code", reply.NRNames)
		}
	default:
		a.log.Warn("unexpected reply in shared memory", "type", int32(reply.Type))
	}
}
