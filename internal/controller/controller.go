// Package controller implements the interrupt controller role: a
// standalone process that periodically emits IRQ0 (timer) and, with
// configured probability, IRQ1 (file I/O done) and IRQ2 (directory I/O
// done) lines to its stdout for the kernel to consume.
package controller

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"

	"ktlsim/internal/ktlog"
)

// Config parameterizes one controller run.
type Config struct {
	// Quantum is the sleep interval between IRQ0 ticks.
	Quantum time.Duration
	// IRQ1Prob / IRQ2Prob are 1-in-P chances evaluated every tick.
	IRQ1Prob int
	IRQ2Prob int
	// Out is where IRQ lines are written; defaults to os.Stdout.
	Out io.Writer
	// Logger defaults to ktlog.Default().
	Logger *slog.Logger
}

// Controller is one running interrupt controller.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	paused atomic.Bool
}

// New constructs a Controller.
func New(cfg Config) *Controller {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = ktlog.Default()
	}
	return &Controller{cfg: cfg, log: ktlog.WithRole(cfg.Logger, "inter")}
}

// Run installs the SIGINT/SIGCONT pause handlers and loops emitting IRQ
// lines until ctx is cancelled. SIGINT pauses emission without tearing
// the controller down; SIGCONT resumes it.
func (c *Controller) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGCONT)
	defer signal.Stop(sigCh)

	w := bufio.NewWriter(c.cfg.Out)
	ticker := time.NewTicker(c.cfg.Quantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT:
				c.paused.Store(true)
			case syscall.SIGCONT:
				c.paused.Store(false)
			}
		case <-ticker.C:
			if c.paused.Load() {
				continue
			}
			if err := c.emit(w, "IRQ0"); err != nil {
				return err
			}
			if c.cfg.IRQ1Prob > 0 && fastrand.Intn(c.cfg.IRQ1Prob) == 0 {
				if err := c.emit(w, "IRQ1"); err != nil {
					return err
				}
			}
			if c.cfg.IRQ2Prob > 0 && fastrand.Intn(c.cfg.IRQ2Prob) == 0 {
				if err := c.emit(w, "IRQ2"); err != nil {
					return err
				}
			}
		}
	}
}

func (c *Controller) emit(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}
