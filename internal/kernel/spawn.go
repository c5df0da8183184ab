package kernel

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"ktlsim/internal/syncpipe"
)

// Environment variables used to hand role parameters to re-exec'd
// children. The "inter" and "app" subcommands read these back.
const (
	EnvQuantumMS   = "_KTLSIM_QUANTUM_MS"
	EnvIRQ1Prob    = "_KTLSIM_IRQ1_PROB"
	EnvIRQ2Prob    = "_KTLSIM_IRQ2_PROB"
	EnvSyscallProb = "_KTLSIM_SYSCALL_PROB"
	EnvMaxPC       = "_KTLSIM_MAX_PC"
	EnvAppID       = "_KTLSIM_APP_ID"
)

func (k *Kernel) selfExe() (string, error) {
	if k.cfg.SelfExe != "" {
		return k.cfg.SelfExe, nil
	}
	return os.Executable()
}

// spawnController re-execs self with the "inter" role, wiring its stdout
// into a fresh pipe the kernel reads from and waiting on a syncpipe
// handshake before returning, so the kernel's first ScheduleNext call
// cannot race the controller's own startup.
func (k *Kernel) spawnController() (*os.File, error) {
	self, err := k.selfExe()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("kernel: controller pipe: %w", err)
	}
	sp, err := syncpipe.New()
	if err != nil {
		return nil, fmt.Errorf("kernel: controller syncpipe: %w", err)
	}

	cmd := exec.Command(self, "inter")
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{sp.ChildFile()}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvQuantumMS, k.cfg.Quantum.Milliseconds()),
		fmt.Sprintf("%s=%d", EnvIRQ1Prob, k.cfg.IRQ1Prob),
		fmt.Sprintf("%s=%d", EnvIRQ2Prob, k.cfg.IRQ2Prob),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("kernel: start controller: %w", err)
	}
	_ = w.Close()
	_ = sp.CloseChild()
	if err := sp.Wait(); err != nil {
		return nil, fmt.Errorf("kernel: controller readiness handshake: %w", err)
	}
	_ = sp.CloseParent()

	k.interProc = cmd.Process
	k.log.Info("spawned interrupt controller", "pid", cmd.Process.Pid)
	return r, nil
}

// spawnApps re-execs self once per application with the "app" role, all
// sharing a single stdout pipe, each synchronized via its own syncpipe
// handshake.
func (k *Kernel) spawnApps() (*os.File, error) {
	self, err := k.selfExe()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("kernel: app pipe: %w", err)
	}

	for i := 1; i <= k.cfg.NApps; i++ {
		sp, err := syncpipe.New()
		if err != nil {
			return nil, fmt.Errorf("kernel: app %d syncpipe: %w", i, err)
		}
		cmd := exec.Command(self, "app", strconv.Itoa(i))
		cmd.Stdout = w
		cmd.Stderr = os.Stderr
		cmd.ExtraFiles = []*os.File{sp.ChildFile()}
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%d", EnvAppID, i),
			fmt.Sprintf("%s=%d", EnvQuantumMS, k.cfg.Quantum.Milliseconds()),
			fmt.Sprintf("%s=%d", EnvSyscallProb, k.cfg.SyscallProb),
			fmt.Sprintf("%s=%d", EnvMaxPC, k.cfg.MaxPC),
		)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("kernel: start app %d: %w", i, err)
		}
		_ = sp.CloseChild()
		if err := sp.Wait(); err != nil {
			return nil, fmt.Errorf("kernel: app %d readiness handshake: %w", i, err)
		}
		_ = sp.CloseParent()

		// Block until the app has actually entered the STOPPED state
		// before letting the scheduler consider it schedulable: the
		// readiness handshake above only confirms shmem attach, and a
		// SIGCONT delivered between that and the app's own raise(SIGSTOP)
		// would otherwise be silently lost.
		var status syscall.WaitStatus
		if _, err := syscall.Wait4(cmd.Process.Pid, &status, syscall.WUNTRACED, nil); err != nil {
			return nil, fmt.Errorf("kernel: app %d: wait for stop: %w", i, err)
		}
		if !status.Stopped() {
			return nil, fmt.Errorf("kernel: app %d exited before stopping: status=%v", i, status)
		}

		idx := i - 1
		k.table.Get(idx).PID = cmd.Process.Pid
		k.log.Info("spawned app", "app", k.table.Get(idx).Logical(), "pid", cmd.Process.Pid)
	}
	_ = w.Close()
	return r, nil
}
