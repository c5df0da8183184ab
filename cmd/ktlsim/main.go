// Command ktlsim is the microkernel simulator entrypoint. Invoked with no
// subcommand it runs the kernel role, spawning the interrupt controller
// and N application processes by re-executing itself with the "inter"
// and "app" roles.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ktlsim/internal/appshell"
	"ktlsim/internal/controller"
	"ktlsim/internal/kernel"
	"ktlsim/internal/ktlog"
	"ktlsim/internal/syncpipe"
)

var (
	flagApps        int
	flagQuantumMS   int
	flagSyscallProb int
	flagMaxPC       int
	flagIRQ1Prob    int
	flagIRQ2Prob    int
	flagSFSSAddr    string
	flagLogFormat   string
	flagLogLevel    string
	flagDebug       bool
)

var rootCmd = &cobra.Command{
	Use:   "ktlsim",
	Short: "Microkernel process scheduling simulator",
	Long: `ktlsim simulates a microkernel's process scheduler: a round-robin
ready queue, an interrupt-driven preemption model, and blocking file
syscalls served by a companion SFSS storage server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runKernel,
}

func init() {
	rootCmd.Flags().IntVar(&flagApps, "apps", 4, "number of application processes to simulate")
	rootCmd.Flags().IntVar(&flagQuantumMS, "quantum-ms", 100, "scheduling quantum, in milliseconds")
	rootCmd.Flags().IntVar(&flagSyscallProb, "syscall-prob", 4, "1-in-P chance an app issues a syscall per tick")
	rootCmd.Flags().IntVar(&flagMaxPC, "max-pc", 30, "instruction budget per application")
	rootCmd.Flags().IntVar(&flagIRQ1Prob, "irq1-prob", 3, "1-in-P chance of IRQ1 per controller tick")
	rootCmd.Flags().IntVar(&flagIRQ2Prob, "irq2-prob", 5, "1-in-P chance of IRQ2 per controller tick")
	rootCmd.Flags().StringVar(&flagSFSSAddr, "sfss-addr", "127.0.0.1:8888", "address of the SFSS storage server")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (shorthand for --log-level=debug)")

	rootCmd.AddCommand(interCmd, appCmd)
}

func setupLogging() {
	level := ktlog.ParseLevel(flagLogLevel)
	if flagDebug {
		level = slog.LevelDebug
	}
	ktlog.SetDefault(ktlog.New(ktlog.Config{Level: level, Format: flagLogFormat}))
}

// rootContext cancels on SIGTERM only: SIGINT is reserved for the
// kernel's own snapshot-pause handling and must reach it undisturbed.
func rootContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	return ctx
}

func runKernel(cmd *cobra.Command, args []string) error {
	setupLogging()
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("ktlsim: resolve executable: %w", err)
	}

	k := kernel.New(kernel.Config{
		NApps:       flagApps,
		Quantum:     time.Duration(flagQuantumMS) * time.Millisecond,
		SyscallProb: flagSyscallProb,
		MaxPC:       flagMaxPC,
		IRQ1Prob:    flagIRQ1Prob,
		IRQ2Prob:    flagIRQ2Prob,
		SFSSAddr:    flagSFSSAddr,
		SelfExe:     self,
	})
	if err := k.Run(rootContext()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// interCmd re-execs as the interrupt controller role; it is never
// invoked directly by a user, only by the kernel's own spawn logic.
var interCmd = &cobra.Command{
	Use:    "inter",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runInter,
}

func runInter(cmd *cobra.Command, args []string) error {
	setupLogging()
	c := controller.New(controller.Config{
		Quantum:  envDuration(kernel.EnvQuantumMS, 100),
		IRQ1Prob: envInt(kernel.EnvIRQ1Prob, 3),
		IRQ2Prob: envInt(kernel.EnvIRQ2Prob, 5),
	})
	if err := syncpipe.FromChildFD(3).Signal(); err != nil {
		return fmt.Errorf("ktlsim: inter readiness signal: %w", err)
	}
	if err := c.Run(rootContext()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// appCmd re-execs as one application process role; it is never invoked
// directly by a user, only by the kernel's own spawn logic.
var appCmd = &cobra.Command{
	Use:    "app <id>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   runApp,
}

func runApp(cmd *cobra.Command, args []string) error {
	setupLogging()
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("ktlsim: invalid app id %q: %w", args[0], err)
	}

	app := appshell.New(appshell.Config{
		ID:          id,
		Quantum:     envDuration(kernel.EnvQuantumMS, 100),
		MaxPC:       envInt(kernel.EnvMaxPC, 30),
		SyscallProb: envInt(kernel.EnvSyscallProb, 4),
		Ready:       syncpipe.FromChildFD(3),
	})
	return app.Run()
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, defMS int) time.Duration {
	return time.Duration(envInt(name, defMS)) * time.Millisecond
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ktlsim:", err)
		os.Exit(1)
	}
}
