// Command sfss runs the Simulated File System Server: a UDP responder
// that serves SFP requests against a real host directory tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ktlsim/internal/ktlog"
	"ktlsim/internal/sfss"
)

var (
	flagPort      int
	flagLogFormat string
	flagLogLevel  string
	flagDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "sfss <root-directory>",
	Short: "Simulated File System Server",
	Long: `sfss serves SFP read/write/directory requests from the kernel
simulator's applications against a real directory tree on disk.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().IntVar(&flagPort, "port", 8888, "UDP port to listen on")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (shorthand for --log-level=debug)")
}

func run(cmd *cobra.Command, args []string) error {
	level := ktlog.ParseLevel(flagLogLevel)
	if flagDebug {
		level = slog.LevelDebug
	}
	ktlog.SetDefault(ktlog.New(ktlog.Config{Level: level, Format: flagLogFormat}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := sfss.New(sfss.Config{
		RootDir: args[0],
		Addr:    fmt.Sprintf(":%d", flagPort),
	})
	err := srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sfss:", err)
		os.Exit(1)
	}
}
