package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	lockResource string
	lockTTL      time.Duration
)

func addLockFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&lockResource, "resource", "r", "", "name of the resource to lock")
	cmd.Flags().DurationVar(&lockTTL, "ttl", 30*time.Second, "lock time to live")
	_ = cmd.MarkFlagRequired("resource")
}

var execCmd = &cobra.Command{
	Use:   "exec --resource NAME [--ttl 30s] -- command [args...]",
	Short: "Run a command while holding the lock",
	Long: `Acquire the lock, run the command and release the lock when it exits.
The command is killed once the lock validity runs out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, ok, err := a.manager.Acquire(ctx, lockResource, lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lock %q is held elsewhere", lockResource)
		}
		defer func() {
			if err := a.manager.Release(context.Background(), h); err != nil {
				a.log.Warn("release failed", zap.Error(err))
			}
		}()

		runCtx, cancel := context.WithDeadline(ctx, h.Deadline())
		defer cancel()

		c := exec.CommandContext(runCtx, args[0], args[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		c.Cancel = func() error {
			return c.Process.Signal(syscall.SIGTERM)
		}
		c.WaitDelay = 5 * time.Second

		err = c.Run()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			a.log.Error("lock validity expired before the command finished",
				zap.String("resource", h.Resource),
				zap.Duration("validity", h.Validity),
			)
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &exitError{code: ee.ExitCode()}
		}
		return err
	},
}

func init() {
	addLockFlags(execCmd)
	rootCmd.AddCommand(execCmd)
}
