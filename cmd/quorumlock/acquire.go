package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nozo-moto/quorumlock"
	"github.com/spf13/cobra"
)

type handleOutput struct {
	Resource string    `json:"resource"`
	Token    string    `json:"token"`
	Validity string    `json:"validity"`
	Deadline time.Time `json:"deadline"`
}

var (
	holdLock     bool
	releaseToken string
)

var acquireCmd = &cobra.Command{
	Use:   "acquire --resource NAME [--ttl 30s] [--hold]",
	Short: "Acquire the lock and print its handle",
	Long: `Acquire the lock and print the handle as JSON. Without --hold the lock is
left to expire after its TTL or until "quorumlock release". With --hold the
command blocks until interrupted or the validity runs out, then releases.`,
	Args: cobra.NoArgs,
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

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(handleOutput{
			Resource: h.Resource,
			Token:    h.Token,
			Validity: h.Validity.String(),
			Deadline: h.Deadline(),
		}); err != nil {
			return err
		}
		if !holdLock {
			return nil
		}

		timer := time.NewTimer(h.Remaining(time.Now()))
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return a.manager.Release(context.Background(), h)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release --resource NAME --token TOKEN",
	Short: "Release a lock printed by acquire",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.manager.Release(cmd.Context(), &quorumlock.Handle{
			Resource: lockResource,
			Token:    releaseToken,
		})
	},
}

func init() {
	addLockFlags(acquireCmd)
	acquireCmd.Flags().BoolVar(&holdLock, "hold", false, "block and release on exit")
	rootCmd.AddCommand(acquireCmd)

	releaseCmd.Flags().StringVarP(&lockResource, "resource", "r", "", "name of the locked resource")
	releaseCmd.Flags().StringVar(&releaseToken, "token", "", "token printed by acquire")
	_ = releaseCmd.MarkFlagRequired("resource")
	_ = releaseCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(releaseCmd)
}
