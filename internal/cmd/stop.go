package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/speak/internal/worker"
)

// NewStopCommand creates the stop command
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background worker after it finishes queued speech",
		Long: `Stop asks the background worker to shut down. The worker stops accepting
new chunks, plays what is already queued and exits.`,
		Args: cobra.NoArgs,
		RunE: runStop,
	}
	cmd.Flags().Duration("timeout", time.Minute, "How long to wait for queued speech to finish")
	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	manager, err := newManager(cfg, nil, nil)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pid, err := manager.Stop(ctx)
	if errors.Is(err, worker.ErrNotRunning) {
		fmt.Fprintln(cmd.OutOrStdout(), "Worker is not running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped worker (pid %d)\n", pid)
	return nil
}
