package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/daemon"
	"github.com/harrison/speak/internal/history"
	"github.com/harrison/speak/internal/logger"
	"github.com/harrison/speak/internal/tts"
	"github.com/harrison/speak/internal/worker"
)

// NewWorkerCommand creates the hidden worker command. Clients start it in
// the background; it is not meant to be run by hand, though doing so is
// useful for debugging.
func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run the speech queue worker in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   runWorker,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := config.ResolveRuntimeDir(cfg)
	if err != nil {
		return err
	}
	state := worker.NewState(dir)

	logr, closer, err := logger.NewDaemonLogger(state.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	synth, err := tts.NewSynthesizer(cfg.Synthesis)
	if err != nil {
		logr.Error("Invalid synthesis backend", "err", err)
		return err
	}
	player, err := tts.NewPlayer(cfg.Playback)
	if err != nil {
		logr.Error("Invalid playback backend", "err", err)
		return err
	}

	var journal daemon.Journal
	if cfg.History.Enabled {
		store, err := openJournal(cmd.Context(), state, cfg.History, logr)
		if err != nil {
			// Speech still works without a journal.
			logr.Warn("Playback history disabled", "err", err)
		} else {
			defer store.Close()
			journal = store
		}
	}

	d := daemon.New(daemon.Options{
		Worker:      cfg.Worker,
		Defaults:    cfg.Defaults(),
		State:       state,
		Synthesizer: synth,
		Player:      player,
		Journal:     journal,
		Logger:      logr,
	})

	ctx, drain := context.WithCancel(cmd.Context())
	defer drain()

	// The first signal drains the queue, a second one abandons it.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGHUP)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			logr.Info("Received signal, finishing queued speech", "signal", sig)
			drain()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			logr.Warn("Received second signal", "signal", sig)
			d.Abort()
		case <-done:
		}
	}()

	if err := d.Run(ctx); err != nil {
		logr.Error("Worker failed", "err", err)
		return err
	}
	return nil
}

// openJournal opens the history database and prunes expired entries.
func openJournal(ctx context.Context, state worker.State, cfg config.HistoryConfig, logr *log.Logger) (*history.Store, error) {
	store, err := history.NewStore(state.HistoryPath())
	if err != nil {
		return nil, err
	}
	if cfg.KeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.KeepDays)
		removed, err := store.Prune(ctx, cutoff)
		if err != nil {
			logr.Warn("Failed to prune playback history", "err", err)
		} else if removed > 0 {
			logr.Debug("Pruned playback history", "removed", removed, "keep_days", cfg.KeepDays)
		}
	}
	return store, nil
}
