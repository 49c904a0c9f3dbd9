package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/history"
	"github.com/harrison/speak/internal/tts"
	"github.com/harrison/speak/internal/worker"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the background worker is running",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	manager, err := newManager(cfg, nil, nil)
	if err != nil {
		return err
	}

	printStatus(cmd.Context(), cmd.OutOrStdout(), manager.Status())
	printSynthesisHealth(cmd.Context(), cmd.OutOrStdout(), cfg.Synthesis)
	return nil
}

// healthTimeout bounds the speech server check so status stays quick.
const healthTimeout = 2 * time.Second

// printSynthesisHealth reports whether the http synthesis server answers.
// Command backends have nothing to check.
func printSynthesisHealth(ctx context.Context, w io.Writer, cfg config.SynthesisConfig) {
	if cfg.Backend != config.SynthesisHTTP {
		fmt.Fprintf(w, "Speech:  %s backend\n", cfg.Backend)
		return
	}

	cfg.Timeout = healthTimeout
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	state := color.RedString("unreachable")
	if tts.NewClient(cfg).CheckHealth(ctx) {
		state = color.GreenString("reachable")
	}
	fmt.Fprintf(w, "Speech:  %s (%s)\n", cfg.BaseURL, state)
}

func printStatus(ctx context.Context, w io.Writer, st worker.Status) {
	switch {
	case st.Running && st.SocketLive:
		fmt.Fprintf(w, "Worker:  %s (pid %d)\n", color.GreenString("running"), st.PID)
	case st.Running:
		fmt.Fprintf(w, "Worker:  %s (pid %d, socket not accepting)\n", color.YellowString("unresponsive"), st.PID)
	default:
		fmt.Fprintf(w, "Worker:  %s\n", color.New(color.Faint).Sprint("stopped"))
	}
	fmt.Fprintf(w, "Socket:  %s\n", st.State.SocketFile)

	if info, err := os.Stat(st.State.LogFile); err == nil {
		fmt.Fprintf(w, "Log:     %s (%s, updated %s)\n", st.State.LogFile,
			humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
	} else {
		fmt.Fprintf(w, "Log:     %s\n", st.State.LogFile)
	}

	if summary := historySummary(ctx, st.State); summary != "" {
		fmt.Fprintf(w, "History: %s\n", summary)
	}
}

// historySummary counts journal outcomes, or returns "" when there is no
// journal yet.
func historySummary(ctx context.Context, state worker.State) string {
	if _, err := os.Stat(state.HistoryPath()); err != nil {
		return ""
	}
	store, err := history.NewStore(state.HistoryPath())
	if err != nil {
		return ""
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return ""
	}
	failed := counts[history.StatusSynthesisFailed] + counts[history.StatusPlaybackFailed]
	return fmt.Sprintf("%s played, %s failed, %s dropped",
		humanize.Comma(int64(counts[history.StatusPlayed])),
		humanize.Comma(int64(failed)),
		humanize.Comma(int64(counts[history.StatusDropped])))
}
