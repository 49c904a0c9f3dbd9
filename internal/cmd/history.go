package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/history"
	"github.com/harrison/speak/internal/worker"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show what the background worker recently spoke",
		Long: `History lists recent chunks handled by the background worker, newest
first, with their outcome and how long synthesis and playback took.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of entries to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	dir, err := config.ResolveRuntimeDir(cfg)
	if err != nil {
		return err
	}
	path := worker.NewState(dir).HistoryPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(cmd.OutOrStdout(), "No playback history yet")
		return nil
	}

	store, err := history.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No playback history yet")
		return nil
	}
	printHistory(cmd.OutOrStdout(), entries)
	return nil
}

func printHistory(w io.Writer, entries []history.Entry) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		Headers("WHEN", "STATUS", "VOICE", "SYNTH", "PLAY", "SIZE", "CHUNK")
	for _, e := range entries {
		chunk := e.Label
		if e.Error != "" {
			chunk += "\n" + e.Error
		}
		t.Row(
			humanize.Time(e.CreatedAt),
			statusLabel(e.Status),
			e.Voice,
			formatDuration(e.SynthDuration),
			formatDuration(e.PlayDuration),
			humanize.Bytes(uint64(e.AudioBytes)),
			chunk,
		)
	}
	fmt.Fprintln(w, t.Render())
}

func statusLabel(s history.Status) string {
	switch s {
	case history.StatusPlayed:
		return color.GreenString(string(s))
	case history.StatusDropped:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}
