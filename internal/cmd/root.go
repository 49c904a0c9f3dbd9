package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harrison/speak/internal/client"
	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/logger"
	"github.com/harrison/speak/internal/models"
	"github.com/harrison/speak/internal/parser"
	"github.com/harrison/speak/internal/tts"
	"github.com/harrison/speak/internal/worker"
)

// Version is injected at build time via -ldflags
var Version = "dev"

var (
	errNoText    = errors.New("no text provided, use as argument or pipe from stdin (try: speak --help)")
	errEmptyText = errors.New("empty text provided")
)

// NewRootCommand creates and returns the root cobra command for speak
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speak [text]",
		Short: "Text-to-speech with a background playback queue",
		Long: `Speak converts text to speech and plays it.

By default the text is synthesized and played immediately. With --queue each
line of input is handed to a background worker that synthesizes the next
chunk while the current one plays, so consecutive chunks play without gaps.
The worker starts on demand and exits after a period of inactivity.

Examples:
  speak "Hello world"
  speak "Hello world" --voice am_adam
  speak "Hello world" -v af_nova --speed 1.2
  echo "This is a test" | speak
  printf 'First chunk\nSecond chunk\n' | speak --queue
  speak --queue --markdown < NOTES.md

Popular voices:
  American female: af_sarah, af_river, af_bella
  American male: am_echo, am_puck, am_liam
  British female: bf_alice, bf_emma
  British male: bm_fable, bm_daniel`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		RunE:          runSpeak,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/speak/config.yaml)")
	cmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging for debugging")

	cmd.Flags().StringP("voice", "v", models.DefaultVoice, "Voice to use")
	cmd.Flags().Float64P("speed", "s", models.DefaultSpeed, "Speech speed (0.5 to 2.0)")
	cmd.Flags().StringP("lang", "l", models.DefaultLang, "Language code")
	cmd.Flags().Bool("queue", false, "Queue each input line on the background worker for gap-free playback")
	cmd.Flags().Bool("markdown", false, "Treat input as markdown: skip code and URLs, one chunk per block")

	cmd.AddCommand(NewWorkerCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewStopCommand())
	cmd.AddCommand(NewVoicesCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}

// loadConfig reads the config file, environment and flags, in increasing
// order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = path
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	var voice, lang, logLevel *string
	var speed *float64
	if cmd.Flags().Changed("voice") {
		v, _ := cmd.Flags().GetString("voice")
		voice = &v
	}
	if cmd.Flags().Changed("speed") {
		s, _ := cmd.Flags().GetFloat64("speed")
		speed = &s
	}
	if cmd.Flags().Changed("lang") {
		l, _ := cmd.Flags().GetString("lang")
		lang = &l
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level := "debug"
		logLevel = &level
	}
	cfg.MergeWithFlags(voice, speed, lang, logLevel)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// workerArgs returns the flags a spawned worker needs to load the same
// configuration as the client. The worker runs in the runtime directory,
// so the config path is made absolute.
func workerArgs(cmd *cobra.Command) ([]string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", configPath, err)
	}
	return []string{"--config", abs}, nil
}

// newManager wires the lifecycle manager for the configured runtime directory.
func newManager(cfg *config.Config, spawner worker.Spawner, console *logger.ConsoleLogger) (*worker.Manager, error) {
	dir, err := config.ResolveRuntimeDir(cfg)
	if err != nil {
		return nil, err
	}
	return worker.NewManager(worker.NewState(dir), spawner, cfg.Worker.StartTimeout, console), nil
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	console := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	queue, _ := cmd.Flags().GetBool("queue")
	markdown, _ := cmd.Flags().GetBool("markdown")

	stdin := cmd.InOrStdin()
	texts, err := readTexts(args, stdin, isTerminal(stdin), queue, markdown)
	if err != nil {
		return err
	}

	if !queue {
		return speakNow(cmd.Context(), cfg, console, texts[0])
	}

	spawnArgs, err := workerArgs(cmd)
	if err != nil {
		return err
	}
	spawner, err := worker.NewProcessSpawner(spawnArgs...)
	if err != nil {
		return err
	}
	manager, err := newManager(cfg, spawner, console)
	if err != nil {
		return err
	}
	submitter := client.New(manager.State().SocketFile, manager, cfg.Client, console)
	return queueTexts(cmd.Context(), cfg, console, submitter, texts)
}

// submitter is the part of client.Client queue mode uses.
type submitter interface {
	Submit(ctx context.Context, msg models.QueueMessage) error
}

// queueTexts submits each text as one chunk, in order, stopping at the
// first failure.
func queueTexts(ctx context.Context, cfg *config.Config, console *logger.ConsoleLogger, c submitter, texts []string) error {
	defaults := cfg.Defaults()
	for i, text := range texts {
		console.LogChunkQueued(i+1, len(texts))
		msg := models.NewQueueMessage(text, cfg.Voice, cfg.Speed, cfg.Lang, defaults)
		if err := c.Submit(ctx, msg); err != nil {
			return fmt.Errorf("failed to queue chunk %d: %w", i+1, err)
		}
	}
	console.LogDebug(fmt.Sprintf("Successfully queued %d chunk(s)", len(texts)))
	return nil
}

// speakNow synthesizes and plays text in this process, bypassing the worker.
func speakNow(ctx context.Context, cfg *config.Config, console *logger.ConsoleLogger, text string) error {
	msg := models.NewQueueMessage(text, cfg.Voice, cfg.Speed, cfg.Lang, cfg.Defaults())
	if err := msg.Validate(); err != nil {
		return err
	}

	synth, err := tts.NewSynthesizer(cfg.Synthesis)
	if err != nil {
		return err
	}
	player, err := tts.NewPlayer(cfg.Playback)
	if err != nil {
		return err
	}

	start := time.Now()
	audio, err := synth.Synthesize(ctx, msg)
	if err != nil {
		return err
	}
	console.LogStep("Generate", time.Since(start))

	start = time.Now()
	if err := player.Play(ctx, audio); err != nil {
		return err
	}
	console.LogStep("Play", time.Since(start))
	return nil
}

// readTexts resolves the chunks to speak. A positional argument is one
// chunk. Piped input is one chunk, or one chunk per non-empty line in queue
// mode. With markdown, chunks are the document's speakable blocks.
func readTexts(args []string, stdin io.Reader, interactive, queue, markdown bool) ([]string, error) {
	var content string
	switch {
	case len(args) > 0:
		content = strings.Join(args, " ")
	case interactive:
		return nil, errNoText
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		content = string(data)
	}

	var texts []string
	switch {
	case markdown:
		blocks, err := parser.NewMarkdownParser().Blocks(strings.NewReader(content))
		if err != nil {
			return nil, err
		}
		if queue {
			texts = blocks
		} else if len(blocks) > 0 {
			texts = []string{strings.Join(blocks, "\n")}
		}
	case queue && len(args) == 0:
		for _, line := range strings.Split(content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				texts = append(texts, line)
			}
		}
	default:
		if content = strings.TrimSpace(content); content != "" {
			texts = []string{content}
		}
	}

	if len(texts) == 0 {
		return nil, errEmptyText
	}
	return texts, nil
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
