package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/speak/internal/models"
)

const (
	backendCommand  = "command"
	filePlaceholder = "{file}"
)

// CommandSynthesizer runs an external program per request, writing the text
// to its stdin and reading WAV audio from its stdout.
// Arguments may reference {voice}, {speed} and {lang}.
type CommandSynthesizer struct {
	command []string
	timeout time.Duration
}

// NewCommandSynthesizer creates a synthesizer around command.
// A non-positive timeout disables the per-call deadline.
func NewCommandSynthesizer(command []string, timeout time.Duration) (*CommandSynthesizer, error) {
	if len(command) == 0 {
		return nil, errors.New("synthesis command is empty")
	}
	return &CommandSynthesizer{command: command, timeout: timeout}, nil
}

// Synthesize runs the command for msg and returns its stdout.
func (s *CommandSynthesizer) Synthesize(ctx context.Context, msg models.QueueMessage) ([]byte, error) {
	replacer := strings.NewReplacer(
		"{voice}", msg.Voice,
		"{speed}", strconv.FormatFloat(msg.Speed, 'f', -1, 64),
		"{lang}", msg.Lang,
	)
	args := make([]string, len(s.command))
	for i, arg := range s.command {
		args[i] = replacer.Replace(arg)
	}

	out, err := run(ctx, s.timeout, strings.NewReader(msg.Text), args)
	if err != nil {
		return nil, &Error{Backend: backendCommand, Op: "synthesize", Err: err}
	}
	if len(out) == 0 {
		return nil, &Error{Backend: backendCommand, Op: "synthesize", Err: errors.New("command produced no audio")}
	}
	return out, nil
}

// CommandPlayer plays audio through an external program such as ffplay,
// aplay or afplay. Audio goes to the program's stdin unless an argument
// contains {file}, in which case it is written to a temp file first.
type CommandPlayer struct {
	command []string
	timeout time.Duration
}

// NewCommandPlayer creates a player around command.
// A non-positive timeout lets playback run as long as the program does.
func NewCommandPlayer(command []string, timeout time.Duration) (*CommandPlayer, error) {
	if len(command) == 0 {
		return nil, errors.New("playback command is empty")
	}
	return &CommandPlayer{command: command, timeout: timeout}, nil
}

// Play blocks until the program exits.
func (p *CommandPlayer) Play(ctx context.Context, audio []byte) error {
	if !p.usesFile() {
		if _, err := run(ctx, p.timeout, bytes.NewReader(audio), p.command); err != nil {
			return &Error{Backend: backendCommand, Op: "play", Err: err}
		}
		return nil
	}

	tmpFile, err := os.CreateTemp("", "speak-*.wav")
	if err != nil {
		return &Error{Backend: backendCommand, Op: "play", Err: err}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	_, err = tmpFile.Write(audio)
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return &Error{Backend: backendCommand, Op: "play", Err: fmt.Errorf("write temp file: %w", err)}
	}

	args := make([]string, len(p.command))
	for i, arg := range p.command {
		args[i] = strings.ReplaceAll(arg, filePlaceholder, tmpPath)
	}
	if _, err := run(ctx, p.timeout, nil, args); err != nil {
		return &Error{Backend: backendCommand, Op: "play", Err: err}
	}
	return nil
}

func (p *CommandPlayer) usesFile() bool {
	for _, arg := range p.command {
		if strings.Contains(arg, filePlaceholder) {
			return true
		}
	}
	return false
}

// run executes args with stdin attached before start and returns stdout.
// stderr is quoted in the error when the program fails.
func run(parent context.Context, timeout time.Duration, stdin io.Reader, args []string) ([]byte, error) {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		// Only our own deadline is reported as a timeout; the caller's
		// cancellation or deadline is passed through.
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %v", args[0], timeout)
		}
		return nil, fmt.Errorf("%s cancelled: %w", args[0], ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}
