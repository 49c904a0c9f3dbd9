// Package daemon implements the speak queueing daemon: a socket listener
// with an admission gate and idle monitor feeding a two-stage
// synthesis/playback pipeline.
package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/models"
	"github.com/harrison/speak/internal/tts"
	"github.com/harrison/speak/internal/worker"
)

// Options configures a Daemon.
type Options struct {
	Worker      config.WorkerConfig
	Defaults    models.Defaults
	State       worker.State
	Synthesizer tts.Synthesizer
	Player      tts.Player

	// Journal is optional.
	Journal Journal

	// Logger defaults to discarding output.
	Logger *log.Logger

	// SessionID defaults to a random UUID.
	SessionID string
}

// Daemon owns the socket, the PID file and the pipeline for one run.
type Daemon struct {
	opts   Options
	logger *log.Logger

	// hard is cancelled by Abort. It is deliberately separate from the
	// context passed to Run, whose cancellation only starts a drain.
	hard  context.Context
	abort context.CancelFunc
}

// New creates a daemon.
func New(opts Options) *Daemon {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	hard, abort := context.WithCancel(context.Background())
	return &Daemon{
		opts:   opts,
		logger: opts.Logger.With("session", shortID(opts.SessionID)),
		hard:   hard,
		abort:  abort,
	}
}

// SessionID identifies this daemon run in logs and the journal.
func (d *Daemon) SessionID() string {
	return d.opts.SessionID
}

// Abort interrupts synthesis and playback in progress and drops queued
// work. Run still returns only after cleanup.
func (d *Daemon) Abort() {
	d.logger.Warn("Aborting, queued speech will be dropped")
	d.abort()
}

// Run binds the socket, records the PID and serves until ctx is cancelled
// or the daemon has been idle for the configured timeout. On the way out it
// stops accepting, lets in-flight handlers finish, drains the pipeline and
// removes its files. A failure to bind is returned without leaving a PID
// file behind.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.abort()

	pid := os.Getpid()
	state := d.opts.State
	w := d.opts.Worker

	ln, err := Bind(state.SocketFile)
	if err != nil {
		if rmErr := state.RemovePIDIfOwned(pid); rmErr != nil {
			d.logger.Warn("Failed to remove pid file", "err", rmErr)
		}
		return err
	}
	defer func() {
		if err := state.RemovePIDIfOwned(pid); err != nil {
			d.logger.Warn("Failed to remove pid file", "err", err)
		}
	}()

	activity := NewActivity()
	pipeline := NewPipeline(d.opts.Synthesizer, d.opts.Player, PipelineOptions{
		QueueSize:  w.QueueSize,
		BufferSize: w.BufferSize,
		SessionID:  d.opts.SessionID,
		Journal:    d.opts.Journal,
		Logger:     d.logger,
	})
	handler := NewHandler(pipeline, d.opts.Defaults, activity, d.logger, w.HandlerTimeout, w.MaxRequestBytes)
	listener := NewListener(ln, handler, activity, pipeline, d.logger, ListenerOptions{
		MaxConnections: w.MaxConnections,
		PollInterval:   w.PollInterval,
		IdleTimeout:    w.IdleTimeout,
	})

	if err := state.WritePID(pid); err != nil {
		listener.Close()
		return err
	}

	d.logger.Info("Worker started",
		"pid", pid,
		"socket", state.SocketFile,
		"idle_timeout", w.IdleTimeout,
		"max_connections", w.MaxConnections,
		"buffer_size", w.BufferSize)

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		pipeline.Run(d.hard)
	}()

	serveErr := listener.Serve(ctx)
	switch {
	case errors.Is(serveErr, ErrIdle):
		d.logger.Info("Shutting down after idle timeout")
	case serveErr != nil:
		d.logger.Error("Listener failed", "err", serveErr)
	default:
		d.logger.Info("Shutdown requested")
	}

	start := time.Now()
	if err := listener.Close(); err != nil {
		d.logger.Warn("Failed to close listener", "err", err)
	}
	pipeline.Close()
	if n := pipeline.Outstanding(); n > 0 {
		d.logger.Info("Draining queued speech", "remaining", n)
	}
	<-pipelineDone
	d.logger.Info("Worker stopped", "drain", time.Since(start).Round(time.Millisecond))

	if errors.Is(serveErr, ErrIdle) {
		return nil
	}
	return serveErr
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
