package daemon

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harrison/speak/internal/history"
	"github.com/harrison/speak/internal/models"
	"github.com/harrison/speak/internal/tts"
)

// journalTimeout bounds one journal write so a locked database cannot stall
// a pipeline stage.
const journalTimeout = 2 * time.Second

var (
	// ErrPipelineClosed is returned by Enqueue once shutdown has begun.
	ErrPipelineClosed = errors.New("pipeline is shutting down")

	// ErrQueueFull is returned by Enqueue when no queue slot frees up in time.
	ErrQueueFull = errors.New("request queue is full")
)

// Journal records the outcome of each queued message.
type Journal interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Pipeline connects a single generator goroutine, which synthesizes queued
// messages, to a single player goroutine through a bounded buffer. Both
// stages consume in order, so playback order equals enqueue order, and the
// buffer capacity caps how far synthesis can run ahead of playback.
type Pipeline struct {
	synth   tts.Synthesizer
	player  tts.Player
	journal Journal
	logger  *log.Logger
	session string

	requests chan models.QueueMessage
	buffer   chan models.AudioChunk

	mu     sync.RWMutex
	closed bool

	// outstanding counts accepted messages that have not reached a final
	// outcome yet.
	outstanding atomic.Int64
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	QueueSize  int
	BufferSize int
	SessionID  string
	Journal    Journal
	Logger     *log.Logger
}

// NewPipeline creates a pipeline. Journal and Logger are optional.
func NewPipeline(synth tts.Synthesizer, player tts.Player, opts PipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Pipeline{
		synth:    synth,
		player:   player,
		journal:  opts.Journal,
		logger:   logger,
		session:  opts.SessionID,
		requests: make(chan models.QueueMessage, opts.QueueSize),
		buffer:   make(chan models.AudioChunk, opts.BufferSize),
	}
}

// Enqueue hands msg to the generator. It blocks while the request queue is
// full and gives up with ErrQueueFull when ctx is done.
func (p *Pipeline) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}

	p.outstanding.Add(1)
	select {
	case p.requests <- msg:
		return nil
	case <-ctx.Done():
		p.outstanding.Add(-1)
		return ErrQueueFull
	}
}

// Close stops accepting messages. Messages already queued are still
// processed; Run returns once they are done.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.requests)
	}
}

// Outstanding returns the number of accepted messages without a final
// outcome: queued, being synthesized, buffered or playing.
func (p *Pipeline) Outstanding() int {
	return int(p.outstanding.Load())
}

// Pending returns the number of messages waiting for synthesis.
func (p *Pipeline) Pending() int {
	return len(p.requests)
}

// Buffered returns the number of synthesized chunks waiting for playback.
func (p *Pipeline) Buffered() int {
	return len(p.buffer)
}

// Run executes both stages until Close has been called and all queued work
// is finished. Cancelling ctx aborts in-flight synthesis and playback and
// drops whatever remains.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.generate(ctx)
	}()
	p.play(ctx)
	wg.Wait()
}

func (p *Pipeline) generate(ctx context.Context) {
	defer close(p.buffer)

	seq := 0
	for msg := range p.requests {
		seq++
		entry := p.newEntry(seq, msg)

		if ctx.Err() != nil {
			p.finish(ctx, entry, history.StatusDropped, nil)
			continue
		}

		start := time.Now()
		audio, err := p.synth.Synthesize(ctx, msg)
		entry.SynthDuration = time.Since(start)
		if err != nil && ctx.Err() != nil {
			p.finish(ctx, entry, history.StatusDropped, err)
			continue
		}
		if err != nil {
			p.logger.Error("Generation failed", "chunk", entry.Label, "err", err)
			p.finish(ctx, entry, history.StatusSynthesisFailed, err)
			continue
		}
		entry.AudioBytes = len(audio)
		p.logger.Debug("Generated", "chunk", entry.Label, "bytes", len(audio), "took", entry.SynthDuration.Round(time.Millisecond))

		chunk := models.AudioChunk{Seq: seq, Label: entry.Label, Audio: audio, Message: msg}
		select {
		case p.buffer <- chunk:
		case <-ctx.Done():
			p.finish(ctx, entry, history.StatusDropped, nil)
		}
	}
	p.logger.Debug("Generator finished")
}

func (p *Pipeline) play(ctx context.Context) {
	for chunk := range p.buffer {
		entry := p.newEntry(chunk.Seq, chunk.Message)
		entry.AudioBytes = len(chunk.Audio)

		if ctx.Err() != nil {
			p.finish(ctx, entry, history.StatusDropped, nil)
			continue
		}

		p.logger.Info("Playing", "chunk", chunk.Label)
		start := time.Now()
		err := p.player.Play(ctx, chunk.Audio)
		entry.PlayDuration = time.Since(start)
		if err != nil && ctx.Err() != nil {
			p.finish(ctx, entry, history.StatusDropped, err)
			continue
		}
		if err != nil {
			p.logger.Error("Playback failed", "chunk", chunk.Label, "err", err)
			p.finish(ctx, entry, history.StatusPlaybackFailed, err)
			continue
		}
		p.logger.Debug("Played", "chunk", chunk.Label, "took", entry.PlayDuration.Round(time.Millisecond))
		p.finish(ctx, entry, history.StatusPlayed, nil)
	}
	p.logger.Debug("Player finished")
}

func (p *Pipeline) newEntry(seq int, msg models.QueueMessage) *history.Entry {
	return &history.Entry{
		SessionID: p.session,
		Seq:       seq,
		Label:     models.ChunkLabel(seq, msg),
		Voice:     msg.Voice,
		Speed:     msg.Speed,
		Lang:      msg.Lang,
	}
}

// finish records the final outcome of one message.
func (p *Pipeline) finish(ctx context.Context, entry *history.Entry, status history.Status, cause error) {
	defer p.outstanding.Add(-1)

	if status == history.StatusDropped {
		p.logger.Warn("Dropped", "chunk", entry.Label)
	}
	if p.journal == nil {
		return
	}

	entry.Status = status
	if cause != nil {
		entry.Error = cause.Error()
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := p.journal.Record(jctx, entry); err != nil {
		p.logger.Warn("Failed to journal chunk", "chunk", entry.Label, "err", err)
	}
}
