package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harrison/speak/internal/history"
	"github.com/harrison/speak/internal/models"
)

// shortTempDir keeps socket paths under the unix socket path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "speakd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// echoSynth returns the message text as "audio" after an optional delay.
type echoSynth struct {
	mu    sync.Mutex
	calls int
	delay func(text string) time.Duration
	fail  map[string]bool
}

func (s *echoSynth) Synthesize(ctx context.Context, msg models.QueueMessage) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay != nil {
		select {
		case <-time.After(s.delay(msg.Text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail[msg.Text] {
		return nil, fmt.Errorf("unknown voice %q", msg.Voice)
	}
	return []byte(msg.Text), nil
}

func (s *echoSynth) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingPlayer remembers what it played. When gate is non-nil each Play
// waits for a value on it.
type recordingPlayer struct {
	mu     sync.Mutex
	played []string
	gate   chan struct{}
	fail   map[string]bool
}

func (p *recordingPlayer) Play(ctx context.Context, audio []byte) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.fail[string(audio)] {
		return errors.New("device busy")
	}
	p.mu.Lock()
	p.played = append(p.played, string(audio))
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

// memoryJournal collects entries in memory.
type memoryJournal struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (j *memoryJournal) Record(ctx context.Context, e *history.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return nil
}

func (j *memoryJournal) Statuses() map[string]history.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]history.Status)
	for _, e := range j.entries {
		out[e.Label] = e.Status
	}
	return out
}

func (j *memoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func message(text string) models.QueueMessage {
	return models.NewQueueMessage(text, "", 0, "", models.DefaultDefaults())
}

// send submits body the way the client does and returns the reply.
func send(t *testing.T, socket string, body string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", socket, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, body)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	reply, err := io.ReadAll(conn)
	// The daemon may close with part of an oversized request unread, which
	// resets the connection after the reply has been delivered.
	if err != nil && len(reply) == 0 {
		require.NoError(t, err)
	}
	return string(reply)
}
