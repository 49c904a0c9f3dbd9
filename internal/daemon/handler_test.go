package daemon

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/speak/internal/models"
)

type fakeQueue struct {
	got []models.QueueMessage
	err error
}

func (q *fakeQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	if q.err != nil {
		return q.err
	}
	q.got = append(q.got, msg)
	return nil
}

// socketPair returns both ends of a unix socket connection.
func socketPair(t *testing.T) (net.Conn, *net.UnixConn) {
	t.Helper()
	path := filepath.Join(shortTempDir(t), "h.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok, "accept failed")
	return server, client.(*net.UnixConn)
}

// exchange sends body to h the way a client does and returns the reply.
func exchange(t *testing.T, h *Handler, body string) string {
	t.Helper()
	server, client := socketPair(t)
	defer client.Close()

	go h.Handle(context.Background(), server)

	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := client.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, client.CloseWrite())

	reply, err := io.ReadAll(client)
	// The daemon may close with part of an oversized request unread, which
	// resets the connection after the reply has been delivered.
	if err != nil && len(reply) == 0 {
		require.NoError(t, err)
	}
	return string(reply)
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		queueErr error
		want     string
		queued   bool
	}{
		{name: "valid request", body: `{"text":"Hello","voice":"af_sarah","speed":1.2,"lang":"en-gb"}`, want: models.ReplyOK, queued: true},
		{name: "defaults fill missing fields", body: `{"text":"Hello"}`, want: models.ReplyOK, queued: true},
		{name: "malformed json", body: `{"text":`, want: models.ReplyError},
		{name: "not json", body: "hello there", want: models.ReplyError},
		{name: "empty text", body: `{"text":"   "}`, want: models.ReplyError},
		{name: "speed out of range", body: `{"text":"hi","speed":9}`, want: models.ReplyError},
		{name: "oversized body", body: `{"text":"` + strings.Repeat("a", 200) + `"}`, want: models.ReplyError},
		{name: "pipeline closed", body: `{"text":"hi"}`, queueErr: ErrPipelineClosed, want: models.ReplyBusy},
		{name: "queue full", body: `{"text":"hi"}`, queueErr: ErrQueueFull, want: models.ReplyBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{err: tt.queueErr}
			activity := NewActivity()
			time.Sleep(20 * time.Millisecond)

			h := NewHandler(queue, models.DefaultDefaults(), activity, log.New(io.Discard), time.Second, 128)
			reply := exchange(t, h, tt.body)

			assert.Equal(t, tt.want, reply)
			assert.Equal(t, tt.queued, len(queue.got) == 1)
			if tt.queued {
				assert.Less(t, activity.Since(), 20*time.Millisecond, "accepted message must refresh activity")
			} else {
				assert.GreaterOrEqual(t, activity.Since(), 20*time.Millisecond, "rejected message must not refresh activity")
			}
		})
	}
}

func TestHandler_AppliesDefaults(t *testing.T) {
	queue := &fakeQueue{}
	defaults := models.Defaults{Voice: "bm_george", Speed: 1.3, Lang: "en-gb"}
	h := NewHandler(queue, defaults, NewActivity(), log.New(io.Discard), time.Second, 1024)

	assert.Equal(t, models.ReplyOK, exchange(t, h, `{"text":"Hello"}`))
	if assert.Len(t, queue.got, 1) {
		assert.Equal(t, models.QueueMessage{Text: "Hello", Voice: "bm_george", Speed: 1.3, Lang: "en-gb"}, queue.got[0])
	}
}

func TestHandler_StalledClientReleasesSlot(t *testing.T) {
	queue := &fakeQueue{}
	h := NewHandler(queue, models.DefaultDefaults(), NewActivity(), log.New(io.Discard), 50*time.Millisecond, 1024)

	server, client := socketPair(t)
	defer client.Close()
	// Send part of a request and never close the write side.
	_, err := client.Write([]byte(`{"text":"hel`))
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Handle(context.Background(), server)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not give up on a stalled client")
	}
	assert.Empty(t, queue.got)
}
