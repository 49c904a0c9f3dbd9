package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/history"
	"github.com/harrison/speak/internal/models"
	"github.com/harrison/speak/internal/worker"
)

func testWorkerConfig() config.WorkerConfig {
	cfg := config.DefaultConfig().Worker
	cfg.PollInterval = 20 * time.Millisecond
	cfg.IdleTimeout = time.Minute
	cfg.HandlerTimeout = 2 * time.Second
	return cfg
}

type running struct {
	daemon *Daemon
	state  worker.State
	cancel context.CancelFunc
	done   chan error
}

func startDaemon(t *testing.T, w config.WorkerConfig, synth *echoSynth, player *recordingPlayer, journal Journal) *running {
	t.Helper()
	state := worker.NewState(shortTempDir(t))
	d := New(Options{
		Worker:      w,
		Defaults:    models.DefaultDefaults(),
		State:       state,
		Synthesizer: synth,
		Player:      player,
		Journal:     journal,
	})

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{daemon: d, state: state, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		d.Abort()
		<-r.done
	})

	require.Eventually(t, func() bool { return state.Probe(100 * time.Millisecond) }, 2*time.Second, 10*time.Millisecond)
	return r
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit")
		return nil
	}
}

func request(text string) string {
	return fmt.Sprintf(`{"text":%q,"voice":"am_echo","speed":1.0,"lang":"en-us"}`, text)
}

func TestDaemon_QueuesInOrder(t *testing.T) {
	synth := &echoSynth{delay: func(text string) time.Duration {
		if text == "A long paragraph." {
			return 40 * time.Millisecond
		}
		return time.Millisecond
	}}
	player := &recordingPlayer{}
	r := startDaemon(t, testWorkerConfig(), synth, player, nil)

	pid, err := r.state.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("A long paragraph.")))
	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("Short reply.")))

	require.Eventually(t, func() bool { return len(player.Played()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A long paragraph.", "Short reply."}, player.Played())
}

func TestDaemon_MalformedRequest(t *testing.T) {
	player := &recordingPlayer{}
	r := startDaemon(t, testWorkerConfig(), &echoSynth{}, player, nil)

	assert.Equal(t, models.ReplyError, send(t, r.state.SocketFile, `{"text": nope}`))
	assert.Equal(t, models.ReplyError, send(t, r.state.SocketFile, `{"text":""}`))
	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("still alive")))

	require.Eventually(t, func() bool { return len(player.Played()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"still alive"}, player.Played())
}

func TestDaemon_AdmissionLimit(t *testing.T) {
	w := testWorkerConfig()
	w.MaxConnections = 2
	r := startDaemon(t, w, &echoSynth{}, &recordingPlayer{}, nil)

	// Two clients that connect and stall hold both slots.
	for i := 0; i < w.MaxConnections; i++ {
		conn, err := net.Dial("unix", r.state.SocketFile)
		require.NoError(t, err)
		defer conn.Close()
	}

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", r.state.SocketFile)
		if err != nil {
			return false
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(time.Second))
		reply, _ := io.ReadAll(conn)
		return string(reply) == models.ReplyBusy
	}, 2*time.Second, 20*time.Millisecond, "excess connection should be told BUSY")

	// The daemon keeps serving once the stalled clients time out.
	require.Eventually(t, func() bool {
		return sendNoFail(r.state.SocketFile, request("after the burst")) == models.ReplyOK
	}, 5*time.Second, 50*time.Millisecond)
}

// sendNoFail is send without test assertions, for use inside Eventually.
func sendNoFail(socket, body string) string {
	conn, err := net.DialTimeout("unix", socket, time.Second)
	if err != nil {
		return ""
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	io.WriteString(conn, body)
	conn.(*net.UnixConn).CloseWrite()
	reply, _ := io.ReadAll(conn)
	return string(reply)
}

func TestDaemon_IdleShutdownRemovesFiles(t *testing.T) {
	w := testWorkerConfig()
	w.IdleTimeout = 150 * time.Millisecond
	player := &recordingPlayer{}
	r := startDaemon(t, w, &echoSynth{}, player, nil)

	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("one last thing")))

	require.NoError(t, r.wait(t))
	assert.Equal(t, []string{"one last thing"}, player.Played(), "queued speech finishes before exit")
	assert.NoFileExists(t, r.state.PIDFile)
	assert.NoFileExists(t, r.state.SocketFile)
}

func TestDaemon_IdleWaitsForOutstandingWork(t *testing.T) {
	w := testWorkerConfig()
	w.IdleTimeout = 50 * time.Millisecond
	player := &recordingPlayer{gate: make(chan struct{})}
	r := startDaemon(t, w, &echoSynth{}, player, nil)

	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("slow to play")))
	time.Sleep(200 * time.Millisecond)
	assert.True(t, r.state.Probe(100*time.Millisecond), "daemon must not go idle while playing")

	player.gate <- struct{}{}
	require.NoError(t, r.wait(t))
	assert.Equal(t, []string{"slow to play"}, player.Played())
}

func TestDaemon_GracefulShutdownDrains(t *testing.T) {
	player := &recordingPlayer{gate: make(chan struct{})}
	journal := &memoryJournal{}
	r := startDaemon(t, testWorkerConfig(), &echoSynth{}, player, journal)

	for i := 0; i < 3; i++ {
		assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request(fmt.Sprintf("m%d", i))))
	}

	r.cancel()
	require.Eventually(t, func() bool { return !r.state.SocketExists() }, 2*time.Second, 10*time.Millisecond,
		"socket goes away as soon as shutdown starts")

	for i := 0; i < 3; i++ {
		player.gate <- struct{}{}
	}
	require.NoError(t, r.wait(t))
	assert.Equal(t, []string{"m0", "m1", "m2"}, player.Played())
	assert.Equal(t, 3, journal.Len())
	assert.NoFileExists(t, r.state.PIDFile)
}

func TestDaemon_AbortDropsQueue(t *testing.T) {
	player := &recordingPlayer{gate: make(chan struct{})}
	journal := &memoryJournal{}
	r := startDaemon(t, testWorkerConfig(), &echoSynth{}, player, journal)

	for i := 0; i < 3; i++ {
		assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request(fmt.Sprintf("m%d", i))))
	}
	r.cancel()
	r.daemon.Abort()

	require.NoError(t, r.wait(t))
	assert.Empty(t, player.Played())
	for label, status := range journal.Statuses() {
		assert.Equal(t, history.StatusDropped, status, label)
	}
}

func TestDaemon_RefusesLiveSocket(t *testing.T) {
	state := worker.NewState(shortTempDir(t))
	ln, err := net.Listen("unix", state.SocketFile)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	require.NoError(t, state.WritePID(os.Getpid()))

	d := New(Options{
		Worker:      testWorkerConfig(),
		Defaults:    models.DefaultDefaults(),
		State:       state,
		Synthesizer: &echoSynth{},
		Player:      &recordingPlayer{},
	})
	err = d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another worker")
	assert.NoFileExists(t, state.PIDFile, "a daemon that failed to bind must not claim liveness")
}

func TestDaemon_ReplacesStaleSocket(t *testing.T) {
	state := worker.NewState(shortTempDir(t))
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: state.SocketFile, Net: "unix"})
	require.NoError(t, err)
	stale.SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	require.FileExists(t, state.SocketFile)

	ln, err := Bind(state.SocketFile)
	require.NoError(t, err)
	defer ln.Close()
	assert.True(t, state.Probe(time.Second))
}

func TestDaemon_JournalStore(t *testing.T) {
	store, err := history.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	player := &recordingPlayer{}
	r := startDaemon(t, testWorkerConfig(), &echoSynth{fail: map[string]bool{"bad": true}}, player, store)

	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("good")))
	assert.Equal(t, models.ReplyOK, send(t, r.state.SocketFile, request("bad")))

	require.Eventually(t, func() bool {
		entries, err := store.Recent(context.Background(), 10)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	byStatus := map[history.Status]string{}
	for _, e := range entries {
		byStatus[e.Status] = e.Label
		assert.Equal(t, r.daemon.SessionID(), e.SessionID)
	}
	assert.Equal(t, "chunk #1: 'good...'", byStatus[history.StatusPlayed])
	assert.Equal(t, "chunk #2: 'bad...'", byStatus[history.StatusSynthesisFailed])
}
