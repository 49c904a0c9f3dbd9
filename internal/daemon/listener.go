package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harrison/speak/internal/models"
)

// ErrIdle is returned by Serve when the idle timeout elapsed.
var ErrIdle = errors.New("idle timeout")

// maxAcceptDelay caps the backoff after repeated accept failures.
const maxAcceptDelay = time.Second

// IdleChecker reports whether there is no unfinished work.
type IdleChecker interface {
	Outstanding() int
}

// Listener accepts connections on the daemon socket. It bounds concurrently
// served connections with a Gate and turns excess connections away with
// BUSY instead of queueing them. The accept loop wakes every poll interval
// to check for idleness.
type Listener struct {
	ln           *net.UnixListener
	path         string
	handler      *Handler
	gate         *Gate
	activity     *Activity
	work         IdleChecker
	logger       *log.Logger
	pollInterval time.Duration
	idleTimeout  time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	MaxConnections int
	PollInterval   time.Duration
	IdleTimeout    time.Duration
}

// Bind creates the socket at path. A socket file left by a dead daemon is
// removed first; a socket that still accepts connections means another
// daemon owns it, and binding fails.
func Bind(path string) (*net.UnixListener, error) {
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return nil, fmt.Errorf("another worker is listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	// The file is removed by Close, not when the listener is garbage collected.
	ln.SetUnlinkOnClose(false)
	return ln, nil
}

// NewListener wraps ln. work is consulted by the idle check.
func NewListener(ln *net.UnixListener, handler *Handler, activity *Activity, work IdleChecker, logger *log.Logger, opts ListenerOptions) *Listener {
	return &Listener{
		ln:           ln,
		path:         ln.Addr().String(),
		handler:      handler,
		gate:         NewGate(opts.MaxConnections),
		activity:     activity,
		work:         work,
		logger:       logger,
		pollInterval: opts.PollInterval,
		idleTimeout:  opts.IdleTimeout,
	}
}

// Serve accepts connections until ctx is done (returning nil), the idle
// timeout elapses (returning ErrIdle), or accepting fails permanently.
// Handlers started by Serve keep running; Close waits for them.
func (l *Listener) Serve(ctx context.Context) error {
	// Shutdown must not cut off a handler that already read its request;
	// each handler is bounded by its own deadline instead.
	handlerCtx := context.WithoutCancel(ctx)

	var delay time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.ln.SetDeadline(time.Now().Add(l.pollInterval)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
		conn, err := l.ln.Accept()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, net.ErrClosed):
				return nil
			case errors.As(err, &netErr) && netErr.Timeout():
				if l.idle() {
					l.logger.Info("Idle timeout reached", "idle", l.activity.Since().Round(time.Second))
					return ErrIdle
				}
				continue
			}

			// Back off on transient failures such as EMFILE.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			l.logger.Error("Accept failed", "err", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if !l.gate.TryAcquire() {
			l.logger.Warn("Connection limit reached, rejecting", "limit", l.gate.capacity)
			writeReply(conn, models.ReplyBusy)
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.gate.Release()
			l.handler.Handle(handlerCtx, conn)
		}()
	}
}

func (l *Listener) idle() bool {
	return l.work.Outstanding() == 0 && l.activity.Since() >= l.idleTimeout
}

// Close stops accepting, removes the socket file so new clients start a
// fresh daemon, and waits for in-flight handlers to finish.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	})
	l.wg.Wait()
	return err
}
