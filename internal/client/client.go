// Package client submits speech requests to the speak daemon, starting or
// restarting it as needed.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/models"
)

// maxReplyBytes is longer than any reply token.
const maxReplyBytes = 16

var (
	// ErrRejected is returned when the daemon answers ERROR. Retrying the
	// same request cannot succeed.
	ErrRejected = errors.New("worker rejected the request")

	// ErrUnavailable is returned when the daemon could not be reached or
	// stayed busy for every attempt.
	ErrUnavailable = errors.New("worker unavailable")

	// errBusy marks a BUSY reply.
	errBusy = errors.New("worker busy")
)

// Starter brings the daemon up. *worker.Manager implements it.
type Starter interface {
	EnsureRunning(ctx context.Context) (bool, error)
	Restart(ctx context.Context) (bool, error)
}

// Logger receives client progress. *logger.ConsoleLogger implements it.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
	LogStep(step string, elapsed time.Duration)
}

// Client submits messages to the daemon listening on a socket.
type Client struct {
	socket  string
	starter Starter
	cfg     config.ClientConfig
	logger  Logger
}

// New creates a client. logger may be nil.
func New(socket string, starter Starter, cfg config.ClientConfig, logger Logger) *Client {
	return &Client{
		socket:  socket,
		starter: starter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Submit delivers msg to the daemon and returns once the daemon has
// acknowledged queueing it, not once it has been spoken.
//
// A missing socket or refused connection is taken to mean the daemon
// crashed: it is restarted and the request retried. Timeouts and BUSY
// replies are retried after a short backoff. ERROR is final.
func (c *Client) Submit(ctx context.Context, msg models.QueueMessage) error {
	body, err := msg.Marshal()
	if err != nil {
		return err
	}

	total := time.Now()
	step := time.Now()
	if _, err := c.starter.EnsureRunning(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.step("Ensure worker", step)

	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.debug(fmt.Sprintf("Connecting to socket (attempt %d)", attempt))

		lastErr = c.send(ctx, body)
		switch {
		case lastErr == nil:
			c.step("Total", total)
			return nil
		case errors.Is(lastErr, ErrRejected):
			return lastErr
		case ctx.Err() != nil:
			return ctx.Err()
		case endpointGone(lastErr):
			if attempt == attempts {
				break
			}
			c.warn("Worker socket not found, restarting worker...")
			if _, err := c.starter.Restart(ctx); err != nil {
				lastErr = fmt.Errorf("restart worker: %w", err)
			}
		case isTimeout(lastErr):
			c.warn(fmt.Sprintf("Connection timeout (attempt %d/%d)", attempt, attempts))
		case errors.Is(lastErr, errBusy):
			c.warn(fmt.Sprintf("Worker busy (attempt %d/%d)", attempt, attempts))
		default:
			c.warn(fmt.Sprintf("Error sending to worker: %v", lastErr))
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}

// send performs one exchange: connect, write the body, close the write
// side and read the reply token.
func (c *Client) send(ctx context.Context, body []byte) error {
	step := time.Now()
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.step("Connect", step)

	if err := conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		return err
	}

	step = time.Now()
	_, writeErr := conn.Write(body)
	if writeErr == nil {
		if uc, ok := conn.(*net.UnixConn); ok {
			writeErr = uc.CloseWrite()
		}
	}
	c.step("Send", step)

	// A daemon at its connection limit answers BUSY without reading, so a
	// failed write may still be followed by a readable reply.
	step = time.Now()
	reply, readErr := io.ReadAll(io.LimitReader(conn, maxReplyBytes))
	c.step("Receive", step)

	token := strings.TrimSpace(string(reply))
	if token == "" {
		if writeErr != nil {
			return writeErr
		}
		if readErr != nil {
			return readErr
		}
		return errors.New("worker closed the connection without replying")
	}

	switch token {
	case models.ReplyOK:
		return nil
	case models.ReplyBusy:
		return errBusy
	case models.ReplyError:
		return ErrRejected
	default:
		return fmt.Errorf("unexpected reply %q", token)
	}
}

// endpointGone reports errors meaning nothing is listening on the socket.
func endpointGone(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) step(name string, start time.Time) {
	if c.logger != nil {
		c.logger.LogStep(name, time.Since(start))
	}
}

func (c *Client) debug(message string) {
	if c.logger != nil {
		c.logger.LogDebug(message)
	}
}

func (c *Client) warn(message string) {
	if c.logger != nil {
		c.logger.LogWarn(message)
	}
}
