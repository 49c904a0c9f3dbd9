package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harrison/speak/internal/models"
)

// replyTimeout bounds writing a reply to a client that stopped reading.
const replyTimeout = time.Second

// Enqueuer accepts parsed messages for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
}

// Handler serves one client connection: it reads the whole request until
// the client closes its write side, parses it, enqueues it and replies
// with a single token.
type Handler struct {
	queue    Enqueuer
	defaults models.Defaults
	activity *Activity
	logger   *log.Logger
	timeout  time.Duration
	maxBytes int64
}

// NewHandler creates a handler. timeout bounds the whole exchange and
// maxBytes caps the request body.
func NewHandler(queue Enqueuer, defaults models.Defaults, activity *Activity, logger *log.Logger, timeout time.Duration, maxBytes int64) *Handler {
	return &Handler{
		queue:    queue,
		defaults: defaults,
		activity: activity,
		logger:   logger,
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

// Handle processes conn and closes it.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	deadline := time.Now().Add(h.timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		h.logger.Warn("Failed to set connection deadline", "err", err)
	}

	reply, err := h.process(ctx, conn, deadline)
	if err != nil {
		h.logger.Error("Rejected request", "reply", reply, "err", err)
	}
	writeReply(conn, reply)
}

func (h *Handler) process(ctx context.Context, conn net.Conn, deadline time.Time) (string, error) {
	data, err := io.ReadAll(io.LimitReader(conn, h.maxBytes+1))
	if err != nil {
		return models.ReplyError, fmt.Errorf("read request: %w", err)
	}
	if int64(len(data)) > h.maxBytes {
		return models.ReplyError, fmt.Errorf("request exceeds %d bytes", h.maxBytes)
	}

	msg, err := models.ParseQueueMessage(data, h.defaults)
	if err != nil {
		return models.ReplyError, err
	}

	enqueueCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := h.queue.Enqueue(enqueueCtx, msg); err != nil {
		if errors.Is(err, ErrPipelineClosed) || errors.Is(err, ErrQueueFull) {
			return models.ReplyBusy, err
		}
		return models.ReplyError, err
	}

	h.activity.Touch()
	h.logger.Debug("Queued", "preview", msg.Preview(), "voice", msg.Voice, "speed", msg.Speed, "lang", msg.Lang)
	return models.ReplyOK, nil
}

// writeReply sends token without letting a stalled client block the caller.
func writeReply(conn net.Conn, token string) {
	_ = conn.SetWriteDeadline(time.Now().Add(replyTimeout))
	_, _ = io.WriteString(conn, token)
}
