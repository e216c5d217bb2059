// Package controller models the radio controller as an asynchronous command channel.
//
// Commands are submitted fire-and-forget; the controller later acknowledges each one
// by correlation id. Channel turns that into a bounded request/acknowledge call so a
// caller can wait for one command without a shared latch.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTimeout means no acknowledgement arrived in time. The outcome is unknown.
	ErrTimeout  = errors.New("controller acknowledgement timed out")
	ErrRejected = errors.New("controller rejected command")
)

// Status is the controller's verdict on a command.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Controller accepts commands. Submit must not block on the acknowledgement.
type Controller interface {
	Submit(cmd Command) error
}

// DefaultTimeout bounds the wait for one acknowledgement.
const DefaultTimeout = 500 * time.Millisecond

// Channel correlates submitted commands with their acknowledgements.
type Channel struct {
	ctrl    Controller
	timeout time.Duration
	logger  *logrus.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]chan Status
}

// NewChannel wraps ctrl. A non-positive timeout uses DefaultTimeout.
func NewChannel(ctrl Controller, timeout time.Duration, logger *logrus.Logger) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Channel{
		ctrl:    ctrl,
		timeout: timeout,
		logger:  logger,
		pending: make(map[uuid.UUID]chan Status),
	}
}

// Do submits cmd under a fresh correlation id and waits for its acknowledgement.
// It returns ErrTimeout if none arrives within the channel timeout.
func (ch *Channel) Do(ctx context.Context, cmd Command) error {
	cmd.ID = uuid.New()
	reply := make(chan Status, 1)

	ch.mu.Lock()
	ch.pending[cmd.ID] = reply
	ch.mu.Unlock()
	defer func() {
		ch.mu.Lock()
		delete(ch.pending, cmd.ID)
		ch.mu.Unlock()
	}()

	ch.logger.WithFields(logrus.Fields{
		"command": cmd.Kind.String(),
		"id":      cmd.ID.String(),
		"args":    cmd.Args(),
	}).Debug("Submitting controller command")

	if err := ch.ctrl.Submit(cmd); err != nil {
		return fmt.Errorf("submit %s: %w", cmd.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, ch.timeout)
	defer cancel()

	select {
	case status := <-reply:
		if status != StatusSuccess {
			return fmt.Errorf("%w: %s", ErrRejected, cmd.Kind)
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Kind, ch.timeout)
		}
		return ctx.Err()
	}
}

// Ack delivers an acknowledgement. It reports false for unknown or already
// abandoned ids, which are dropped.
func (ch *Channel) Ack(id uuid.UUID, status Status) bool {
	ch.mu.Lock()
	reply, ok := ch.pending[id]
	ch.mu.Unlock()
	if !ok {
		ch.logger.WithField("id", id.String()).Debug("Dropping acknowledgement for unknown command")
		return false
	}
	select {
	case reply <- status:
	default:
	}
	return true
}

// Pending returns the number of commands awaiting acknowledgement.
func (ch *Channel) Pending() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}
