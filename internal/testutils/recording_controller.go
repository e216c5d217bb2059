package testutils

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/scanmux/internal/controller"
)

// ErrSubmitRejected is returned by Submit for kinds configured with FailSubmit.
var ErrSubmitRejected = errors.New("submit rejected")

// AckFunc receives controller acknowledgements.
type AckFunc func(id uuid.UUID, status controller.Status)

// RecordingController is a controller.Controller that records every command and
// acknowledges synchronously unless told to stay silent.
type RecordingController struct {
	mu       sync.Mutex
	ack      AckFunc
	commands []controller.Command
	silent   map[controller.Kind]bool
	fail     map[controller.Kind]bool
	reject   map[controller.Kind]bool
}

// NewRecordingController creates a controller that acknowledges everything with success.
func NewRecordingController() *RecordingController {
	return &RecordingController{
		silent: make(map[controller.Kind]bool),
		fail:   make(map[controller.Kind]bool),
		reject: make(map[controller.Kind]bool),
	}
}

// Bind sets the acknowledgement receiver.
func (r *RecordingController) Bind(ack AckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ack = ack
}

// Silence stops acknowledging commands of kind k.
func (r *RecordingController) Silence(k controller.Kind, silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent[k] = silent
}

// FailAck acknowledges commands of kind k with StatusFailure.
func (r *RecordingController) FailAck(k controller.Kind, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[k] = fail
}

// FailSubmit makes Submit return an error for commands of kind k.
func (r *RecordingController) FailSubmit(k controller.Kind, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reject[k] = fail
}

// Submit implements controller.Controller.
func (r *RecordingController) Submit(cmd controller.Command) error {
	r.mu.Lock()
	if r.reject[cmd.Kind] {
		r.mu.Unlock()
		return ErrSubmitRejected
	}
	r.commands = append(r.commands, cmd)
	ack := r.ack
	silent := r.silent[cmd.Kind]
	status := controller.StatusSuccess
	if r.fail[cmd.Kind] {
		status = controller.StatusFailure
	}
	r.mu.Unlock()

	if ack != nil && !silent {
		ack(cmd.ID, status)
	}
	return nil
}

// Commands returns a copy of every recorded command.
func (r *RecordingController) Commands() []controller.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]controller.Command(nil), r.commands...)
}

// Kinds returns the recorded command kinds in order.
func (r *RecordingController) Kinds() []controller.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]controller.Kind, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c.Kind)
	}
	return out
}

// Count returns how many commands of kind k were recorded.
func (r *RecordingController) Count(k controller.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c.Kind == k {
			n++
		}
	}
	return n
}

// Last returns the most recent command of kind k.
func (r *RecordingController) Last(k controller.Kind) (controller.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.commands) - 1; i >= 0; i-- {
		if r.commands[i].Kind == k {
			return r.commands[i], true
		}
	}
	return controller.Command{}, false
}

// Reset forgets recorded commands.
func (r *RecordingController) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
