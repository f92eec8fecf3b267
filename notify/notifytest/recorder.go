// Package notifytest provides an in-memory notify.Emitter for tests.
package notifytest

import (
	"context"
	"sync"

	"disputeflow/notify"
)

type Recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
	// Err, when set, is returned by Notify and nothing is recorded.
	Err error
}

func (r *Recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of the recorded notifications in emission order.
func (r *Recorder) Sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfType filters Sent by type.
func (r *Recorder) OfType(t notify.Type) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.Sent() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
