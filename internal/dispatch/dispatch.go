// Package dispatch holds the latest terminal response of the endpoint and
// hands it to one subscriber.
package dispatch

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Response is a terminal message together with the request it answers.
type Response struct {
	Message types.Message

	// OperationID identifies the operation that produced the response.
	OperationID string

	// Origin is echoed back from the request for caller-side correlation.
	Origin string

	// Done is the optional post-completion redirect URL.
	Done string
}

// RedirectURL returns Done with result and source query parameters added,
// or "" when Done is unset.
func (r Response) RedirectURL() (string, error) {
	if r.Done == "" {
		return "", nil
	}
	u, err := url.Parse(r.Done)
	if err != nil {
		return "", fmt.Errorf("parse done url: %w", err)
	}
	q := u.Query()
	q.Set("result", string(r.Message.Type))
	q.Set("source", r.Message.Source)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dispatcher is a single-slot observable. Set overwrites the slot and calls
// the subscriber synchronously; it is not a queue.
type Dispatcher struct {
	mu      sync.Mutex
	latest  Response
	set     bool
	handler func(Response)
}

// New returns a Dispatcher with no subscriber.
func New() *Dispatcher {
	return &Dispatcher{}
}

// OnSet replaces the subscriber. A nil handler unsubscribes.
func (d *Dispatcher) OnSet(handler func(Response)) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// Set stores r and notifies the subscriber. The subscriber runs outside the
// dispatcher lock and may call back into it.
func (d *Dispatcher) Set(r Response) {
	d.mu.Lock()
	d.latest = r
	d.set = true
	h := d.handler
	d.mu.Unlock()

	if h != nil {
		h(r)
	}
}

// Latest returns the most recent response, if any.
func (d *Dispatcher) Latest() (Response, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest, d.set
}
