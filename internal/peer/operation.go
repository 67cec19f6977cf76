package peer

import (
	"github.com/google/uuid"

	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Kind is the request an operation carries.
type Kind string

// Operation kinds.
const (
	KindSend Kind = "send"
	KindGet  Kind = "get"
)

// Request is what a caller asks the endpoint to do. Source is empty for get
// requests.
type Request struct {
	Source string
	Target string

	// Origin is echoed into the response for correlation.
	Origin string

	// Done is the optional post-completion redirect URL.
	Done string
}

// Operation is one in-flight request.
type Operation struct {
	ID   string
	Kind Kind
	Request
}

func newOperation(kind Kind, req Request) Operation {
	return Operation{ID: newID(), Kind: kind, Request: req}
}

// newID returns a time-ordered UUID, falling back to a random one.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// request returns the message relayed to the answering endpoint.
func (op Operation) request() types.Message {
	if op.Kind == KindGet {
		return types.GetMessage(op.Target)
	}
	return types.SendMessage(op.Source, op.Target)
}

// accepts reports whether msg is a terminal reply this operation can
// resolve to.
func (op Operation) accepts(msg types.Message) bool {
	if msg.Target != op.Target {
		return false
	}
	switch msg.Type {
	case types.TypeFailure:
		return true
	case types.TypeSuccess:
		return op.Kind == KindSend
	case types.TypeWebmentions:
		return op.Kind == KindGet
	}
	return false
}
