package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags a Message variant on the wire.
type MessageType string

// Message variants exchanged over the peer transport.
const (
	TypeVisitor     MessageType = "visitor"
	TypeEndpoint    MessageType = "endpoint"
	TypeSend        MessageType = "send"
	TypeGet         MessageType = "get"
	TypeSuccess     MessageType = "success"
	TypeFailure     MessageType = "failure"
	TypeWebmentions MessageType = "webmentions"
)

// Status texts carried by success, failure and webmentions messages.
const (
	StatusAdded         = "Source URL Added."
	StatusDeleted       = "Source URL deleted."
	StatusTargetInvalid = "Target URL is not valid. Make sure that the URL exists and properly references this webmention endpoint."
	StatusSourceInvalid = "Source URL is not valid. Make sure that the URL exists and properly references the target."
	StatusBlocked       = "One of the URLs are blocked."
	StatusNotWritable   = "The Target URL's Webmention store is not writable."
	StatusNoPeer        = "No peer around with a whitelisted target origin."
	StatusMentions      = "Webmentions retrieved."
)

// Message errors.
var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is one datagram of the peer protocol. Only the fields of its Type
// are meaningful; the rest are zero. Messages are values and are not mutated
// after construction.
type Message struct {
	Type         MessageType
	Hash         string
	Source       string
	Target       string
	Status       string
	Mentions     []string
	Capabilities bool
}

// VisitorMessage probes for an endpoint serving the origin with hash.
func VisitorMessage(hash string) Message {
	return Message{Type: TypeVisitor, Hash: hash}
}

// EndpointMessage answers a visitor probe.
func EndpointMessage() Message {
	return Message{Type: TypeEndpoint}
}

// SendMessage asks an endpoint to record that source mentions target.
func SendMessage(source, target string) Message {
	return Message{Type: TypeSend, Source: source, Target: target}
}

// GetMessage asks an endpoint for the mentions of target.
func GetMessage(target string) Message {
	return Message{Type: TypeGet, Target: target}
}

// SuccessMessage reports a completed send.
func SuccessMessage(source, target, status string) Message {
	return Message{Type: TypeSuccess, Source: source, Target: target, Status: status}
}

// FailureMessage reports a rejected request. An empty source is encoded as
// null.
func FailureMessage(source, target, status string) Message {
	return Message{Type: TypeFailure, Source: source, Target: target, Status: status}
}

// WebmentionsMessage answers a get request.
func WebmentionsMessage(target string, mentions []string, capabilities bool, status string) Message {
	cp := make([]string, len(mentions))
	copy(cp, mentions)
	return Message{
		Type:         TypeWebmentions,
		Target:       target,
		Mentions:     cp,
		Capabilities: capabilities,
		Status:       status,
	}
}

// IsTerminal reports whether m ends an operation.
func (m Message) IsTerminal() bool {
	switch m.Type {
	case TypeSuccess, TypeFailure, TypeWebmentions:
		return true
	}
	return false
}

// Wire shapes, one per variant, so each encodes exactly its own fields.
type (
	visitorWire struct {
		Type MessageType `json:"type"`
		Hash string      `json:"hash"`
	}
	endpointWire struct {
		Type MessageType `json:"type"`
	}
	sendWire struct {
		Type   MessageType `json:"type"`
		Source string      `json:"source"`
		Target string      `json:"target"`
	}
	getWire struct {
		Type   MessageType `json:"type"`
		Target string      `json:"target"`
	}
	resultWire struct {
		Type   MessageType `json:"type"`
		Source *string     `json:"source"`
		Target string      `json:"target"`
		Status string      `json:"status"`
	}
	webmentionsWire struct {
		Type         MessageType `json:"type"`
		Target       string      `json:"target"`
		Webmentions  string      `json:"webmentions"`
		Capabilities bool        `json:"capabilities"`
		Status       string      `json:"status"`
	}
)

// anyWire is the union used for decoding.
type anyWire struct {
	Type         MessageType `json:"type"`
	Hash         string      `json:"hash"`
	Source       *string     `json:"source"`
	Target       string      `json:"target"`
	Status       string      `json:"status"`
	Webmentions  string      `json:"webmentions"`
	Capabilities bool        `json:"capabilities"`
}

// MarshalJSON encodes m in its flat wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeVisitor:
		return json.Marshal(visitorWire{Type: m.Type, Hash: m.Hash})
	case TypeEndpoint:
		return json.Marshal(endpointWire{Type: m.Type})
	case TypeSend:
		return json.Marshal(sendWire{Type: m.Type, Source: m.Source, Target: m.Target})
	case TypeGet:
		return json.Marshal(getWire{Type: m.Type, Target: m.Target})
	case TypeSuccess:
		src := m.Source
		return json.Marshal(resultWire{Type: m.Type, Source: &src, Target: m.Target, Status: m.Status})
	case TypeFailure:
		var src *string
		if m.Source != "" {
			src = &m.Source
		}
		return json.Marshal(resultWire{Type: m.Type, Source: src, Target: m.Target, Status: m.Status})
	case TypeWebmentions:
		mentions := m.Mentions
		if mentions == nil {
			mentions = []string{}
		}
		list, err := json.Marshal(mentions)
		if err != nil {
			return nil, fmt.Errorf("encode mentions: %w", err)
		}
		return json.Marshal(webmentionsWire{
			Type:         m.Type,
			Target:       m.Target,
			Webmentions:  string(list),
			Capabilities: m.Capabilities,
			Status:       m.Status,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// UnmarshalJSON decodes a wire message and checks that the fields its
// variant requires are present.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w anyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	out := Message{Type: w.Type}
	if w.Source != nil {
		out.Source = *w.Source
	}

	switch w.Type {
	case TypeVisitor:
		if w.Hash == "" {
			return fmt.Errorf("%w: visitor without hash", ErrInvalidMessage)
		}
		out.Hash = w.Hash
	case TypeEndpoint:
	case TypeSend:
		if out.Source == "" || w.Target == "" {
			return fmt.Errorf("%w: send needs source and target", ErrInvalidMessage)
		}
		out.Target = w.Target
	case TypeGet:
		if w.Target == "" {
			return fmt.Errorf("%w: get without target", ErrInvalidMessage)
		}
		out.Target = w.Target
	case TypeSuccess, TypeFailure:
		out.Target = w.Target
		out.Status = w.Status
	case TypeWebmentions:
		out.Target = w.Target
		out.Status = w.Status
		out.Capabilities = w.Capabilities
		out.Mentions = []string{}
		if w.Webmentions != "" {
			if err := json.Unmarshal([]byte(w.Webmentions), &out.Mentions); err != nil {
				return fmt.Errorf("%w: webmentions list: %v", ErrInvalidMessage, err)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, w.Type)
	}

	*m = out
	return nil
}

// EncodeMessage returns the UTF-8 JSON datagram for m.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a datagram received from a peer.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
