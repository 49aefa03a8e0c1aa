package events

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Kind identifies one of the three channel event variants.
type Kind string

const (
	KindNew   Kind = "New"
	KindEnded Kind = "Ended"
	KindError Kind = "Error"
)

// Event is one entry of a generation's channel stream. A stream carries
// zero or more New events followed by exactly one terminal event (Ended
// or Error); nothing follows a terminal event on the same channel.
type Event interface {
	Kind() Kind
	// Terminal reports whether the event ends the channel's sequence.
	Terminal() bool
}

// New carries one increment of generated content. ExitCode is only set
// when the turn is produced by a command/tool executor.
type New struct {
	Msg      string `json:"msg"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

func (New) Kind() Kind     { return KindNew }
func (New) Terminal() bool { return false }

// Ended marks successful completion of a generation.
type Ended struct{}

func (Ended) Kind() Kind     { return KindEnded }
func (Ended) Terminal() bool { return true }

// Error marks failed completion; Message is surfaced verbatim to callers.
type Error struct {
	Message string
}

func (Error) Kind() Kind     { return KindError }
func (Error) Terminal() bool { return true }

// Parse decodes a channel payload of the form "<Kind> <chunk>". New events
// carry a JSON chunk, Error events a plain-text message, Ended nothing.
func Parse(payload []byte) (Event, error) {
	kind, rest := splitPayload(payload)
	switch Kind(kind) {
	case KindNew:
		var ev New
		if err := json.Unmarshal(rest, &ev); err != nil {
			return nil, errors.Wrap(err, "decode New chunk")
		}
		return ev, nil
	case KindEnded:
		return Ended{}, nil
	case KindError:
		return Error{Message: string(rest)}, nil
	default:
		return nil, errors.Errorf("unknown channel event kind %q", kind)
	}
}

// Encode renders an event into its channel payload. Workers use this when
// publishing; Parse reverses it.
func Encode(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case New:
		chunk, err := json.Marshal(ev)
		if err != nil {
			return nil, errors.Wrap(err, "encode New chunk")
		}
		return append([]byte("New "), chunk...), nil
	case Ended:
		return []byte("Ended"), nil
	case Error:
		return append([]byte("Error "), []byte(ev.Message)...), nil
	default:
		return nil, errors.Errorf("unknown event type %T", ev)
	}
}

func splitPayload(payload []byte) (string, []byte) {
	idx := bytes.IndexByte(payload, ' ')
	if idx < 0 {
		return string(payload), nil
	}
	return string(payload[:idx]), payload[idx+1:]
}
