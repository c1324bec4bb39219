package server

import (
	"fmt"
	"unicode/utf8"

	"github.com/jasonrowsell/dualkv/internal/store"
	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

// Dispatcher applies decoded operations to a Store.
// It never fails: every Operation maps to exactly one final Reply.
type Dispatcher struct {
	store *store.Store
}

// NewDispatcher returns a Dispatcher backed by s.
func NewDispatcher(s *store.Store) *Dispatcher {
	return &Dispatcher{store: s}
}

// Dispatch executes op and returns its final reply.
func (d *Dispatcher) Dispatch(op protocol.Operation) protocol.Reply {
	if op.Kind == protocol.KindUnknown {
		return faulty("Faulty operation detected")
	}
	if op.Key == "" {
		return faulty(fmt.Sprintf("Faulty operation detected: %s requires a non-empty key", op.Kind))
	}

	switch op.Kind {
	case protocol.KindPut:
		d.store.Put(op.Key, op.Value)
		return protocol.Reply{
			Status: protocol.StatusWritten,
			Text:   echo("Entry for %s successfully created", op.Key),
		}

	case protocol.KindGet:
		value, found := d.store.Get(op.Key)
		if !found {
			return protocol.Reply{
				Status: protocol.StatusNotFound,
				Text:   echo("Key %s cannot be found", op.Key),
			}
		}
		return protocol.Reply{Status: protocol.StatusValue, Text: value}

	case protocol.KindDelete:
		if !d.store.Delete(op.Key) {
			return protocol.Reply{
				Status: protocol.StatusNotFound,
				Text:   echo("Key %s cannot be found in server", op.Key),
			}
		}
		return protocol.Reply{
			Status: protocol.StatusDeleted,
			Text:   echo("Key %s deleted from server", op.Key),
		}
	}

	// Unreachable while Kind has four values.
	return faulty("Faulty operation detected")
}

func faulty(text string) protocol.Reply {
	return protocol.Reply{Status: protocol.StatusFaulty, Text: text}
}

// Intermediate acknowledgements sent on the TCP path after each field.

func typeAck(kind protocol.Kind) protocol.Reply {
	return protocol.Reply{
		Status: protocol.StatusAck,
		Text:   fmt.Sprintf("Server initializing %s operation", kind),
	}
}

func keyAck(key string) protocol.Reply {
	return protocol.Reply{
		Status: protocol.StatusAck,
		Text:   echo("Key %s received by server", key),
	}
}

func valueAck(value string) protocol.Reply {
	return protocol.Reply{
		Status: protocol.StatusAck,
		Text:   echo("Value %s received by server", value),
	}
}

const ellipsis = "..."

// echo formats a reply text around a client-supplied field. A field too
// long for the text to fit in one reply frame is cut at a rune boundary
// and marked with an ellipsis.
func echo(format, field string) string {
	text := fmt.Sprintf(format, field)
	if len(text) <= protocol.MaxReplyTextSize {
		return text
	}

	cut := protocol.MaxReplyTextSize - (len(text) - len(field)) - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(field[cut]) {
		cut--
	}
	return fmt.Sprintf(format, field[:cut]+ellipsis)
}
