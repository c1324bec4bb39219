package protocol

import "math"

// Kind identifies the operation a client asked for.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPut
	KindGet
	KindDelete
)

// Type tokens as they appear on the wire. Matching is case-sensitive.
const (
	TokenPut    = "PUT"
	TokenGet    = "GET"
	TokenDelete = "DELETE"
)

// ParseKind maps a type token to its Kind. Anything unrecognised is KindUnknown.
func ParseKind(token string) Kind {
	switch token {
	case TokenPut:
		return KindPut
	case TokenGet:
		return KindGet
	case TokenDelete:
		return KindDelete
	default:
		return KindUnknown
	}
}

// String returns the wire token for the kind, or "UNKNOWN".
func (k Kind) String() string {
	switch k {
	case KindPut:
		return TokenPut
	case KindGet:
		return TokenGet
	case KindDelete:
		return TokenDelete
	default:
		return "UNKNOWN"
	}
}

// HasValue reports whether requests of this kind carry a value field.
func (k Kind) HasValue() bool {
	return k == KindPut
}

// Operation is one decoded client request.
type Operation struct {
	Kind  Kind
	Token string // raw type token as received
	Key   string
	Value string // only meaningful for KindPut
}

// NewOperation builds an Operation from a raw type token.
func NewOperation(token, key, value string) Operation {
	op := Operation{Kind: ParseKind(token), Token: token, Key: key}
	if op.Kind.HasValue() {
		op.Value = value
	}
	return op
}

// Status tags every server reply so that clients never have to interpret
// reply text to tell a value apart from a miss.
type Status uint8

const (
	StatusAck      Status = 1 // intermediate acknowledgement, more frames follow
	StatusWritten  Status = 2 // PUT applied
	StatusValue    Status = 3 // GET hit, text is the stored value verbatim
	StatusNotFound Status = 4 // GET or DELETE on an absent key
	StatusDeleted  Status = 5 // DELETE removed the key
	StatusFaulty   Status = 6 // unrecognised operation or invalid request
)

// String returns the status name used in logs and metric labels.
func (s Status) String() string {
	switch s {
	case StatusAck:
		return "ACK"
	case StatusWritten:
		return "WRITTEN"
	case StatusValue:
		return "VALUE"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDeleted:
		return "DELETED"
	case StatusFaulty:
		return "FAULTY"
	default:
		return "INVALID"
	}
}

// Valid reports whether s is a known status code.
func (s Status) Valid() bool {
	return s >= StatusAck && s <= StatusFaulty
}

// Reply is one server-to-client message.
type Reply struct {
	Status Status
	Text   string
}

// Final reports whether the reply terminates the exchange.
func (r Reply) Final() bool {
	return r.Status != StatusAck
}

// Size constants
const (
	// MaxFieldSize leaves room for the status byte so any field can be
	// echoed back inside a reply frame.
	MaxFieldSize = math.MaxUint16 - 1

	// MaxReplyTextSize is the most text one TCP reply frame carries.
	MaxReplyTextSize = math.MaxUint16 - 1

	// MaxDatagramSize bounds each UDP request datagram.
	MaxDatagramSize = 1024

	// MaxReplyDatagramSize is the largest UDP payload a client must accept.
	MaxReplyDatagramSize = 65507
)

// Error is a sentinel error type for codec failures.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrFieldTooLarge    = Error("field exceeds maximum size")
	ErrDatagramTooLarge = Error("datagram exceeds maximum size")
	ErrMalformedReply   = Error("malformed reply")
)
