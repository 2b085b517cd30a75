package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/emersion/go-smtp"
)

// Kind groups the failures a delivery can run into.
type Kind int

const (
	// KindConfiguration means the TransportConfig can't be used as is.
	KindConfiguration Kind = iota + 1
	// KindState means the Client isn't in a state that allows the call.
	KindState
	// KindValidation means the held message can't be delivered.
	KindValidation
	// KindType means the value handed to the Client isn't a usable Message.
	KindType
	// KindTransport means connecting, authenticating or transmitting failed.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindType:
		return "type"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

var (
	ErrIncompleteTLS     = errors.New("TLS requested for incomplete configuration: both a certificate and a key file are required")
	ErrNoMessage         = errors.New("no message defined to be sent")
	ErrMessageAlreadySet = errors.New("message is already set")
	ErrNoRecipients      = errors.New("no recipients defined for the message")
	ErrNoSubject         = errors.New("no subject defined for the message")
	ErrNoSender          = errors.New("no sender defined for the message and no public sender configured")
	ErrMessageTooLarge   = errors.New("message exceeds the configured maximum size")
	ErrInvalidMessage    = errors.New("message not given in a supported type")
)

// Error is returned by every operation in this package. Err is the
// underlying cause and stays reachable with errors.Is and errors.As, so
// protocol errors like *smtp.SMTPError reach the caller untouched.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// transportError wraps err as a KindTransport error unless it's already
// one of ours, e.g. a configuration error found while connecting.
func transportError(op string, err error) error {
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return newError(KindTransport, op, err)
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == k
}

// IsDisconnected reports whether err means the server already dropped the
// connection.
func IsDisconnected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	// 421: service not available, closing transmission channel
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code == 421 {
		return true
	}
	return false
}
