package relay

import (
	"fmt"
)

// Message is what a Client delivers. Implementations must return copies
// from the list accessors, and Clone must return a value that shares no
// mutable state with the original.
type Message interface {
	Sender() string
	SetSender(sender string)
	To() []string
	Cc() []string
	Bcc() []string
	IsRecipientSet() bool
	IsSubjectSet() bool
	// Serialize returns the full wire-format message.
	Serialize() ([]byte, error)
	Clone() Message
}

// State is the step a Client's delivery reached.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateConnecting
	StateAuthenticating
	StateSending
	StateDone
	StateFailed
)

func (s State) String() string {
	return [...]string{
		"idle",
		"validating",
		"connecting",
		"authenticating",
		"sending",
		"done",
		"failed",
	}[s]
}

// Client delivers one message at a time to the configured relay. It is not
// safe for concurrent use: use one Client per in-flight delivery.
type Client struct {
	config    TransportConfig
	connector Connector
	log       Logger
	message   Message
	state     State
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sends the Client's debug output to l.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithConnector replaces the ConnectionFactory built from the Client's
// TransportConfig.
func WithConnector(cn Connector) Option {
	return func(c *Client) {
		if cn != nil {
			c.connector = cn
		}
	}
}

// NewClient returns a Client with an empty message slot.
func NewClient(config TransportConfig, opts ...Option) *Client {
	c := &Client{
		config:    config,
		connector: NewConnectionFactory(config),
		log:       nopLogger{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Message returns the message waiting to be sent, or nil.
func (c *Client) Message() Message {
	return c.message
}

// State returns the step the last call to Send reached.
func (c *Client) State() State {
	return c.state
}

// SetMessage stores a copy of m for the next Send. Send fills in a missing
// sender on that copy, so m itself is never changed. A message that's still
// waiting is only replaced if overwrite is true.
func (c *Client) SetMessage(m Message, overwrite bool) error {
	c.log.Debug(logTag, "relay.Client.SetMessage(overwrite=%v)", overwrite)

	if m == nil {
		return newError(KindType, "set message", ErrInvalidMessage)
	}
	if !overwrite && c.message != nil {
		return newError(KindState, "set message", ErrMessageAlreadySet)
	}

	c.message = m.Clone()
	c.state = StateIdle
	return nil
}

// Send delivers the held message. On success the message slot is emptied.
// On failure it's left as is so the caller can inspect it, fix it and call
// Send again. Whatever happens, a connection opened by Send is closed before
// it returns.
func (c *Client) Send() (err error) {
	c.log.Debug(logTag, "relay.Client.Send()")

	defer func() {
		if err != nil {
			c.state = StateFailed
			c.log.Debug(logTag, "delivery failed: %v", err)
			return
		}
		c.state = StateDone
	}()

	c.state = StateValidating
	m := c.message
	if m == nil {
		return newError(KindState, "send", ErrNoMessage)
	}
	if !m.IsRecipientSet() {
		return newError(KindValidation, "send", ErrNoRecipients)
	}
	if !m.IsSubjectSet() {
		return newError(KindValidation, "send", ErrNoSubject)
	}
	if err := c.config.Validate(); err != nil {
		return err
	}
	if m.Sender() == "" && c.config.FallbackSender() == "" {
		return newError(KindValidation, "send", ErrNoSender)
	}

	rcpts := MergeRecipients(m.To(), m.Cc(), m.Bcc())

	// Only the held copy changes
	if m.Sender() == "" {
		m.SetSender(c.config.FallbackSender())
	}

	b, err := m.Serialize()
	if err != nil {
		return newError(KindValidation, "serialize", err)
	}
	if limit := c.config.MaxMessageSize; limit > 0 && int64(len(b)) > limit {
		return newError(
			KindValidation,
			"send",
			fmt.Errorf("%w: %v bytes, limit %v", ErrMessageTooLarge, len(b), limit),
		)
	}

	c.state = StateConnecting
	conn, err := c.connector.Connect()
	if conn != nil {
		defer c.release(conn)
	}
	if err != nil {
		return transportError("connect", err)
	}

	if c.config.HasCredentials() {
		c.state = StateAuthenticating
		if err := conn.Login(c.config.AuthUser, c.config.AuthPassword); err != nil {
			return newError(KindTransport, "login", err)
		}
	}

	c.state = StateSending
	c.log.Debug(logTag, "sending %v bytes from %v to %v recipient(s)", len(b), m.Sender(), len(rcpts))
	if err := conn.SendMail(m.Sender(), rcpts, b); err != nil {
		return newError(KindTransport, "sendmail", err)
	}

	c.message = nil
	return nil
}

// release ends the session on conn. Its errors never replace the outcome of
// the delivery. A server that has already hung up is expected here.
func (c *Client) release(conn Connection) {
	err := conn.Quit()
	if err == nil {
		return
	}
	if IsDisconnected(err) {
		c.log.Debug(logTag, "server already disconnected: %v", err)
	} else {
		c.log.Debug(logTag, "could not quit the session: %v", err)
	}
	// Quit only closes the connection when the server acknowledges it
	if err := conn.Close(); err != nil && !IsDisconnected(err) {
		c.log.Debug(logTag, "could not close the connection: %v", err)
	}
}
