package smtptest

// Server is a mail server a test can deliver to and then inspect. It's meant
// to start during a test (or test suite) and stop right after.
type Server interface {
	// Start serves connections until Close is called. Blocking, so run it
	// in its own goroutine.
	Start() error

	// Close terminates the server and any resources it holds. It doesn't
	// return an error so it's easy to use with defer.
	Close()

	// RetrieveEmails returns the payloads of all email messages sent to the
	// server after time t in Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]string, error)

	// Envelopes returns every message received so far, including the
	// envelope sender and recipients.
	Envelopes() []Envelope

	// Address returns the address of the server.
	Address() string
}

var _ Server = (*InProcessServer)(nil)
