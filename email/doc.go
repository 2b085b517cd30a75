package email

// email holds the message side of a delivery: building a message from a
// subject and text or HTML bodies, or reading a prepared RFC 5322 message
// from disk, and turning either into the wire format the relay package
// transmits. It doesn't know anything about connecting to a relay.
