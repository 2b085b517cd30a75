package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. The tests drive the relaymail command tree in process against
// an in-process relay from smtptest, so they cover everything from reading
// the config file to what the relay receives.
