package smtptest

// smtptest runs SMTP and LMTP servers inside the test process so tests can
// deliver real messages and look at what arrived, including the envelope and
// how the session was negotiated.
