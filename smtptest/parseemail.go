package smtptest

import (
	"net/mail"
	"strings"
)

// HeaderValue returns the first value of the header name in a raw email
// body as received by the server, or an empty string if the body can't be
// parsed or has no such header.
func HeaderValue(body string, name string) string {
	m, err := mail.ReadMessage(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return m.Header.Get(name)
}
