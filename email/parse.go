package email

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"sort"
	"strings"
)

// Parse reads a prepared RFC 5322 message. The addressing headers, subject,
// date and Message-ID are taken apart so they can be changed before sending;
// every other header and the body are kept exactly as read. Messages without
// a Message-ID get a new one.
func Parse(r io.Reader) (*Message, error) {
	pm, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("can't read the message: %w", err)
	}

	m := NewMessage()
	for _, f := range []struct {
		name string
		dst  *[]mail.Address
	}{
		{"To", &m.to},
		{"Cc", &m.cc},
		{"Bcc", &m.bcc},
	} {
		al, err := pm.Header.AddressList(f.name)
		if errors.Is(err, mail.ErrHeaderNotPresent) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("can't parse the %v header: %w", f.name, err)
		}
		for _, a := range al {
			*f.dst = append(*f.dst, *a)
		}
	}

	if from := pm.Header.Get("From"); from != "" {
		al, err := mail.ParseAddressList(from)
		if err != nil {
			return nil, fmt.Errorf("can't parse the From header: %w", err)
		}
		m.sender = al[0].Address
		m.from = formatAddress(*al[0])
	}

	var dec mime.WordDecoder
	subj, err := dec.DecodeHeader(pm.Header.Get("Subject"))
	if err != nil {
		return nil, fmt.Errorf("can't decode the subject: %w", err)
	}
	m.subject = subj

	if id := strings.Trim(strings.TrimSpace(pm.Header.Get("Message-Id")), "<>"); id != "" {
		m.id = id
	}
	if d, err := pm.Header.Date(); err == nil {
		m.date = d
	}

	// mail.Header is a map, so sort for a stable header order
	keys := make([]string, 0, len(pm.Header))
	for k := range pm.Header {
		if _, ok := managedHeaders[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range pm.Header[k] {
			m.header = append(m.header, headerField{name: k, value: v})
		}
	}

	m.raw, err = io.ReadAll(pm.Body)
	if err != nil {
		return nil, fmt.Errorf("can't read the message body: %w", err)
	}

	return m, nil
}
