package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/relaymail/relay"
)

var _ relay.Message = (*Message)(nil)

// Headers that Message renders itself. Anything else set with SetHeader or
// read by Parse is written as is.
var managedHeaders = map[string]struct{}{
	"Date":       {},
	"From":       {},
	"To":         {},
	"Cc":         {},
	"Bcc":        {},
	"Subject":    {},
	"Message-Id": {},
}

// Folded header lines are kept under this length where the addresses allow.
const foldLength = 78

// ErrLineBreak is returned for header values that would end the header
// early.
var ErrLineBreak = errors.New("header values can't contain line breaks")

type headerField struct {
	name  string
	value string
}

// Message is an email ready for delivery. The zero value isn't usable--create
// one with NewMessage or Parse.
//
// The accessors return bare addresses, e.g. "me@example.com", for the SMTP
// envelope. Display names are kept for the headers.
type Message struct {
	id   string
	date time.Time
	// sender is the envelope address, from the From header value
	sender  string
	from    string
	to      []mail.Address
	cc      []mail.Address
	bcc     []mail.Address
	subject string
	text    string
	html    string
	header  []headerField
	// raw is a pre-encoded body taken from a parsed message. When set, text
	// and html are ignored and the Content-* headers come from header.
	raw []byte
}

// NewMessage returns an empty Message with a fresh Message-ID.
func NewMessage() *Message {
	return &Message{
		id: uuid.NewString(),
	}
}

// ID is the Message-ID without angle brackets. For messages built with
// NewMessage the domain is only added on serialization.
func (m *Message) ID() string {
	return m.id
}

// Sender implements relay.Message.
func (m *Message) Sender() string {
	return m.sender
}

// SetSender implements relay.Message. Anything mail.ParseAddress accepts
// keeps its display name in the From header; other values are stored
// verbatim, and Serialize refuses them if they contain a line break.
func (m *Message) SetSender(sender string) {
	if a, err := mail.ParseAddress(sender); err == nil {
		m.sender = a.Address
		m.from = formatAddress(*a)
		return
	}
	m.sender = sender
	m.from = sender
}

// AddTo appends addresses to the To list.
func (m *Message) AddTo(addrs ...string) error {
	return appendAddresses(&m.to, addrs)
}

// AddCc appends addresses to the Cc list.
func (m *Message) AddCc(addrs ...string) error {
	return appendAddresses(&m.cc, addrs)
}

// AddBcc appends addresses to the Bcc list. Bcc addresses are delivered to
// but never written into the message headers.
func (m *Message) AddBcc(addrs ...string) error {
	return appendAddresses(&m.bcc, addrs)
}

func appendAddresses(l *[]mail.Address, addrs []string) error {
	for _, a := range addrs {
		pa, err := mail.ParseAddress(a)
		if err != nil {
			return fmt.Errorf("can't parse the address %q: %w", a, err)
		}
		*l = append(*l, *pa)
	}
	return nil
}

// formatAddress renders a for a header. Unlike mail.Address.String, an
// address without a display name is left bare.
func formatAddress(a mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.String()
}

func bareAddresses(l []mail.Address) []string {
	if l == nil {
		return nil
	}
	s := make([]string, len(l))
	for i, a := range l {
		s[i] = a.Address
	}
	return s
}

// To implements relay.Message.
func (m *Message) To() []string {
	return bareAddresses(m.to)
}

// Cc implements relay.Message.
func (m *Message) Cc() []string {
	return bareAddresses(m.cc)
}

// Bcc implements relay.Message.
func (m *Message) Bcc() []string {
	return bareAddresses(m.bcc)
}

// IsRecipientSet implements relay.Message.
func (m *Message) IsRecipientSet() bool {
	return len(m.to)+len(m.cc)+len(m.bcc) > 0
}

// Subject returns the decoded subject.
func (m *Message) Subject() string {
	return m.subject
}

// SetSubject sets the subject line.
func (m *Message) SetSubject(s string) {
	m.subject = s
}

// IsSubjectSet implements relay.Message.
func (m *Message) IsSubjectSet() bool {
	return strings.TrimSpace(m.subject) != ""
}

// SetText sets the text/plain body. It drops any body read by Parse.
func (m *Message) SetText(s string) {
	m.text = s
	m.raw = nil
	m.dropContentHeaders()
}

// SetHTML sets the text/html body. If no text body is set, Serialize
// derives one from the HTML. It drops any body read by Parse.
func (m *Message) SetHTML(s string) {
	m.html = s
	m.raw = nil
	m.dropContentHeaders()
}

// SetHeader sets an additional header, replacing any previous values. It
// can't be used for the headers that have their own setters.
func (m *Message) SetHeader(name, value string) error {
	k := textproto.CanonicalMIMEHeaderKey(name)
	if _, ok := managedHeaders[k]; ok {
		return fmt.Errorf("the %v header can't be set directly", k)
	}
	if strings.ContainsAny(k, "\r\n: ") || k == "" {
		return fmt.Errorf("%q is not a valid header name", name)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("can't set the %v header: %w", k, ErrLineBreak)
	}
	m.removeHeader(k)
	m.header = append(m.header, headerField{name: k, value: value})
	return nil
}

func (m *Message) removeHeader(k string) {
	h := m.header[:0]
	for _, f := range m.header {
		if f.name != k {
			h = append(h, f)
		}
	}
	m.header = h
}

func (m *Message) dropContentHeaders() {
	h := m.header[:0]
	for _, f := range m.header {
		if f.name != "Mime-Version" && !strings.HasPrefix(f.name, "Content-") {
			h = append(h, f)
		}
	}
	m.header = h
}

// Clone implements relay.Message. The copy shares no slices with m.
func (m *Message) Clone() relay.Message {
	c := *m
	c.to = copyAddresses(m.to)
	c.cc = copyAddresses(m.cc)
	c.bcc = copyAddresses(m.bcc)
	c.header = append([]headerField(nil), m.header...)
	if m.raw != nil {
		c.raw = append([]byte(nil), m.raw...)
	}
	return &c
}

func copyAddresses(l []mail.Address) []mail.Address {
	if l == nil {
		return nil
	}
	return append([]mail.Address(nil), l...)
}

// Serialize implements relay.Message. Bcc recipients aren't included.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	d := m.date
	if d.IsZero() {
		d = time.Now()
	}
	writeHeader(&buf, "Date", d.Format(time.RFC1123Z))
	if m.from != "" {
		if strings.ContainsAny(m.from, "\r\n") {
			return nil, fmt.Errorf("can't write the From header: %w", ErrLineBreak)
		}
		writeHeader(&buf, "From", m.from)
	}
	if len(m.to) > 0 {
		writeAddressHeader(&buf, "To", m.to)
	}
	if len(m.cc) > 0 {
		writeAddressHeader(&buf, "Cc", m.cc)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.subject))
	writeHeader(&buf, "Message-ID", m.messageID())

	if m.raw != nil {
		for _, f := range m.header {
			writeHeader(&buf, f.name, f.value)
		}
		buf.WriteString("\r\n")
		buf.Write(m.raw)
		return buf.Bytes(), nil
	}

	writeHeader(&buf, "MIME-Version", "1.0")
	for _, f := range m.header {
		writeHeader(&buf, f.name, f.value)
	}

	txt := m.text
	if txt == "" && m.html != "" {
		var err error
		txt, err = textFromHTML(m.html)
		if err != nil {
			return nil, fmt.Errorf("can't derive a text body from the HTML body: %w", err)
		}
	}

	if m.html == "" {
		writeHeader(&buf, "Content-Type", "text/plain; charset=UTF-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, txt); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	for _, p := range []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=UTF-8", txt},
		{"text/html; charset=UTF-8", m.html},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("can't create a MIME part: %w", err)
		}
		if err := writeQuotedPrintable(pw, p.body); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("can't finish the multipart body: %w", err)
	}

	return buf.Bytes(), nil
}

// messageID renders the Message-ID header value, borrowing the domain from
// the sender when the ID doesn't have one.
func (m *Message) messageID() string {
	if strings.Contains(m.id, "@") {
		return "<" + m.id + ">"
	}
	domain := "localhost"
	if i := strings.LastIndex(m.sender, "@"); i >= 0 && i < len(m.sender)-1 {
		domain = m.sender[i+1:]
	}
	return fmt.Sprintf("<%v@%v>", m.id, domain)
}

func writeHeader(w *bytes.Buffer, name, value string) {
	w.WriteString(name)
	w.WriteString(": ")
	w.WriteString(value)
	w.WriteString("\r\n")
}

// writeAddressHeader writes an address list, folding it after a comma
// whenever the next address would push the line past foldLength.
func writeAddressHeader(w *bytes.Buffer, name string, l []mail.Address) {
	w.WriteString(name)
	w.WriteString(":")
	n := len(name) + 1
	for i, a := range l {
		s := formatAddress(a)
		if i > 0 {
			w.WriteString(",")
			n++
			// Room for s and the comma that may follow it
			if n+1+len(s)+1 > foldLength {
				w.WriteString("\r\n")
				n = 0
			}
		}
		w.WriteString(" ")
		w.WriteString(s)
		n += 1 + len(s)
	}
	w.WriteString("\r\n")
}

func writeQuotedPrintable(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return fmt.Errorf("can't encode the body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("can't encode the body: %w", err)
	}
	return nil
}
