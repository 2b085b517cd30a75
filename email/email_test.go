package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/mail"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(t *testing.T) *Message {
	t.Helper()
	m := NewMessage()
	m.SetSender("me@example.com")
	m.SetSubject("The latest links")
	require.NoError(t, m.AddTo("you@example.com", "Second Reader <them@example.com>"))
	require.NoError(t, m.AddCc("cc@example.com"))
	require.NoError(t, m.AddBcc("hidden@example.com"))
	return m
}

func TestSerializeMultipart(t *testing.T) {
	bodText := "Hello this is my email body"
	bodHTML := "<html><body>Hello this is my email body.</body></html>"

	m := newTestMessage(t)
	m.SetText(bodText)
	m.SetHTML(bodHTML)

	b, err := m.Serialize()
	require.NoError(t, err)
	s := string(b)

	bre := regexp.MustCompile(
		"Content-Type: multipart/alternative; boundary=(\\w+)",
	)
	ms := bre.FindAllStringSubmatch(s, -1)
	if len(ms) == 0 {
		t.Fatal("could not find the expected header with a boundary attribute")
	}

	bnd := ms[0][1] // first capture group match, i.e., the boundary

	parts := strings.SplitAfterN(s, "\r\n\r\n", 2)
	if len(parts) < 2 {
		t.Fatal("expecting a blank line after the headers, but got none")
	}

	rdr := multipart.NewReader(bytes.NewBufferString(parts[1]), bnd)

	expectedParts := map[string]string{
		"text/plain; charset=UTF-8": bodText,
		"text/html; charset=UTF-8":  bodHTML,
	}
	var partMatches int
	for {
		p, err := rdr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		want, ok := expectedParts[p.Header.Get("Content-Type")]
		if !ok {
			t.Fatalf("unexpected MIME type in header: %v", p.Header.Get("Content-Type"))
		}
		// multipart.Reader decodes quoted-printable parts on its own
		got, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
		partMatches++
	}
	assert.Equal(t, len(expectedParts), partMatches)
}

func TestSerializeHeaders(t *testing.T) {
	m := newTestMessage(t)
	m.SetText("body")
	require.NoError(t, m.SetHeader("x-mailer", "relaymail"))

	b, err := m.Serialize()
	require.NoError(t, err)
	s := string(b)

	assert.Contains(t, s, "From: me@example.com\r\n")
	assert.Contains(t, s, "To: you@example.com, \"Second Reader\" <them@example.com>\r\n")
	assert.Contains(t, s, "Cc: cc@example.com\r\n")
	assert.Contains(t, s, "Subject: The latest links\r\n")
	assert.Contains(t, s, "X-Mailer: relaymail\r\n")
	assert.Contains(t, s, "Message-ID: <"+m.ID()+"@example.com>\r\n")
	assert.Contains(t, s, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.NotContains(t, s, "hidden@example.com")
	assert.NotContains(t, s, "Bcc")
}

func TestSerializeEncodesSubject(t *testing.T) {
	m := newTestMessage(t)
	m.SetSubject("Grüße")

	b, err := m.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(b), "Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n")
}

func TestSerializeDerivesText(t *testing.T) {
	m := newTestMessage(t)
	m.SetHTML(`<html><head><title>ignored</title><style>p {}</style></head>
<body><h1>Here are some new links!</h1>
<p>Read <a href="https://example.com/a">this article</a> today.</p>
<script>alert("no")</script></body></html>`)

	b, err := m.Serialize()
	require.NoError(t, err)

	s := string(b)
	i := strings.Index(s, "Content-Type: text/plain")
	j := strings.Index(s, "Content-Type: text/html")
	require.True(t, i != -1 && j > i, "expected a text/plain part before the text/html part")

	txt := s[i:j]
	assert.Contains(t, txt, "Here are some new links!")
	assert.Contains(t, txt, "Read this article (https://example.com/a) today.")
	assert.NotContains(t, txt, "ignored")
	assert.NotContains(t, txt, "alert")
}

func TestTextFromHTML(t *testing.T) {
	testCases := []struct {
		description string
		input       string
		expected    string
	}{
		{
			description: "paragraphs",
			input:       "<p>one</p><p>two</p>",
			expected:    "one\n\ntwo\n",
		},
		{
			description: "inline elements",
			input:       "<p>a <b>bold</b> <i>claim</i></p>",
			expected:    "a bold claim\n",
		},
		{
			description: "list with links",
			input:       `<ul><li><a href="https://example.com">one</a></li><li>two</li></ul>`,
			expected:    "one (https://example.com)\n\ntwo\n",
		},
		{
			description: "script only",
			input:       "<script>var x = 1;</script>",
			expected:    "\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, err := textFromHTML(tc.input)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.expected {
				t.Errorf("%v: expected %q but got %q", tc.description, tc.expected, got)
			}
		})
	}
}

func TestClone(t *testing.T) {
	m := newTestMessage(t)
	c := m.Clone().(*Message)

	c.SetSender("other@example.com")
	require.NoError(t, c.AddTo("new@example.com"))
	require.NoError(t, c.SetHeader("X-Test", "1"))

	assert.Equal(t, "me@example.com", m.Sender())
	assert.Equal(t, []string{"you@example.com", "them@example.com"}, m.To())
	assert.Empty(t, m.header)
	assert.Equal(t, m.ID(), c.ID())
}

func TestListsAreCopies(t *testing.T) {
	m := newTestMessage(t)
	to := m.To()
	to[0] = "changed@example.com"
	assert.Equal(t, "you@example.com", m.To()[0])
}

func TestRecipientAndSubjectFlags(t *testing.T) {
	m := NewMessage()
	assert.False(t, m.IsRecipientSet())
	assert.False(t, m.IsSubjectSet())

	require.NoError(t, m.AddBcc("hidden@example.com"))
	assert.True(t, m.IsRecipientSet())

	m.SetSubject("   ")
	assert.False(t, m.IsSubjectSet())
	m.SetSubject("hi")
	assert.True(t, m.IsSubjectSet())
}

func TestAddInvalidAddress(t *testing.T) {
	m := NewMessage()
	assert.Error(t, m.AddTo("not an address"))
	assert.Empty(t, m.To())
}

func TestSetManagedHeader(t *testing.T) {
	m := NewMessage()
	assert.Error(t, m.SetHeader("bcc", "x@example.com"))
	assert.Error(t, m.SetHeader("Message-ID", "<x@example.com>"))
}

func TestParse(t *testing.T) {
	raw := "From: Newsletter <news@example.com>\r\n" +
		"To: a@example.com, B <b@example.com>\r\n" +
		"Cc: c@example.com\r\n" +
		"Bcc: d@example.com\r\n" +
		"Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n" +
		"Message-ID: <1234@example.com>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"Hello there.\r\n"

	m, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "news@example.com", m.Sender())
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, m.To())
	assert.Equal(t, []string{"c@example.com"}, m.Cc())
	assert.Equal(t, []string{"d@example.com"}, m.Bcc())
	assert.Equal(t, "Grüße", m.Subject())
	assert.Equal(t, "1234@example.com", m.ID())

	b, err := m.Serialize()
	require.NoError(t, err)
	s := string(b)
	// Display names survive in the headers
	assert.Contains(t, s, "From: \"Newsletter\" <news@example.com>\r\n")
	assert.Contains(t, s, "To: a@example.com, \"B\" <b@example.com>\r\n")
	assert.Contains(t, s, "Message-ID: <1234@example.com>\r\n")
	assert.Contains(t, s, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(s, "\r\n\r\nHello there.\r\n"))
	assert.NotContains(t, s, "d@example.com")
}

func TestParseReplacingBody(t *testing.T) {
	raw := "To: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>old</p>\r\n"

	m, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	m.SetText("new")

	b, err := m.Serialize()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "text/html")
	assert.NotContains(t, string(b), "old")
	assert.Contains(t, string(b), "\r\n\r\nnew")
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		description string
		input       string
	}{
		{
			description: "bad To header",
			input:       "To: this is not, an address list\r\n\r\nbody",
		},
		{
			description: "bad From header",
			input:       "From: @@@\r\nTo: a@example.com\r\n\r\nbody",
		},
		{
			description: "no header block",
			input:       "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tc.input)); err == nil {
				t.Errorf("%v: expected an error but got none", tc.description)
			}
		})
	}
}

func TestSetHeaderRejectsLineBreaks(t *testing.T) {
	testCases := []struct {
		description string
		name        string
		value       string
	}{
		{
			description: "CRLF in the value",
			name:        "X-Note",
			value:       "1\r\nBcc: secret@example.com",
		},
		{
			description: "bare LF in the value",
			name:        "X-Note",
			value:       "1\nBcc: secret@example.com",
		},
		{
			description: "bare CR in the value",
			name:        "X-Note",
			value:       "1\rBcc: secret@example.com",
		},
		{
			description: "line break in the name",
			name:        "X-Note\r\nBcc",
			value:       "secret@example.com",
		},
		{
			description: "colon in the name",
			name:        "Bcc: secret@example.com\r\nX-Note",
			value:       "1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			m := newTestMessage(t)
			m.SetText("body")
			assert.Error(t, m.SetHeader(tc.name, tc.value))

			b, err := m.Serialize()
			require.NoError(t, err)
			assert.NotContains(t, string(b), "secret@example.com")
			assert.NotContains(t, string(b), "Bcc")
		})
	}
}

func TestSetSender(t *testing.T) {
	testCases := []struct {
		description   string
		sender        string
		envelope      string
		header        string
		shouldBeError bool
	}{
		{
			description: "bare address",
			sender:      "me@example.com",
			envelope:    "me@example.com",
			header:      "From: me@example.com\r\n",
		},
		{
			description: "display name",
			sender:      "Alice <alice@example.com>",
			envelope:    "alice@example.com",
			header:      "From: \"Alice\" <alice@example.com>\r\n",
		},
		{
			description: "unparseable value kept as is",
			sender:      "postmaster",
			envelope:    "postmaster",
			header:      "From: postmaster\r\n",
		},
		{
			description:   "line break",
			sender:        "me@example.com\r\nBcc: secret@example.com",
			envelope:      "me@example.com\r\nBcc: secret@example.com",
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			m := newTestMessage(t)
			m.SetText("body")
			m.SetSender(tc.sender)
			assert.Equal(t, tc.envelope, m.Sender())

			b, err := m.Serialize()
			if tc.shouldBeError {
				assert.ErrorIs(t, err, ErrLineBreak)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, string(b), tc.header)
		})
	}
}

func TestSerializeFoldsLongAddressLists(t *testing.T) {
	m := NewMessage()
	m.SetSender("me@example.com")
	m.SetSubject("Everyone")
	m.SetText("body")
	for i := 0; i < 60; i++ {
		require.NoError(t, m.AddTo(fmt.Sprintf("recipient%02d@example.com", i)))
		require.NoError(t, m.AddCc(fmt.Sprintf("Reader Number %02d <reader%02d@example.com>", i, i)))
	}

	b, err := m.Serialize()
	require.NoError(t, err)

	hdr := strings.SplitN(string(b), "\r\n\r\n", 2)[0]
	for _, l := range strings.Split(hdr, "\r\n") {
		assert.LessOrEqual(t, len(l), 998, "header line too long: %v", l)
		if strings.HasPrefix(l, " ") {
			assert.LessOrEqual(t, len(l), foldLength, "folded line too long: %v", l)
		}
	}

	// Unfolded, the headers still carry every address in order
	pm, err := mail.ReadMessage(bytes.NewReader(b))
	require.NoError(t, err)
	to, err := pm.Header.AddressList("To")
	require.NoError(t, err)
	cc, err := pm.Header.AddressList("Cc")
	require.NoError(t, err)
	require.Len(t, to, 60)
	require.Len(t, cc, 60)
	assert.Equal(t, "recipient00@example.com", to[0].Address)
	assert.Equal(t, "recipient59@example.com", to[59].Address)
	assert.Equal(t, "Reader Number 59", cc[59].Name)
	assert.Equal(t, m.To(), bareList(to))
}

func bareList(l []*mail.Address) []string {
	s := make([]string, len(l))
	for i, a := range l {
		s[i] = a.Address
	}
	return s
}

func TestCloneKeepsDisplayNames(t *testing.T) {
	m := newTestMessage(t)
	c := m.Clone().(*Message)
	require.NoError(t, c.AddCc("Another <another@example.com>"))

	assert.Equal(t, []string{"cc@example.com"}, m.Cc())
	assert.Equal(t, []string{"you@example.com", "them@example.com"}, c.To())
	assert.Equal(t, "Second Reader", c.to[1].Name)
}
