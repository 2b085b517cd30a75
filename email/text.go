package email

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Nothing inside these elements is readable text.
var skippedNodes = cascadia.MustCompile("head, script, style, template")

// Elements that start on a new line when rendered.
var blockTags = map[atom.Atom]struct{}{
	atom.P:          {},
	atom.Div:        {},
	atom.Br:         {},
	atom.Li:         {},
	atom.Tr:         {},
	atom.Table:      {},
	atom.H1:         {},
	atom.H2:         {},
	atom.H3:         {},
	atom.H4:         {},
	atom.H5:         {},
	atom.H6:         {},
	atom.Blockquote: {},
	atom.Pre:        {},
	atom.Hr:         {},
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// textFromHTML renders the readable text of an HTML document so it can be
// sent as the text/plain alternative. Link targets follow the link text in
// parentheses.
func textFromHTML(s string) (string, error) {
	n, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return "", err
	}

	skip := make(map[*html.Node]struct{})
	for _, sn := range skippedNodes.MatchAll(n) {
		skip[sn] = struct{}{}
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if _, ok := skip[n]; ok {
			return
		}

		_, block := blockTags[n.DataAtom]
		block = block && n.Type == html.ElementNode
		if block {
			b.WriteString("\n")
		}
		if n.Type == html.TextNode && n.Data != "" {
			// Keep word boundaries between adjacent nodes
			if unicode.IsSpace(rune(n.Data[0])) {
				b.WriteString(" ")
			}
			b.WriteString(strings.Join(strings.Fields(n.Data), " "))
			if unicode.IsSpace(rune(n.Data[len(n.Data)-1])) {
				b.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if a.Key == "href" && a.Val != "" {
					b.WriteString(" (" + a.Val + ")")
				}
			}
		}
		if block {
			b.WriteString("\n")
		}
	}
	walk(n)

	lines := strings.Split(b.String(), "\n")
	for i := range lines {
		lines[i] = strings.Join(strings.Fields(lines[i]), " ")
	}
	t := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(t) + "\n", nil
}
