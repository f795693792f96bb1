package html

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	css "github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Subtrees that never render as readable text.
var hiddenSelector = css.MustCompile("head, script, style, template, noscript")

// Elements that start a new line, and the ones that also leave a blank
// line after them.
var (
	lineElements = map[atom.Atom]bool{
		atom.Div: true, atom.Tr: true, atom.Table: true, atom.Ul: true,
		atom.Ol: true, atom.Section: true, atom.Article: true,
		atom.Header: true, atom.Footer: true, atom.Pre: true,
		atom.Blockquote: true, atom.Hr: true,
	}
	paragraphElements = map[atom.Atom]bool{
		atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true,
		atom.H4: true, atom.H5: true, atom.H6: true,
	}
)

// TextFromHTML renders an HTML email body as plain text for a text/plain
// alternative part. Block elements become line breaks, headings and
// paragraphs are separated by a blank line, list items are prefixed with
// "- " and links keep their target as "caption (URL)".
func TextFromHTML(r io.Reader) (string, error) {
	n, err := html.Parse(r)
	if n == nil || err != nil {
		return "", fmt.Errorf("can't parse the HTML body: %v", err)
	}

	hidden := make(map[*html.Node]struct{})
	for _, h := range hiddenSelector.MatchAll(n) {
		hidden[h] = struct{}{}
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if _, ok := hidden[n]; ok {
			return
		}

		if n.Type == html.TextNode {
			b.WriteString(collapse(n.Data))
			return
		}

		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Br:
				b.WriteString("\n")
			case n.DataAtom == atom.Li:
				b.WriteString("\n- ")
			case lineElements[n.DataAtom]:
				b.WriteString("\n")
			case paragraphElements[n.DataAtom]:
				b.WriteString("\n")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type != html.ElementNode {
			return
		}

		switch {
		case n.DataAtom == atom.A:
			if h := href(n); h != "" && h != strings.TrimSpace(textOf(n)) {
				b.WriteString(" (" + h + ")")
			}
		case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
			b.WriteString(" ")
		case lineElements[n.DataAtom]:
			b.WriteString("\n")
		case paragraphElements[n.DataAtom]:
			b.WriteString("\n\n")
		}
	}
	walk(n)

	return tidy(b.String()), nil
}

// href returns the link target of an anchor, skipping in-page fragments.
func href(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "href" && !strings.HasPrefix(a.Val, "#") {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var s strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.WriteString(textOf(c))
	}
	return s.String()
}

// collapse folds every run of whitespace in a text node, line breaks
// included, into one space. Source formatting never produces line breaks in
// the output.
func collapse(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		if s == "" {
			return ""
		}
		return " "
	}
	c := strings.Join(f, " ")
	if strings.TrimLeftFunc(s, unicode.IsSpace) != s {
		c = " " + c
	}
	if strings.TrimRightFunc(s, unicode.IsSpace) != s {
		c = c + " "
	}
	return c
}

// tidy collapses whitespace within lines and turns runs of two or more
// line breaks into a single blank line.
func tidy(s string) string {
	var out []string
	empties := 0
	for _, l := range strings.Split(s, "\n") {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			empties++
			continue
		}
		if empties >= 2 && len(out) > 0 {
			out = append(out, "")
		}
		empties = 0
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
