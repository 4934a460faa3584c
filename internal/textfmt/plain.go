// Package textfmt renders the HTML fragments returned by the summarization
// service as plain terminal text.
package textfmt

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText converts an HTML fragment to text. Block elements end a line,
// list items get a bullet or their ordinal. Input without markup is returned
// with whitespace normalized.
func PlainText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	w := &writer{}
	for _, n := range nodes {
		w.walk(n, nil)
	}
	return w.String()
}

type listState struct {
	ordered bool
	n       int
}

type writer struct {
	lines []string
	cur   strings.Builder
	space bool // pending separator before the next word
}

func (w *writer) text(s string) {
	if s == "" {
		return
	}
	if isSpace(s[0]) && w.cur.Len() > 0 {
		w.space = true
	}
	for i, f := range strings.Fields(s) {
		if (i > 0 || w.space) && w.cur.Len() > 0 && !strings.HasSuffix(w.cur.String(), " ") {
			w.cur.WriteByte(' ')
		}
		w.space = false
		w.cur.WriteString(f)
	}
	if isSpace(s[len(s)-1]) && w.cur.Len() > 0 {
		w.space = true
	}
}

func (w *writer) breakLine() {
	line := strings.TrimSpace(w.cur.String())
	w.cur.Reset()
	w.space = false
	if line != "" {
		w.lines = append(w.lines, line)
	}
}

func (w *writer) String() string {
	w.breakLine()
	return strings.Join(w.lines, "\n")
}

func (w *writer) walk(n *html.Node, list *listState) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c, list)
		}
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style:
		return
	case atom.Br:
		w.breakLine()
		return
	case atom.Ol, atom.Ul:
		w.breakLine()
		inner := &listState{ordered: n.DataAtom == atom.Ol}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c, inner)
		}
		w.breakLine()
		return
	case atom.Li:
		w.breakLine()
		if list != nil && list.ordered {
			list.n++
			w.cur.WriteString(strconv.Itoa(list.n) + ". ")
		} else {
			w.cur.WriteString("- ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c, list)
		}
		w.breakLine()
		return
	}

	block := isBlock(n.DataAtom)
	if block {
		w.breakLine()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, list)
	}
	if block {
		w.breakLine()
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Tr, atom.Table, atom.Section, atom.Article, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
