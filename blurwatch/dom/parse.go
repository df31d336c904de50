package dom

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/blurkit/idgen"
)

// Fragment is a parsed subtree (or whole document) delivered by the host.
type Fragment struct {
	Roots []*html.Node
	sizes map[NodeID]Size
}

// ParseFragment parses the outer HTML of one or more mutated nodes. sizes
// carries rendered dimensions keyed by NodeID; elements missing from it fall
// back to their width/height attributes.
func ParseFragment(fragment string, sizes map[NodeID]Size) (*Fragment, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return &Fragment{Roots: nodes, sizes: sizes}, nil
}

// ParseDocument parses a complete document. Media elements without a
// data-bw-id get one from gen, written back on the node so repeated walks
// agree on identity.
func ParseDocument(r io.Reader, gen idgen.Generator) (*Fragment, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse document: %w", err)
	}
	if gen == nil {
		gen = idgen.Default
	}
	var stamp func(*html.Node)
	stamp = func(n *html.Node) {
		if kindOf(n) != KindOther && attr(n, IDAttr) == "" {
			n.Attr = append(n.Attr, html.Attribute{Key: IDAttr, Val: gen()})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			stamp(c)
		}
	}
	stamp(doc)
	return &Fragment{Roots: []*html.Node{doc}}, nil
}

// Target returns the first element root as Media, for attribute records
// whose fragment is the mutated element itself. Non-media targets come back
// with KindOther so qualification rejects them.
func (f *Fragment) Target() (*Media, bool) {
	for _, n := range f.Roots {
		if n.Type == html.ElementNode {
			return f.media(n), true
		}
	}
	return nil, false
}

func (f *Fragment) media(n *html.Node) *Media {
	m := &Media{
		NodeID: NodeID(attr(n, IDAttr)),
		Tag:    kindOf(n),
		URL:    strings.TrimSpace(attr(n, "src")),
	}
	if m.Tag == KindVideo {
		m.SourceCount = countSources(n)
	}
	m.PixelWidth = atoi(attr(n, "width"))
	m.PixelHeight = atoi(attr(n, "height"))
	if sz, ok := f.sizes[m.NodeID]; ok && m.NodeID != "" {
		m.PixelWidth, m.PixelHeight = sz.Width, sz.Height
	}
	return m
}

func kindOf(n *html.Node) Kind {
	if n.Type != html.ElementNode {
		return KindOther
	}
	switch n.DataAtom {
	case atom.Img:
		return KindImage
	case atom.Video:
		return KindVideo
	}
	return KindOther
}

func countSources(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Source {
			count++
		}
		count += countSources(c)
	}
	return count
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
