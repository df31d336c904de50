package dom

import "golang.org/x/net/html"

// Walk calls fn for every Image/Video element in the fragment, roots
// included, in document order. Elements nested inside a video (fallback
// <img> children) are visited too.
func (f *Fragment) Walk(fn func(*Media)) {
	for _, root := range f.Roots {
		f.walk(root, fn)
	}
}

func (f *Fragment) walk(n *html.Node, fn func(*Media)) {
	if kindOf(n) != KindOther {
		fn(f.media(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		f.walk(c, fn)
	}
}

// Media returns every Image/Video element of the fragment.
func (f *Fragment) Media() []*Media {
	var out []*Media
	f.Walk(func(m *Media) { out = append(out, m) })
	return out
}
