// Package dom is the node model blurwatch reasons about. The host (a browser
// tab or a fetched document) describes mutated subtrees as HTML fragments;
// this package parses them with golang.org/x/net/html and exposes the
// Image/Video elements they contain.
package dom

// NodeID is the stable identity of an element for the lifetime of a
// document. In a live tab it is the data-bw-id attribute stamped by the
// injected observer.
type NodeID string

// IDAttr is the attribute carrying a NodeID.
const IDAttr = "data-bw-id"

// Kind classifies an element.
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "other"
	}
}

// Element is the read-only view of a node used by qualification.
type Element interface {
	ID() NodeID
	Kind() Kind
	// Src is the direct source reference, empty when absent.
	Src() string
	// SourceChildren counts <source> descendants (videos only).
	SourceChildren() int
	// Width and Height are the rendered dimensions; 0 means not laid out yet.
	Width() int
	Height() int
}

// Size is a rendered width/height pair reported by the host.
type Size struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Media is the concrete Element built from a mutation record.
type Media struct {
	NodeID      NodeID
	Tag         Kind
	URL         string
	SourceCount int
	PixelWidth  int
	PixelHeight int
}

func (m *Media) ID() NodeID          { return m.NodeID }
func (m *Media) Kind() Kind          { return m.Tag }
func (m *Media) Src() string         { return m.URL }
func (m *Media) SourceChildren() int { return m.SourceCount }
func (m *Media) Width() int          { return m.PixelWidth }
func (m *Media) Height() int         { return m.PixelHeight }

// SourceReady reports whether el exposes something the pipeline can load:
// a direct src, or for videos at least one <source> child.
func SourceReady(el Element) bool {
	if el.Src() != "" {
		return true
	}
	return el.Kind() == KindVideo && el.SourceChildren() > 0
}

// Playback is the live playback state of a video.
type Playback struct {
	Paused      bool    `json:"paused"`
	CurrentTime float64 `json:"current_time"`
}

// Playing reports whether the video is mid-playback: not paused and past
// its first frame.
func (p Playback) Playing() bool {
	return !p.Paused && p.CurrentTime > 0
}
