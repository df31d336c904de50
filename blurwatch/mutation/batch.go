// Package mutation defines the structured types blurwatch exchanges with its
// host and its consumers: mutation batches in, commands in, video reports
// and process requests out. Any consumer (classifier, dashboard) imports
// this package to decode what blurwatch emits.
package mutation

import "github.com/hazyhaar/blurkit/blurwatch/dom"

// Op is the kind of DOM mutation observed.
type Op string

const (
	OpChildList  Op = "childList"  // nodes added under a parent
	OpAttributes Op = "attributes" // attribute changed on the target
)

// Record is a single DOM mutation. For childList it describes one added
// root; for attributes it describes the target element.
type Record struct {
	Op   Op     `json:"op"`
	Name string `json:"name,omitempty"` // attribute name for attributes
	HTML string `json:"html"`           // outer HTML, media stamped with data-bw-id
	// Sizes holds the rendered width/height of each media element in HTML.
	Sizes map[dom.NodeID]dom.Size `json:"sizes,omitempty"`
}

// Batch is one delivery from the host: all records of a single observer
// callback, in event order.
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	PageURL   string   `json:"page_url"`
	PageID    string   `json:"page_id"`
	Seq       uint64   `json:"seq"` // monotonically increasing per page
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// ObserveOptions mirrors the MutationObserver init dictionary.
type ObserveOptions struct {
	ChildList       bool     `json:"childList"`
	Attributes      bool     `json:"attributes"`
	AttributeFilter []string `json:"attributeFilter,omitempty"`
	CharacterData   bool     `json:"characterData"`
	Subtree         bool     `json:"subtree"`
}

// DocumentOptions watches the whole document for added nodes and src
// changes, ignoring text edits.
func DocumentOptions() ObserveOptions {
	return ObserveOptions{
		ChildList:       true,
		Attributes:      true,
		AttributeFilter: []string{"src"},
		CharacterData:   false,
		Subtree:         true,
	}
}
