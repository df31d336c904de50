package mutation

import (
	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

// VideoEntry is one registered video as reported outward.
type VideoEntry struct {
	NodeID  dom.NodeID    `json:"node_id"`
	Src     string        `json:"src,omitempty"`
	Sources int           `json:"sources,omitempty"`
	Status  status.Status `json:"status,omitempty"`
}

// VideoReport is the full video registry of a page. Emitted every time a
// video is registered; Seq orders reports of the same page.
type VideoReport struct {
	PageID    string       `json:"page_id"`
	PageURL   string       `json:"page_url"`
	Seq       uint64       `json:"seq"`
	Videos    []VideoEntry `json:"videos"`
	Timestamp int64        `json:"timestamp"`
}

// ProcessRequest hands one qualified element to the processing pipeline.
type ProcessRequest struct {
	ID        string     `json:"id"` // UUIDv7
	PageID    string     `json:"page_id"`
	PageURL   string     `json:"page_url"`
	NodeID    dom.NodeID `json:"node_id"`
	Kind      string     `json:"kind"` // image | video
	Src       string     `json:"src,omitempty"`
	Sources   int        `json:"sources,omitempty"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	Timestamp int64      `json:"timestamp"`
}
