// Package status defines the per-node processing status and the side-table
// that records it. The status is the only memory blurwatch keeps about a
// node: the dispatcher reads it on every mutation to decide whether the node
// was already handed to the pipeline, and the pipeline writes it back as
// processing advances.
package status

import (
	"slices"
	"sync"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
)

// Status is the last known processing stage of a node.
type Status string

const (
	Observed   Status = "observed"   // qualified, handed to the placeholder effect
	Queued     Status = "queued"     // accepted by the pipeline, waiting for a slot
	Loading    Status = "loading"    // pipeline is fetching the media bytes
	Loaded     Status = "loaded"     // bytes available, not yet classified
	Processing Status = "processing" // classification running (videos: frame loop active)
	Processed  Status = "processed"  // final decision applied
	Invalid    Status = "invalid"    // media could not be decoded
	Error      Status = "error"      // pipeline failure
	Disabled   Status = "disabled"   // video processing suspended by command
)

// All lists every recognised status in pipeline order.
var All = []Status{Observed, Queued, Loading, Loaded, Processing, Processed, Invalid, Error, Disabled}

// Known reports whether s is one of the recognised statuses.
func (s Status) Known() bool {
	return slices.Contains(All, s)
}

// Tracker is an identity-keyed side-table from node to status. It replaces
// the data attribute the browser extension writes on the element itself.
//
// The dispatcher only touches it from its loop goroutine, but pipeline
// callbacks and reporters read it from elsewhere, hence the lock.
type Tracker struct {
	mu   sync.RWMutex
	tags map[dom.NodeID]Status
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{tags: make(map[dom.NodeID]Status)}
}

// Mark attaches or overwrites the status of a node.
func (t *Tracker) Mark(id dom.NodeID, s Status) {
	t.mu.Lock()
	t.tags[id] = s
	t.mu.Unlock()
}

// Clear removes the status so the node is evaluated again on its next mutation.
func (t *Tracker) Clear(id dom.NodeID) {
	t.mu.Lock()
	delete(t.tags, id)
	t.mu.Unlock()
}

// Read returns the status of a node and whether one is set.
func (t *Tracker) Read(id dom.NodeID) (Status, bool) {
	t.mu.RLock()
	s, ok := t.tags[id]
	t.mu.RUnlock()
	return s, ok
}

// Recognized reports whether the node carries a known status. Unknown values
// written by a misbehaving pipeline do not block re-evaluation.
func (t *Tracker) Recognized(id dom.NodeID) bool {
	s, ok := t.Read(id)
	return ok && s.Known()
}

// Len returns the number of tagged nodes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tags)
}
