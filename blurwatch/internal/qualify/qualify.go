// Package qualify decides whether a mutated node should be handed to the
// processing pipeline.
package qualify

import (
	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
)

// SizeFunc reports whether an element renders below the detection threshold.
type SizeFunc func(dom.Element) bool

// MinSize returns a SizeFunc rejecting elements narrower than width or
// shorter than height.
func MinSize(width, height int) SizeFunc {
	return func(el dom.Element) bool {
		return el.Width() < width || el.Height() < height
	}
}

// DefaultMinSize is the threshold used when none is configured.
const DefaultMinSize = 32

// StatusReader is the part of the status tracker the qualifier reads.
type StatusReader interface {
	Recognized(id dom.NodeID) bool
}

// Qualifier holds the collaborators of the gate sequence.
type Qualifier struct {
	Status   StatusReader
	TooSmall SizeFunc
}

// New returns a Qualifier. A nil tooSmall uses MinSize(DefaultMinSize, DefaultMinSize).
func New(st StatusReader, tooSmall SizeFunc) *Qualifier {
	if tooSmall == nil {
		tooSmall = MinSize(DefaultMinSize, DefaultMinSize)
	}
	return &Qualifier{Status: st, TooSmall: tooSmall}
}

// Qualifies evaluates the four gates. All must pass:
//
//  1. kind: image with image detection on, or video with video detection on
//  2. re-entrancy: the mutation is a src change, or the node carries no
//     recognised status yet
//  3. source: direct src, or a <source> child for videos
//  4. size: not too small, unless a dimension is exactly zero (not laid
//     out yet)
func (q *Qualifier) Qualifies(el dom.Element, srcChanged bool, snap settings.Snapshot) bool {
	switch el.Kind() {
	case dom.KindImage:
		if !snap.ImagesEnabled() {
			return false
		}
	case dom.KindVideo:
		if !snap.VideosEnabled() {
			return false
		}
	default:
		return false
	}

	if !srcChanged && q.Status.Recognized(el.ID()) {
		return false
	}

	if !dom.SourceReady(el) {
		return false
	}

	// Elements not laid out yet report 0x0 and skip the size gate.
	if q.TooSmall(el) && el.Height() != 0 && el.Width() != 0 {
		return false
	}
	return true
}
