// Package registry keeps the ordered list of videos handed to the pipeline
// for one document.
package registry

import "github.com/hazyhaar/blurkit/blurwatch/dom"

// ReportFunc receives the full registry after each registration.
type ReportFunc func(videos []dom.Element)

// Registry is append-only: entries live as long as the document. It is
// owned by the page loop and not safe for concurrent use.
type Registry struct {
	videos []dom.Element
	report ReportFunc
}

// New returns an empty Registry reporting through report (may be nil).
func New(report ReportFunc) *Registry {
	return &Registry{report: report}
}

// Register appends el and reports the whole collection. Duplicates are not
// filtered: the dispatcher registers a node once per forwarding.
func (r *Registry) Register(el dom.Element) {
	r.videos = append(r.videos, el)
	if r.report != nil {
		r.report(r.All())
	}
}

// Select returns the registered videos matching pred, in registration order.
func (r *Registry) Select(pred func(dom.Element) bool) []dom.Element {
	var out []dom.Element
	for _, v := range r.videos {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// All returns a copy of the registry.
func (r *Registry) All() []dom.Element {
	out := make([]dom.Element, len(r.videos))
	copy(out, r.videos)
	return out
}

// Len returns the number of registered videos.
func (r *Registry) Len() int { return len(r.videos) }
