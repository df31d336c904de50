package dispatch

import (
	"context"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

// Subscription is an observer attached to a document.
type Subscription interface {
	Disconnect() error
}

// Source is the host environment producing mutation batches. deliver may be
// called from any goroutine.
type Source interface {
	Observe(opts mutation.ObserveOptions, deliver func(mutation.Batch)) (Subscription, error)
}

// Placeholder applies the blurred starting style to an element. Must not block.
type Placeholder interface {
	ApplyBlurryStart(el dom.Element)
}

// VideoPort is the channel video processing talks through.
type VideoPort interface {
	Post(ctx context.Context, req mutation.ProcessRequest) error
}

// ImageProcessor starts processing an image. It is expected to move the
// node's status forward through st.
type ImageProcessor interface {
	ProcessImage(el dom.Element, st *status.Tracker)
}

// VideoProcessor starts processing a video over port.
type VideoProcessor interface {
	ProcessVideo(el dom.Element, st *status.Tracker, port VideoPort)
}

// Metrics receives dispatcher counters.
type Metrics interface {
	NodeForwarded(kind dom.Kind)
	ObserverState(observing bool)
}

type nopMetrics struct{}

func (nopMetrics) NodeForwarded(dom.Kind) {}
func (nopMetrics) ObserverState(bool)     {}

type nopPlaceholder struct{}

func (nopPlaceholder) ApplyBlurryStart(dom.Element) {}
