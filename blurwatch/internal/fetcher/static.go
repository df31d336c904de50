package fetcher

import (
	"context"
	"errors"
	"sync"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/dispatch"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// ErrNoPlayback is returned by Static.Playback: a fetched document has
// no running media.
var ErrNoPlayback = errors.New("fetcher: static document has no playback")

// Static is the host of a fetched document: nothing mutates on its own.
// Load keeps the document and replays it to every new observer, so turning
// detection back on rescans it.
type Static struct {
	mu      sync.Mutex
	deliver func(mutation.Batch)
	doc     *mutation.Batch
}

// Observe records deliver; options are irrelevant to a static document.
// A loaded document is replayed asynchronously.
func (s *Static) Observe(_ mutation.ObserveOptions, deliver func(mutation.Batch)) (dispatch.Subscription, error) {
	s.mu.Lock()
	s.deliver = deliver
	doc := s.doc
	s.mu.Unlock()
	if doc != nil {
		go deliver(*doc)
	}
	return staticSub{s}, nil
}

// Load stores b as the document and emits it if an observer is attached.
func (s *Static) Load(b mutation.Batch) bool {
	s.mu.Lock()
	s.doc = &b
	s.mu.Unlock()
	return s.Emit(b)
}

// Emit hands b to the observer. It reports false when none is attached.
func (s *Static) Emit(b mutation.Batch) bool {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(b)
	return true
}

// ApplyBlurryStart has nothing to blur.
func (s *Static) ApplyBlurryStart(dom.Element) {}

// ClearBlur has nothing to unblur.
func (s *Static) ClearBlur(dom.Element) {}

// Playback always fails.
func (s *Static) Playback(context.Context, dom.Element) (dom.Playback, error) {
	return dom.Playback{}, ErrNoPlayback
}

type staticSub struct{ s *Static }

func (sub staticSub) Disconnect() error {
	sub.s.mu.Lock()
	sub.s.deliver = nil
	sub.s.mu.Unlock()
	return nil
}
