package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/sink"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/status"
	"github.com/hazyhaar/blurkit/idgen"
)

type collector struct {
	mu       sync.Mutex
	requests []mutation.ProcessRequest
	reports  []mutation.VideoReport
}

func (c *collector) sink(fail bool) sink.Sink {
	return sink.NewCallback(
		func(_ context.Context, r mutation.VideoReport) error {
			c.mu.Lock()
			c.reports = append(c.reports, r)
			c.mu.Unlock()
			return nil
		},
		func(_ context.Context, req mutation.ProcessRequest) error {
			if fail {
				return errors.New("down")
			}
			c.mu.Lock()
			c.requests = append(c.requests, req)
			c.mu.Unlock()
			return nil
		})
}

type errCount struct {
	mu sync.Mutex
	n  map[string]int
}

func (e *errCount) SinkError(typ string) {
	e.mu.Lock()
	e.n[typ]++
	e.mu.Unlock()
}

type effects struct{ blurred, cleared []dom.NodeID }

func (e *effects) ApplyBlurryStart(el dom.Element) { e.blurred = append(e.blurred, el.ID()) }
func (e *effects) ClearBlur(el dom.Element)        { e.cleared = append(e.cleared, el.ID()) }

func TestForwarder_ImageAndVideo(t *testing.T) {
	c := &collector{}
	out := NewOutbox(c.sink(false), OutboxConfig{Workers: 1})
	f := New(Config{PageID: "p1", PageURL: "https://example.test/", Outbox: out, IDs: idgen.Sequence("r")})
	st := status.NewTracker()

	f.ProcessImage(&dom.Media{NodeID: "a", Tag: dom.KindImage, URL: "a.png", PixelWidth: 64, PixelHeight: 48}, st)
	f.ProcessVideo(&dom.Media{NodeID: "v", Tag: dom.KindVideo, SourceCount: 2}, st, f.Port())
	out.Report(mutation.VideoReport{PageID: "p1"})

	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	if s, _ := st.Read("a"); s != status.Queued {
		t.Errorf("image status: got %q, want queued", s)
	}
	if s, _ := st.Read("v"); s != status.Processing {
		t.Errorf("video status: got %q, want processing", s)
	}
	if len(c.requests) != 2 || len(c.reports) != 1 {
		t.Fatalf("delivered: %d requests, %d reports", len(c.requests), len(c.reports))
	}
	img := c.requests[0]
	if img.ID != "r1" || img.Kind != "image" || img.Width != 64 || img.PageID != "p1" {
		t.Errorf("image request: %+v", img)
	}
	if c.requests[1].Sources != 2 || c.requests[1].Kind != "video" {
		t.Errorf("video request: %+v", c.requests[1])
	}
}

func TestForwarder_VideoWithoutPort(t *testing.T) {
	out := NewOutbox((&collector{}).sink(false), OutboxConfig{})
	defer out.Close()
	f := New(Config{Outbox: out})
	st := status.NewTracker()

	f.ProcessVideo(&dom.Media{NodeID: "v", Tag: dom.KindVideo, URL: "v.mp4"}, st, nil)
	if s, _ := st.Read("v"); s != status.Error {
		t.Errorf("status: got %q, want error", s)
	}
}

func TestForwarder_DisableEnable(t *testing.T) {
	c := &collector{}
	out := NewOutbox(c.sink(false), OutboxConfig{Workers: 1})
	fx := &effects{}
	f := New(Config{Outbox: out, Effects: fx})
	st := status.NewTracker()
	v := &dom.Media{NodeID: "v", Tag: dom.KindVideo, URL: "v.mp4"}

	f.DisableVideo(v, st)
	if s, _ := st.Read("v"); s != status.Disabled {
		t.Fatalf("after disable: got %q", s)
	}
	f.EnableVideo(v, st)
	if s, _ := st.Read("v"); s != status.Processing {
		t.Fatalf("after enable: got %q", s)
	}
	out.Close()

	if len(fx.cleared) != 1 || len(fx.blurred) != 1 {
		t.Errorf("effects: cleared %v, blurred %v", fx.cleared, fx.blurred)
	}
	if len(c.requests) != 1 {
		t.Errorf("resume request: got %d, want 1", len(c.requests))
	}
}

func TestOutbox_FailuresCounted(t *testing.T) {
	errs := &errCount{n: make(map[string]int)}
	out := NewOutbox((&collector{}).sink(true), OutboxConfig{Workers: 1, Errors: errs})
	out.Process(mutation.ProcessRequest{})
	out.Close()

	if errs.n[sink.TypeProcess] != 1 {
		t.Errorf("errors: got %v", errs.n)
	}
}

func TestOutbox_ClosedRejects(t *testing.T) {
	out := NewOutbox((&collector{}).sink(false), OutboxConfig{})
	out.Close()
	if out.Process(mutation.ProcessRequest{}) {
		t.Error("enqueue accepted after close")
	}
	p := &Port{outbox: out}
	if err := p.Post(context.Background(), mutation.ProcessRequest{}); !errors.Is(err, ErrOutboxUnavailable) {
		t.Errorf("post: got %v", err)
	}
	// Close is idempotent.
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}
