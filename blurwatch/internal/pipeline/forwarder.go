package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/dispatch"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/status"
	"github.com/hazyhaar/blurkit/idgen"
)

// Effects are the page-side effects of suspending and resuming a video.
type Effects interface {
	ApplyBlurryStart(el dom.Element)
	ClearBlur(el dom.Element)
}

// Config wires a Forwarder for one page.
type Config struct {
	PageID  string
	PageURL string
	Outbox  *Outbox
	Effects Effects // nil: no page-side effects
	IDs     idgen.Generator
	Logger  *slog.Logger
}

// Forwarder is the image and video processor of one page: it moves the
// node status forward and emits a process request.
type Forwarder struct {
	cfg  Config
	port *Port
}

// New creates a Forwarder.
func New(cfg Config) *Forwarder {
	if cfg.IDs == nil {
		cfg.IDs = idgen.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Forwarder{cfg: cfg, port: &Port{outbox: cfg.Outbox}}
}

// Port is the channel video requests go through.
func (f *Forwarder) Port() *Port { return f.port }

// ProcessImage queues el for classification.
func (f *Forwarder) ProcessImage(el dom.Element, st *status.Tracker) {
	st.Mark(el.ID(), status.Queued)
	f.cfg.Outbox.Process(f.request(el))
}

// ProcessVideo starts frame processing of el over port.
func (f *Forwarder) ProcessVideo(el dom.Element, st *status.Tracker, port dispatch.VideoPort) {
	if port == nil {
		f.cfg.Logger.Warn("pipeline: video without port", "node", el.ID())
		st.Mark(el.ID(), status.Error)
		return
	}
	st.Mark(el.ID(), status.Processing)
	if err := port.Post(context.Background(), f.request(el)); err != nil {
		f.cfg.Logger.Warn("pipeline: post video", "node", el.ID(), "error", err)
		st.Mark(el.ID(), status.Error)
	}
}

// DisableVideo suspends processing of a playing video and lifts its blur.
func (f *Forwarder) DisableVideo(el dom.Element, st *status.Tracker) {
	st.Mark(el.ID(), status.Disabled)
	if f.cfg.Effects != nil {
		f.cfg.Effects.ClearBlur(el)
	}
}

// EnableVideo resumes processing of a suspended video.
func (f *Forwarder) EnableVideo(el dom.Element, st *status.Tracker) {
	if f.cfg.Effects != nil {
		f.cfg.Effects.ApplyBlurryStart(el)
	}
	f.ProcessVideo(el, st, f.port)
}

func (f *Forwarder) request(el dom.Element) mutation.ProcessRequest {
	return mutation.ProcessRequest{
		ID:        f.cfg.IDs(),
		PageID:    f.cfg.PageID,
		PageURL:   f.cfg.PageURL,
		NodeID:    el.ID(),
		Kind:      el.Kind().String(),
		Src:       el.Src(),
		Sources:   el.SourceChildren(),
		Width:     el.Width(),
		Height:    el.Height(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Port implements dispatch.VideoPort over an Outbox.
type Port struct {
	outbox *Outbox
}

// Post enqueues req. It fails only once the outbox is closed or full.
func (p *Port) Post(_ context.Context, req mutation.ProcessRequest) error {
	if !p.outbox.Process(req) {
		return ErrOutboxUnavailable
	}
	return nil
}
