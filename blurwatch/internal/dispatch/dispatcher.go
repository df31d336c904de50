// Package dispatch turns mutation batches into processing hand-offs. It owns
// the document observer subscription and the two-state machine around it.
package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/qualify"
	"github.com/hazyhaar/blurkit/blurwatch/internal/registry"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

// State of the observer subscription.
type State int

const (
	Disconnected State = iota
	Observing
)

func (s State) String() string {
	if s == Observing {
		return "observing"
	}
	return "disconnected"
}

// PostFunc hands a delivered batch to the owning loop, tagged with the
// subscription generation it came from.
type PostFunc func(gen uint64, b mutation.Batch)

// Config wires a Dispatcher.
type Config struct {
	Source      Source
	Qualifier   *qualify.Qualifier
	Tracker     *status.Tracker
	Registry    *registry.Registry
	Placeholder Placeholder
	Images      ImageProcessor
	Videos      VideoProcessor
	// Snapshot returns the current settings; read on every node.
	Snapshot func() settings.Snapshot
	// Post enqueues batches into the loop that calls HandleBatch.
	Post    PostFunc
	Metrics Metrics
	Logger  *slog.Logger
}

// Dispatcher is driven from a single loop goroutine: Start, Stop and
// HandleBatch must never run concurrently.
type Dispatcher struct {
	cfg   Config
	state State
	sub   Subscription
	gen   uint64
	port  VideoPort
}

// New creates a Disconnected Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Placeholder == nil {
		cfg.Placeholder = nopPlaceholder{}
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = settings.NotYetLoaded
	}
	return &Dispatcher{cfg: cfg}
}

// SetPort installs the channel handed to the video processor.
func (d *Dispatcher) SetPort(p VideoPort) { d.port = p }

// State returns the current state.
func (d *Dispatcher) State() State { return d.state }

// Start attaches a document observer. No-op when already observing.
func (d *Dispatcher) Start() error {
	if d.state == Observing {
		return nil
	}
	d.gen++
	gen := d.gen
	sub, err := d.cfg.Source.Observe(mutation.DocumentOptions(), func(b mutation.Batch) {
		d.cfg.Post(gen, b)
	})
	if err != nil {
		return fmt.Errorf("dispatch: observe: %w", err)
	}
	d.sub = sub
	d.state = Observing
	d.cfg.Metrics.ObserverState(true)
	d.cfg.Logger.Info("dispatch: observing", "generation", gen)
	return nil
}

// Stop detaches and drops the observer. No-op when disconnected.
func (d *Dispatcher) Stop() {
	if d.state == Disconnected {
		return
	}
	if err := d.sub.Disconnect(); err != nil {
		d.cfg.Logger.Warn("dispatch: disconnect", "error", err)
	}
	d.sub = nil
	d.state = Disconnected
	d.cfg.Metrics.ObserverState(false)
	d.cfg.Logger.Info("dispatch: disconnected", "generation", d.gen)
}

// HandleBatch processes one delivered batch. Batches from a dropped
// subscription, or arriving while disconnected, are ignored.
func (d *Dispatcher) HandleBatch(gen uint64, b mutation.Batch) {
	if d.state != Observing || gen != d.gen {
		d.cfg.Logger.Debug("dispatch: stale batch dropped",
			"batch_gen", gen, "gen", d.gen, "state", d.state)
		return
	}

	for _, rec := range b.Records {
		frag, err := dom.ParseFragment(rec.HTML, rec.Sizes)
		if err != nil {
			d.cfg.Logger.Warn("dispatch: unparsable record", "op", rec.Op, "error", err)
			continue
		}

		switch rec.Op {
		case mutation.OpChildList:
			frag.Walk(func(m *dom.Media) {
				d.observeNode(m, false)
			})
		case mutation.OpAttributes:
			if target, ok := frag.Target(); ok {
				d.observeNode(target, rec.Name == "src")
			}
		}
	}
}

func (d *Dispatcher) observeNode(el dom.Element, srcChanged bool) {
	if el.ID() == "" {
		return
	}
	if !d.cfg.Qualifier.Qualifies(el, srcChanged, d.cfg.Snapshot()) {
		return
	}

	d.cfg.Placeholder.ApplyBlurryStart(el)
	d.cfg.Tracker.Mark(el.ID(), status.Observed)

	if !dom.SourceReady(el) {
		// Wait for a later src mutation instead of leaving a stale tag.
		d.cfg.Tracker.Clear(el.ID())
		return
	}

	switch el.Kind() {
	case dom.KindImage:
		d.cfg.Images.ProcessImage(el, d.cfg.Tracker)
	case dom.KindVideo:
		d.cfg.Videos.ProcessVideo(el, d.cfg.Tracker, d.port)
		d.cfg.Registry.Register(el)
	}
	d.cfg.Metrics.NodeForwarded(el.Kind())
	d.cfg.Logger.Debug("dispatch: forwarded", "node", el.ID(), "kind", el.Kind(), "src_changed", srcChanged)
}
