// Package lifecycle owns one document's detection state: settings snapshot,
// status tracker, video registry and the dispatcher. Everything runs on the
// controller loop so settings events, commands and mutation batches never
// interleave mid-handler.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/dispatch"
	"github.com/hazyhaar/blurkit/blurwatch/internal/events"
	"github.com/hazyhaar/blurkit/blurwatch/internal/qualify"
	"github.com/hazyhaar/blurkit/blurwatch/internal/registry"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

// ErrStopped is returned by calls made after the loop exited.
var ErrStopped = errors.New("lifecycle: controller stopped")

// Player reads the live playback state of a video.
type Player interface {
	Playback(ctx context.Context, el dom.Element) (dom.Playback, error)
}

// VideoActions suspends and resumes video processing.
type VideoActions interface {
	DisableVideo(el dom.Element, st *status.Tracker)
	EnableVideo(el dom.Element, st *status.Tracker)
}

// Metrics receives controller counters.
type Metrics interface {
	dispatch.Metrics
	CommandHandled(t mutation.CommandType, matched int)
}

// Config wires a Controller for one page.
type Config struct {
	PageID  string
	PageURL string

	Source      dispatch.Source
	Placeholder dispatch.Placeholder
	Images      dispatch.ImageProcessor
	Videos      dispatch.VideoProcessor
	Player      Player
	Actions     VideoActions
	TooSmall    qualify.SizeFunc

	// Settings, when set, are the settings already loaded before the
	// controller was attached. Nil starts NotYetLoaded.
	Settings settings.Settings

	// Report receives the registry after every registration. Called on the
	// loop: implementations hand off and return.
	Report func(mutation.VideoReport)

	Metrics   Metrics
	Logger    *slog.Logger
	QueueSize int
}

type delivery struct {
	gen   uint64
	batch mutation.Batch
}

// Controller is the lifecycle controller of one document.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	snap     settings.Snapshot
	tracker  *status.Tracker
	registry *registry.Registry
	disp     *dispatch.Dispatcher

	reportSeq uint64

	batchCh chan delivery
	eventCh chan events.Event
	cmdCh   chan mutation.Command
	calls   chan func()
	done    chan struct{}

	unsubscribe []func()
}

// New creates a Controller. Call Run to start its loop.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	logger := cfg.Logger.With("page_id", cfg.PageID)

	snap := settings.NotYetLoaded()
	if cfg.Settings != nil {
		snap = settings.Loaded(cfg.Settings)
	}

	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		snap:    snap,
		tracker: status.NewTracker(),
		batchCh: make(chan delivery, cfg.QueueSize),
		eventCh: make(chan events.Event, 16),
		cmdCh:   make(chan mutation.Command, 16),
		calls:   make(chan func()),
		done:    make(chan struct{}),
	}
	c.registry = registry.New(c.report)
	c.disp = dispatch.New(dispatch.Config{
		Source:      cfg.Source,
		Qualifier:   qualify.New(c.tracker, cfg.TooSmall),
		Tracker:     c.tracker,
		Registry:    c.registry,
		Placeholder: cfg.Placeholder,
		Images:      cfg.Images,
		Videos:      cfg.Videos,
		Snapshot:    func() settings.Snapshot { return c.snap },
		Post:        c.post,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})
	return c
}

// Tracker exposes the status side-table of the page.
func (c *Controller) Tracker() *status.Tracker { return c.tracker }

// AttachObserversListener subscribes the controller to the settings events
// on bus and to commands arriving in inbox. Handlers only enqueue.
func (c *Controller) AttachObserversListener(bus *events.Bus, inbox *events.Inbox) {
	enqueue := func(e events.Event) {
		select {
		case c.eventCh <- e:
		case <-c.done:
		}
	}
	c.unsubscribe = append(c.unsubscribe,
		bus.Listen(events.SettingsLoaded, enqueue),
		bus.Listen(events.ToggleOnOffStatus, enqueue),
	)
	if inbox != nil {
		c.unsubscribe = append(c.unsubscribe, inbox.OnMessage(func(cmd mutation.Command) {
			select {
			case c.cmdCh <- cmd:
			case <-c.done:
			}
		}))
	}
}

// InitMutationObserver installs the video port and starts observing,
// unless settings loaded beforehand have detection off.
func (c *Controller) InitMutationObserver(ctx context.Context, port dispatch.VideoPort) error {
	return c.do(ctx, func() {
		c.disp.SetPort(port)
		c.apply()
	})
}

// Run is the controller loop. It returns when ctx is cancelled, after
// detaching the observer and the listeners.
func (c *Controller) Run(ctx context.Context) {
	defer func() {
		for _, u := range c.unsubscribe {
			u()
		}
		c.disp.Stop()
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.batchCh:
			c.disp.HandleBatch(d.gen, d.batch)
		case e := <-c.eventCh:
			c.handleEvent(e)
		case cmd := <-c.cmdCh:
			c.handleCommand(ctx, cmd)
		case fn := <-c.calls:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Command runs cmd on the loop and returns how many videos it touched.
func (c *Controller) Command(ctx context.Context, cmd mutation.Command) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}
	return call(ctx, c, func() int { return c.handleCommand(ctx, cmd) })
}

// Flush handles every batch already queued before returning.
func (c *Controller) Flush(ctx context.Context) error {
	return c.do(ctx, c.drainBatches)
}

// SetStatus records a status written back by the pipeline.
func (c *Controller) SetStatus(ctx context.Context, id dom.NodeID, s status.Status) error {
	return c.do(ctx, func() { c.tracker.Mark(id, s) })
}

// Videos returns the current registry as a report.
func (c *Controller) Videos(ctx context.Context) (mutation.VideoReport, error) {
	return call(ctx, c, func() mutation.VideoReport {
		return c.buildReport(c.registry.All(), c.reportSeq)
	})
}

// State returns the dispatcher state.
func (c *Controller) State(ctx context.Context) (dispatch.State, error) {
	return call(ctx, c, c.disp.State)
}

func (c *Controller) do(ctx context.Context, fn func()) error {
	_, err := call(ctx, c, func() struct{} { fn(); return struct{}{} })
	return err
}

// call runs fn on the loop and returns its result. A caller that gives up
// on ctx leaves fn to run later; its result goes to a buffered channel
// nobody reads.
func call[T any](ctx context.Context, c *Controller, fn func() T) (T, error) {
	var zero T
	res := make(chan T, 1)
	select {
	case c.calls <- func() { res <- fn() }:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrStopped
	}
	select {
	case v := <-res:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Controller) drainBatches() {
	for {
		select {
		case d := <-c.batchCh:
			c.disp.HandleBatch(d.gen, d.batch)
		default:
			return
		}
	}
}

func (c *Controller) post(gen uint64, b mutation.Batch) {
	select {
	case c.batchCh <- delivery{gen: gen, batch: b}:
	case <-c.done:
	}
}

func (c *Controller) handleEvent(e events.Event) {
	switch e.Name {
	case events.SettingsLoaded:
		s, _ := e.Detail.(settings.Settings)
		c.settingsLoaded(s)
	case events.ToggleOnOffStatus:
		c.toggleOnOffStatus()
	}
}

func (c *Controller) settingsLoaded(s settings.Settings) {
	c.snap = settings.Loaded(s)
	c.apply()
}

func (c *Controller) toggleOnOffStatus() {
	c.apply()
}

// apply moves the dispatcher to the state the current snapshot asks for.
func (c *Controller) apply() {
	if !c.snap.DetectEnabled() {
		c.disp.Stop()
		return
	}
	if err := c.disp.Start(); err != nil {
		c.logger.Error("lifecycle: start observing", "error", err)
	}
}

// handleCommand suspends or resumes videos that are mid-playback. Videos
// that have not started, or have stopped, are left alone.
func (c *Controller) handleCommand(ctx context.Context, cmd mutation.Command) int {
	var want status.Status
	var act func(dom.Element, *status.Tracker)
	switch cmd.Type {
	case mutation.DisableDetection:
		want, act = status.Processing, c.cfg.Actions.DisableVideo
	case mutation.EnableDetection:
		want, act = status.Disabled, c.cfg.Actions.EnableVideo
	default:
		c.logger.Warn("lifecycle: unknown command", "type", cmd.Type)
		return 0
	}

	matched := c.registry.Select(func(el dom.Element) bool {
		if s, ok := c.tracker.Read(el.ID()); !ok || s != want {
			return false
		}
		pb, err := c.cfg.Player.Playback(ctx, el)
		if err != nil {
			c.logger.Debug("lifecycle: playback state", "node", el.ID(), "error", err)
			return false
		}
		return pb.Playing()
	})
	for _, el := range matched {
		act(el, c.tracker)
	}

	c.cfg.Metrics.CommandHandled(cmd.Type, len(matched))
	c.logger.Info("lifecycle: command handled", "type", cmd.Type, "matched", len(matched))
	return len(matched)
}

func (c *Controller) report(videos []dom.Element) {
	c.reportSeq++
	if c.cfg.Report != nil {
		c.cfg.Report(c.buildReport(videos, c.reportSeq))
	}
}

func (c *Controller) buildReport(videos []dom.Element, seq uint64) mutation.VideoReport {
	entries := make([]mutation.VideoEntry, 0, len(videos))
	for _, v := range videos {
		s, _ := c.tracker.Read(v.ID())
		entries = append(entries, mutation.VideoEntry{
			NodeID:  v.ID(),
			Src:     v.Src(),
			Sources: v.SourceChildren(),
			Status:  s,
		})
	}
	return mutation.VideoReport{
		PageID:    c.cfg.PageID,
		PageURL:   c.cfg.PageURL,
		Seq:       seq,
		Videos:    entries,
		Timestamp: time.Now().UnixMilli(),
	}
}

type nopMetrics struct{}

func (nopMetrics) NodeForwarded(dom.Kind)                   {}
func (nopMetrics) ObserverState(bool)                       {}
func (nopMetrics) CommandHandled(mutation.CommandType, int) {}
