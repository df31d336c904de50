package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/dispatch"
	"github.com/hazyhaar/blurkit/blurwatch/internal/events"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

type fakeSub struct{ src *fakeSource }

func (s *fakeSub) Disconnect() error {
	s.src.mu.Lock()
	s.src.disconnects++
	s.src.mu.Unlock()
	return nil
}

type fakeSource struct {
	mu          sync.Mutex
	observes    int
	disconnects int
	deliver     func(mutation.Batch)
}

func (f *fakeSource) Observe(_ mutation.ObserveOptions, deliver func(mutation.Batch)) (dispatch.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observes++
	f.deliver = deliver
	return &fakeSub{src: f}, nil
}

func (f *fakeSource) counts() (observes, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observes, f.disconnects
}

func (f *fakeSource) send(html string) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	deliver(mutation.Batch{Records: []mutation.Record{{Op: mutation.OpChildList, HTML: html}}})
}

type pipeline struct {
	mu       sync.Mutex
	images   []dom.NodeID
	videos   []dom.NodeID
	disabled []dom.NodeID
	enabled  []dom.NodeID
	playback map[dom.NodeID]dom.Playback
	reports  []mutation.VideoReport
}

func (p *pipeline) ProcessImage(el dom.Element, _ *status.Tracker) {
	p.mu.Lock()
	p.images = append(p.images, el.ID())
	p.mu.Unlock()
}

func (p *pipeline) ProcessVideo(el dom.Element, st *status.Tracker, _ dispatch.VideoPort) {
	p.mu.Lock()
	p.videos = append(p.videos, el.ID())
	p.mu.Unlock()
	st.Mark(el.ID(), status.Processing)
}

func (p *pipeline) Playback(_ context.Context, el dom.Element) (dom.Playback, error) {
	pb, ok := p.playback[el.ID()]
	if !ok {
		return dom.Playback{}, errors.New("no such video")
	}
	return pb, nil
}

func (p *pipeline) DisableVideo(el dom.Element, st *status.Tracker) {
	p.disabled = append(p.disabled, el.ID())
	st.Mark(el.ID(), status.Disabled)
}

func (p *pipeline) EnableVideo(el dom.Element, st *status.Tracker) {
	p.enabled = append(p.enabled, el.ID())
	st.Mark(el.ID(), status.Processing)
}

func (p *pipeline) imageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.images)
}

type nullPort struct{}

func (nullPort) Post(context.Context, mutation.ProcessRequest) error { return nil }

func newController(t *testing.T) (*Controller, *fakeSource, *pipeline) {
	t.Helper()
	src := &fakeSource{}
	p := &pipeline{playback: make(map[dom.NodeID]dom.Playback)}
	c := New(Config{
		PageID:  "page-1",
		PageURL: "https://example.test/",
		Source:  src,
		Images:  p,
		Videos:  p,
		Player:  p,
		Actions: p,
		Report:  func(r mutation.VideoReport) { p.reports = append(p.reports, r) },
	})
	return c, src, p
}

// drain handles every queued batch on the test goroutine.
func drain(c *Controller) { c.drainBatches() }

func TestStartup_NotYetLoadedObserves(t *testing.T) {
	c, src, p := newController(t)
	c.disp.SetPort(nullPort{})
	c.apply()

	if c.disp.State() != dispatch.Observing {
		t.Fatalf("state: got %v, want observing", c.disp.State())
	}
	src.send(`<img data-bw-id="a" src="a.png" width="64" height="64">`)
	drain(c)
	if p.imageCount() != 1 {
		t.Errorf("image processor calls: got %d, want 1", p.imageCount())
	}
}

func TestSettingsLoaded_DetectOffDisconnects(t *testing.T) {
	c, src, p := newController(t)
	c.disp.SetPort(nullPort{})
	c.apply()
	deliver := src.deliver

	c.handleEvent(events.Event{Name: events.SettingsLoaded, Detail: settings.Flags{}})
	if c.disp.State() != dispatch.Disconnected {
		t.Fatalf("state: got %v, want disconnected", c.disp.State())
	}
	if _, d := src.counts(); d != 1 {
		t.Errorf("disconnects: got %d, want 1", d)
	}

	deliver(mutation.Batch{Records: []mutation.Record{{Op: mutation.OpChildList, HTML: `<img data-bw-id="a" src="a.png">`}}})
	drain(c)
	if p.imageCount() != 0 {
		t.Errorf("image forwarded while disconnected")
	}
}

func TestToggle_NoopWhenAlreadyObserving(t *testing.T) {
	c, src, _ := newController(t)
	c.apply()
	c.handleEvent(events.Event{Name: events.ToggleOnOffStatus})
	c.handleEvent(events.Event{Name: events.ToggleOnOffStatus})

	if o, d := src.counts(); o != 1 || d != 0 {
		t.Errorf("observes/disconnects: got %d/%d, want 1/0", o, d)
	}
}

func TestToggle_FollowsStore(t *testing.T) {
	c, src, _ := newController(t)
	store := settings.NewStore(settings.AllOn)
	c.handleEvent(events.Event{Name: events.SettingsLoaded, Detail: store})
	if c.disp.State() != dispatch.Observing {
		t.Fatalf("state after load: %v", c.disp.State())
	}

	store.Toggle()
	c.handleEvent(events.Event{Name: events.ToggleOnOffStatus})
	if c.disp.State() != dispatch.Disconnected {
		t.Fatalf("state after toggle off: %v", c.disp.State())
	}

	store.Toggle()
	c.handleEvent(events.Event{Name: events.ToggleOnOffStatus})
	if c.disp.State() != dispatch.Observing {
		t.Fatalf("state after toggle on: %v", c.disp.State())
	}
	if o, _ := src.counts(); o != 2 {
		t.Errorf("observes: got %d, want 2", o)
	}
}

func TestToggle_BeforeSettingsIsPermissive(t *testing.T) {
	c, _, _ := newController(t)
	c.handleEvent(events.Event{Name: events.ToggleOnOffStatus})
	if c.disp.State() != dispatch.Observing {
		t.Errorf("state: got %v, want observing", c.disp.State())
	}
}

func TestDisableCommand_OnlyPlayingProcessingVideos(t *testing.T) {
	c, src, p := newController(t)
	c.disp.SetPort(nullPort{})
	c.apply()

	src.send(`<video data-bw-id="v1" src="1.mp4"></video>`)
	src.send(`<video data-bw-id="v2" src="2.mp4"></video>`)
	src.send(`<video data-bw-id="v3" src="3.mp4"></video>`)
	drain(c)
	if c.registry.Len() != 3 {
		t.Fatalf("registry: got %d, want 3", c.registry.Len())
	}
	if len(p.reports) != 3 || len(p.reports[2].Videos) != 3 || p.reports[2].Seq != 3 {
		t.Fatalf("reports: got %+v", p.reports)
	}

	p.playback["v1"] = dom.Playback{Paused: false, CurrentTime: 4.2}
	p.playback["v2"] = dom.Playback{Paused: true, CurrentTime: 4.2}
	p.playback["v3"] = dom.Playback{Paused: false, CurrentTime: 0}

	n := c.handleCommand(context.Background(), mutation.Command{Type: mutation.DisableDetection})
	if n != 1 || len(p.disabled) != 1 || p.disabled[0] != "v1" {
		t.Fatalf("disabled: got %d %v, want [v1]", n, p.disabled)
	}
	if s, _ := c.tracker.Read("v1"); s != status.Disabled {
		t.Errorf("v1 status: got %q, want disabled", s)
	}

	n = c.handleCommand(context.Background(), mutation.Command{Type: mutation.EnableDetection})
	if n != 1 || len(p.enabled) != 1 || p.enabled[0] != "v1" {
		t.Fatalf("enabled: got %d %v, want [v1]", n, p.enabled)
	}
}

func TestEnableCommand_IgnoresUndisabledVideos(t *testing.T) {
	c, src, p := newController(t)
	c.apply()
	src.send(`<video data-bw-id="v1" src="1.mp4"></video>`)
	drain(c)
	p.playback["v1"] = dom.Playback{CurrentTime: 1}

	if n := c.handleCommand(context.Background(), mutation.Command{Type: mutation.EnableDetection}); n != 0 {
		t.Errorf("matched: got %d, want 0", n)
	}
}

func TestPlaybackErrorDoesNotMatch(t *testing.T) {
	c, src, p := newController(t)
	c.apply()
	src.send(`<video data-bw-id="gone" src="1.mp4"></video>`)
	drain(c)

	if n := c.handleCommand(context.Background(), mutation.Command{Type: mutation.DisableDetection}); n != 0 {
		t.Errorf("matched: got %d, want 0", n)
	}
	if len(p.disabled) != 0 {
		t.Errorf("disabled: %v", p.disabled)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	c, src, p := newController(t)
	bus := events.NewBus()
	inbox := events.NewInbox()
	c.AttachObserversListener(bus, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	if err := c.InitMutationObserver(ctx, nullPort{}); err != nil {
		t.Fatal(err)
	}
	src.send(`<img data-bw-id="a" src="a.png">`)

	deadline := time.Now().Add(2 * time.Second)
	for p.imageCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("image never forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.SettingsLoaded, settings.Flags{})
	for {
		st, err := c.State(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st == dispatch.Disconnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("controller never disconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := c.Command(ctx, mutation.Command{Type: "reboot"}); !errors.Is(err, mutation.ErrUnknownCommand) {
		t.Errorf("unknown command: got %v", err)
	}

	cancel()
	<-c.Done()
	if _, err := c.State(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("after stop: got %v, want ErrStopped", err)
	}
}

func TestSetStatus_VisibleInVideos(t *testing.T) {
	c, src, _ := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.InitMutationObserver(ctx, nullPort{}); err != nil {
		t.Fatal(err)
	}
	src.send(`<video data-bw-id="v"><source src="v.webm"></video>`)

	deadline := time.Now().Add(2 * time.Second)
	var report mutation.VideoReport
	for len(report.Videos) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("video never registered")
		}
		time.Sleep(5 * time.Millisecond)
		var err error
		if report, err = c.Videos(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.SetStatus(ctx, "v", status.Processed); err != nil {
		t.Fatal(err)
	}
	report, err := c.Videos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Videos[0].Status != status.Processed || report.Videos[0].Sources != 1 {
		t.Errorf("entry: got %+v", report.Videos[0])
	}
	if report.PageID != "page-1" {
		t.Errorf("page id: got %q", report.PageID)
	}
}

func TestConfigSettings_LoadedAtStart(t *testing.T) {
	src := &fakeSource{}
	p := &pipeline{playback: make(map[dom.NodeID]dom.Playback)}
	c := New(Config{
		Source:   src,
		Images:   p,
		Videos:   p,
		Player:   p,
		Actions:  p,
		Settings: settings.Flags{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.InitMutationObserver(ctx, nullPort{}); err != nil {
		t.Fatal(err)
	}
	if o, _ := src.counts(); o != 0 {
		t.Errorf("observes: got %d, want 0 with detection off", o)
	}
}

func TestFlush_HandlesQueuedBatches(t *testing.T) {
	c, src, p := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.InitMutationObserver(ctx, nullPort{}); err != nil {
		t.Fatal(err)
	}
	src.send(`<img data-bw-id="a" src="a.png">`)
	src.send(`<img data-bw-id="b" src="b.png">`)
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if p.imageCount() != 2 {
		t.Errorf("images: got %d, want 2", p.imageCount())
	}
}

func TestDisableCommand_RepeatMatchesNothing(t *testing.T) {
	c, src, p := newController(t)
	c.disp.SetPort(nullPort{})
	c.apply()
	src.send(`<video data-bw-id="v1"><source src="1.mp4"></video>`)
	drain(c)
	p.playback["v1"] = dom.Playback{CurrentTime: 12.5}

	first := c.handleCommand(context.Background(), mutation.Command{Type: mutation.DisableDetection})
	second := c.handleCommand(context.Background(), mutation.Command{Type: mutation.DisableDetection})
	if first != 1 || second != 0 {
		t.Errorf("matched: got %d then %d, want 1 then 0", first, second)
	}
	if len(p.disabled) != 1 {
		t.Errorf("disable actions: got %v, want one", p.disabled)
	}
}

func TestCall_CallerGivesUpLoopContinues(t *testing.T) {
	c, _, _ := newController(t)
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go c.Run(runCtx)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := call(ctx, c, func() int {
		cancel()
		time.Sleep(50 * time.Millisecond)
		return 1
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	st, err := c.State(runCtx)
	if err != nil {
		t.Fatal(err)
	}
	if st != dispatch.Disconnected {
		t.Errorf("state: got %v, want disconnected", st)
	}
}
