// Package blurwatch is a daemon that keeps offensive images and videos out
// of sight on observed pages. It watches each page's document for media as
// it appears, blurs it as a placeholder, and forwards it to a classification
// pipeline through sinks (stdout, webhook, NATS, callback).
//
// blurwatch qualifies and forwards, it does not classify. Detection can be
// switched on and off at runtime; running videos can be suspended and
// resumed by command.
package blurwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/browser"
	"github.com/hazyhaar/blurkit/blurwatch/internal/config"
	"github.com/hazyhaar/blurkit/blurwatch/internal/dispatch"
	"github.com/hazyhaar/blurkit/blurwatch/internal/events"
	"github.com/hazyhaar/blurkit/blurwatch/internal/fetcher"
	"github.com/hazyhaar/blurkit/blurwatch/internal/lifecycle"
	"github.com/hazyhaar/blurkit/blurwatch/internal/metrics"
	"github.com/hazyhaar/blurkit/blurwatch/internal/pipeline"
	"github.com/hazyhaar/blurkit/blurwatch/internal/qualify"
	"github.com/hazyhaar/blurkit/blurwatch/internal/sink"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
	"github.com/hazyhaar/blurkit/idgen"
)

var (
	// ErrUnknownPage is returned for a page ID that is not observed.
	ErrUnknownPage = errors.New("blurwatch: unknown page")
	// ErrPageExists is returned when observing an ID twice.
	ErrPageExists = errors.New("blurwatch: page already observed")
	// ErrNotStarted is returned by ObservePage before Start.
	ErrNotStarted = errors.New("blurwatch: watcher not started")
	// ErrUnknownStatus is returned for a status outside the known set.
	ErrUnknownStatus = errors.New("blurwatch: unknown status")
)

// Watcher is the top-level orchestrator. It owns the browser, the per-page
// controllers, the shared settings and the outbox in front of the sinks.
type Watcher struct {
	cfg     *config.Config
	mgr     *browser.Manager
	fetch   *fetcher.Fetcher
	outbox  *pipeline.Outbox
	metrics *metrics.Metrics
	bus     *events.Bus
	logger  *slog.Logger

	// setMu serialises settings changes with controller attachment, so a
	// page never misses a settingsLoaded emitted while it is being opened.
	setMu  sync.Mutex
	store  *settings.Store
	loaded bool
	db     *sql.DB

	mu        sync.Mutex
	ctx       context.Context
	pages     map[string]*page
	browserUp bool
	recycled  []config.PageConfig
}

type page struct {
	cfg    config.PageConfig
	level  browser.StealthLevel
	ctrl   *lifecycle.Controller
	inbox  *events.Inbox
	cancel context.CancelFunc

	tab    *browser.Tab
	host   *browser.Host
	static *fetcher.Static
}

func (p *page) close() {
	p.cancel()
	<-p.ctrl.Done()
	if p.host != nil {
		p.host.Close()
	}
	if p.tab != nil {
		p.tab.Close()
	}
}

// PageInfo describes an observed page.
type PageInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Stealth int    `json:"stealth_level"`
	State   string `json:"state"`
}

// New creates a Watcher from configuration. Reports and process requests go
// to every sink.
func New(cfg *config.Config, logger *slog.Logger, sinks ...sink.Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	stealthLevel := browser.LevelHeadless
	if cfg.Browser.Stealth == "headful" {
		stealthLevel = browser.LevelHeadful
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          stealthLevel,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	m := metrics.New()
	return &Watcher{
		cfg:     cfg,
		mgr:     mgr,
		fetch:   fetcher.New(fetcher.WithLogger(logger)),
		outbox:  pipeline.NewOutbox(sink.NewRouter(logger, sinks...), pipeline.OutboxConfig{Errors: m, Logger: logger}),
		metrics: m,
		bus:     events.NewBus(),
		logger:  logger,
		store:   settings.NewStore(settings.AllOn),
		pages:   make(map[string]*page),
	}
}

// Start loads the settings, then begins observing every configured page
// plus those saved in the settings database. The browser is launched on
// the first page that needs it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	w.mgr.SetRecycleHooks(browser.RecycleHooks{
		Before: w.detachBrowserPages,
		After:  func(*rod.Browser) { w.reattachBrowserPages() },
	})

	if err := w.openSettings(ctx); err != nil {
		return err
	}

	pages := append([]config.PageConfig(nil), w.cfg.Pages...)
	if w.db != nil {
		saved, err := config.LoadPages(ctx, w.db)
		if err != nil {
			return err
		}
		pages = append(pages, saved...)
	}

	for _, pc := range pages {
		if err := w.ObservePage(ctx, pc); err != nil {
			w.logger.Error("blurwatch: failed to observe page",
				"url", pc.URL, "error", err)
		}
	}
	return nil
}

func (w *Watcher) openSettings(ctx context.Context) error {
	initial := w.cfg.Detection.Initial
	if w.cfg.SettingsDB == "" {
		if initial != nil {
			w.applySettings(*initial)
		}
		return nil
	}

	db, err := config.OpenDB(w.cfg.SettingsDB)
	if err != nil {
		return fmt.Errorf("blurwatch: settings db: %w", err)
	}
	w.setMu.Lock()
	w.db = db
	w.setMu.Unlock()

	f, found, err := config.LoadSettings(ctx, db)
	if err != nil {
		return err
	}
	switch {
	case found:
		w.applySettings(f)
	case initial != nil:
		if err := config.SaveSettings(ctx, db, *initial); err != nil {
			return err
		}
		w.applySettings(*initial)
	}

	go config.WatchSettings(db, w.logger).OnChange(ctx, w.reloadSettings)
	return nil
}

// reloadSettings re-reads the database after a change from another writer.
func (w *Watcher) reloadSettings(ctx context.Context) error {
	f, found, err := config.LoadSettings(ctx, w.db)
	if err != nil || !found {
		return err
	}
	w.setMu.Lock()
	same := w.loaded && w.store.Flags() == f
	w.setMu.Unlock()
	if !same {
		w.logger.Info("blurwatch: settings changed", "detect", f.Detect)
		w.applySettings(f)
	}
	return nil
}

// applySettings replaces the live settings and emits settingsLoaded.
func (w *Watcher) applySettings(f settings.Flags) {
	w.setMu.Lock()
	defer w.setMu.Unlock()
	w.store.Replace(f)
	w.loaded = true
	w.bus.Emit(events.SettingsLoaded, w.store)
}

// LoadSettings persists f, when a settings database is configured, and
// hands it to every page.
func (w *Watcher) LoadSettings(ctx context.Context, f settings.Flags) error {
	if db := w.settingsDB(); db != nil {
		if err := config.SaveSettings(ctx, db, f); err != nil {
			return err
		}
	}
	w.applySettings(f)
	return nil
}

// Toggle flips global detection and emits toggleOnOffStatus. Settings the
// daemon never loaded are loaded by the toggle itself.
func (w *Watcher) Toggle(ctx context.Context) (settings.Flags, error) {
	w.setMu.Lock()
	f := w.store.Toggle()
	db := w.db
	if w.loaded {
		w.bus.Emit(events.ToggleOnOffStatus, nil)
	} else {
		w.loaded = true
		w.bus.Emit(events.SettingsLoaded, w.store)
	}
	w.setMu.Unlock()

	if db != nil {
		if err := config.SaveSettings(ctx, db, f); err != nil {
			return f, err
		}
	}
	w.logger.Info("blurwatch: detection toggled", "detect", f.Detect)
	return f, nil
}

// Settings returns the live settings and whether any were loaded.
func (w *Watcher) Settings() (settings.Flags, bool) {
	w.setMu.Lock()
	defer w.setMu.Unlock()
	return w.store.Flags(), w.loaded
}

func (w *Watcher) settingsDB() *sql.DB {
	w.setMu.Lock()
	defer w.setMu.Unlock()
	return w.db
}

// AddPage observes a page added at runtime and, when a settings database
// is configured, saves it so the next Start observes it again.
func (w *Watcher) AddPage(ctx context.Context, pc config.PageConfig) (config.PageConfig, error) {
	pc = normalizePage(pc)
	if err := w.ObservePage(ctx, pc); err != nil {
		return pc, err
	}
	if db := w.settingsDB(); db != nil {
		if err := config.SavePage(ctx, db, pc); err != nil {
			return pc, err
		}
	}
	return pc, nil
}

func normalizePage(pc config.PageConfig) config.PageConfig {
	if pc.ID == "" {
		pc.ID = idgen.New()
	}
	if pc.StealthLevel == "" {
		pc.StealthLevel = "auto"
	}
	return pc
}

// ObservePage starts observing a single page. An empty ID gets a generated
// one.
func (w *Watcher) ObservePage(ctx context.Context, pc config.PageConfig) error {
	pc = normalizePage(pc)
	if pc.URL == "" {
		return errors.New("blurwatch: page url is required")
	}

	w.mu.Lock()
	started := w.ctx != nil
	_, exists := w.pages[pc.ID]
	w.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrPageExists, pc.ID)
	}

	level, res := w.resolveStealthLevel(ctx, pc)
	p, err := w.openPage(ctx, pc, level, res)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if _, exists := w.pages[pc.ID]; exists {
		w.mu.Unlock()
		p.close()
		return fmt.Errorf("%w: %s", ErrPageExists, pc.ID)
	}
	w.pages[pc.ID] = p
	w.mu.Unlock()

	w.logger.Info("blurwatch: observing page",
		"url", pc.URL, "id", pc.ID, "stealth", level)
	return nil
}

// StopPage stops observing a page.
func (w *Watcher) StopPage(id string) error {
	w.mu.Lock()
	p, ok := w.pages[id]
	delete(w.pages, id)
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	p.close()
	w.logger.Info("blurwatch: stopped page", "id", id)
	return nil
}

// resolveStealthLevel determines the stealth level for a page. On the
// auto path the HTTP fetch is returned so it is not repeated.
func (w *Watcher) resolveStealthLevel(ctx context.Context, pc config.PageConfig) (browser.StealthLevel, *fetcher.Result) {
	switch pc.StealthLevel {
	case "0":
		return browser.LevelHTTP, nil
	case "1":
		return browser.LevelHeadless, nil
	case "2":
		return browser.LevelHeadful, nil
	case "auto", "":
		result, err := w.fetch.Fetch(ctx, pc.URL, pc.ID)
		if err != nil {
			w.logger.Warn("blurwatch: auto-detect fetch failed, escalating to headless",
				"url", pc.URL, "error", err)
			return browser.LevelHeadless, nil
		}
		if result.Sufficient {
			return browser.LevelHTTP, result
		}
		w.logger.Info("blurwatch: media not visible via HTTP, escalating to headless",
			"url", pc.URL)
		return browser.LevelHeadless, nil
	default:
		return browser.LevelHeadless, nil
	}
}

// pageHost is what a page's controller and forwarder drive: the live tab
// or a fetched document.
type pageHost interface {
	dispatch.Source
	dispatch.Placeholder
	lifecycle.Player
	pipeline.Effects
}

func (w *Watcher) openPage(ctx context.Context, pc config.PageConfig, level browser.StealthLevel, res *fetcher.Result) (*page, error) {
	w.mu.Lock()
	root := w.ctx
	w.mu.Unlock()

	p := &page{cfg: pc, level: level, inbox: events.NewInbox()}

	var host pageHost
	if level == browser.LevelHTTP {
		if res == nil {
			var err error
			if res, err = w.fetch.Fetch(ctx, pc.URL, pc.ID); err != nil {
				return nil, err
			}
		}
		p.static = &fetcher.Static{}
		p.static.Load(res.Batch)
		host = p.static
	} else {
		if err := w.ensureBrowser(); err != nil {
			return nil, err
		}
		tab, err := browser.OpenTab(ctx, w.mgr, pc.URL, pc.ID, level)
		if err != nil {
			return nil, fmt.Errorf("blurwatch: open tab: %w", err)
		}
		p.tab = tab
		p.host = browser.NewHost(tab, browser.HostConfig{
			BlurRadius: w.cfg.Detection.BlurRadius,
			Logger:     w.logger,
		})
		host = p.host
	}

	fwd := pipeline.New(pipeline.Config{
		PageID:  pc.ID,
		PageURL: pc.URL,
		Outbox:  w.outbox,
		Effects: host,
		Logger:  w.logger,
	})

	pctx, cancel := context.WithCancel(root)
	p.cancel = cancel

	w.setMu.Lock()
	p.ctrl = w.newController(pc, host, fwd)
	p.ctrl.AttachObserversListener(w.bus, p.inbox)
	w.setMu.Unlock()

	go p.ctrl.Run(pctx)
	if err := p.ctrl.InitMutationObserver(ctx, fwd.Port()); err != nil {
		p.close()
		return nil, fmt.Errorf("blurwatch: init observer: %w", err)
	}
	return p, nil
}

// newController must be called with setMu held.
func (w *Watcher) newController(pc config.PageConfig, host pageHost, fwd *pipeline.Forwarder) *lifecycle.Controller {
	var loaded settings.Settings
	if w.loaded {
		loaded = w.store
	}
	return lifecycle.New(lifecycle.Config{
		PageID:      pc.ID,
		PageURL:     pc.URL,
		Source:      host,
		Placeholder: host,
		Images:      fwd,
		Videos:      fwd,
		Player:      host,
		Actions:     fwd,
		TooSmall:    qualify.MinSize(w.cfg.Detection.MinWidth, w.cfg.Detection.MinHeight),
		Settings:    loaded,
		Report:      func(r mutation.VideoReport) { w.outbox.Report(r) },
		Metrics:     w.metrics,
		Logger:      w.logger,
	})
}

func (w *Watcher) ensureBrowser() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.browserUp {
		return nil
	}
	if _, err := w.mgr.Start(w.ctx); err != nil {
		return fmt.Errorf("blurwatch: start browser: %w", err)
	}
	w.browserUp = true
	return nil
}

// detachBrowserPages closes every tab-backed page before Chrome restarts.
func (w *Watcher) detachBrowserPages() {
	w.mu.Lock()
	var closing []*page
	for id, p := range w.pages {
		if p.tab == nil {
			continue
		}
		closing = append(closing, p)
		w.recycled = append(w.recycled, p.cfg)
		delete(w.pages, id)
	}
	w.mu.Unlock()

	for _, p := range closing {
		p.close()
	}
}

// reattachBrowserPages reopens them on the new browser. Each page starts
// over on a fresh document: empty tracker and registry.
func (w *Watcher) reattachBrowserPages() {
	w.mu.Lock()
	ctx := w.ctx
	pages := w.recycled
	w.recycled = nil
	w.mu.Unlock()

	for _, pc := range pages {
		level := browser.LevelHeadless
		if pc.StealthLevel == "2" {
			level = browser.LevelHeadful
		}
		p, err := w.openPage(ctx, pc, level, nil)
		if err != nil {
			w.logger.Error("blurwatch: reconnect page failed", "url", pc.URL, "error", err)
			continue
		}
		w.mu.Lock()
		w.pages[pc.ID] = p
		w.mu.Unlock()
	}
}

func (w *Watcher) page(id string) (*page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	return p, nil
}

func (w *Watcher) snapshot() []*page {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*page, 0, len(w.pages))
	for _, p := range w.pages {
		out = append(out, p)
	}
	return out
}

// Command runs cmd on one page, or on every page when pageID is empty, and
// returns how many videos it touched.
func (w *Watcher) Command(ctx context.Context, pageID string, cmd mutation.Command) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}
	if pageID != "" {
		p, err := w.page(pageID)
		if err != nil {
			return 0, err
		}
		return p.ctrl.Command(ctx, cmd)
	}

	total := 0
	for _, p := range w.snapshot() {
		n, err := p.ctrl.Command(ctx, cmd)
		if errors.Is(err, lifecycle.ErrStopped) {
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Deliver posts cmd to the inbox of the page it names, or of every page.
// It does not wait for the command to run and returns the number of pages
// reached.
func (w *Watcher) Deliver(cmd mutation.Command) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}
	if cmd.PageID != "" {
		p, err := w.page(cmd.PageID)
		if err != nil {
			return 0, err
		}
		p.inbox.Deliver(cmd)
		return 1, nil
	}
	pages := w.snapshot()
	for _, p := range pages {
		p.inbox.Deliver(cmd)
	}
	return len(pages), nil
}

// UpdateStatus records a status written back by the classification
// pipeline for a node of a page.
func (w *Watcher) UpdateStatus(ctx context.Context, pageID string, node dom.NodeID, s status.Status) error {
	if !s.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	p, err := w.page(pageID)
	if err != nil {
		return err
	}
	return p.ctrl.SetStatus(ctx, node, s)
}

// Videos returns the video registry of a page.
func (w *Watcher) Videos(ctx context.Context, pageID string) (mutation.VideoReport, error) {
	p, err := w.page(pageID)
	if err != nil {
		return mutation.VideoReport{}, err
	}
	return p.ctrl.Videos(ctx)
}

// Pages lists the observed pages with their observer state.
func (w *Watcher) Pages(ctx context.Context) []PageInfo {
	pages := w.snapshot()
	out := make([]PageInfo, 0, len(pages))
	for _, p := range pages {
		info := PageInfo{ID: p.cfg.ID, URL: p.cfg.URL, Stealth: int(p.level)}
		if st, err := p.ctrl.State(ctx); err == nil {
			info.State = st.String()
		} else {
			info.State = "stopped"
		}
		out = append(out, info)
	}
	return out
}

// Metrics exposes the collectors, for the /metrics handler.
func (w *Watcher) Metrics() *metrics.Metrics { return w.metrics }

// Stop shuts down every page, drains the outbox and closes the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	pages := w.pages
	w.pages = make(map[string]*page)
	browserUp := w.browserUp
	w.browserUp = false
	w.mu.Unlock()

	for id, p := range pages {
		p.close()
		w.logger.Info("blurwatch: stopped page", "id", id)
	}

	if err := w.outbox.Close(); err != nil {
		w.logger.Warn("blurwatch: close sinks", "error", err)
	}
	if browserUp {
		w.mgr.Close()
	}
	if db := w.settingsDB(); db != nil {
		db.Close()
	}
}
