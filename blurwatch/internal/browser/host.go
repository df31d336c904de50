package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/dispatch"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/idgen"
)

//go:embed observer.js
var observerJS string

const bindingName = "__blurwatch_binding"

const (
	blurJS = `(id, px) => {
		const n = document.querySelector('[data-bw-id="' + CSS.escape(id) + '"]');
		if (!n) return false;
		n.style.filter = 'blur(' + px + 'px)';
		return true;
	}`
	playbackJS = `(id) => {
		const n = document.querySelector('video[data-bw-id="' + CSS.escape(id) + '"]');
		if (!n) throw new Error('video not found: ' + id);
		return { paused: n.paused, current_time: n.currentTime };
	}`
	clearBlurJS = `(id) => {
		const n = document.querySelector('[data-bw-id="' + CSS.escape(id) + '"]');
		if (n) n.style.filter = '';
	}`
	disconnectJS = `(token) => { if (window.__blurwatch) window.__blurwatch.disconnect(token); }`
)

// HostConfig tunes a Host.
type HostConfig struct {
	// BlurRadius of the placeholder effect, in CSS pixels. Default: 10.
	BlurRadius int
	// EffectTimeout bounds each fire-and-forget page script. Default: 5s.
	EffectTimeout time.Duration
	Logger        *slog.Logger
}

// Host is the live environment of one tab. It delivers mutation batches
// from the injected observer and applies effects on page elements.
type Host struct {
	tab    *Tab
	cfg    HostConfig
	logger *slog.Logger

	mu        sync.Mutex
	next      uint64
	subs      map[uint64]func(mutation.Batch)
	listening bool
	stop      context.CancelFunc

	seq atomic.Uint64
}

// NewHost wraps tab.
func NewHost(tab *Tab, cfg HostConfig) *Host {
	if cfg.BlurRadius <= 0 {
		cfg.BlurRadius = 10
	}
	if cfg.EffectTimeout <= 0 {
		cfg.EffectTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Host{
		tab:    tab,
		cfg:    cfg,
		logger: cfg.Logger.With("page_id", tab.PageID),
		subs:   make(map[uint64]func(mutation.Batch)),
	}
}

type observeArgs struct {
	Token uint64 `json:"token"`
	mutation.ObserveOptions
}

type bindingPayload struct {
	Token   uint64          `json:"token"`
	Records json.RawMessage `json:"records"`
}

// Observe injects a MutationObserver configured with opts. Each observer
// callback becomes one batch handed to deliver.
func (h *Host) Observe(opts mutation.ObserveOptions, deliver func(mutation.Batch)) (dispatch.Subscription, error) {
	if err := h.listen(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.next++
	token := h.next
	h.subs[token] = deliver
	h.mu.Unlock()

	if _, err := h.tab.Page.Eval(observerJS, observeArgs{Token: token, ObserveOptions: opts}); err != nil {
		h.drop(token)
		return nil, fmt.Errorf("browser: inject observer: %w", err)
	}
	h.logger.Debug("browser: observer injected", "token", token)
	return &subscription{host: h, token: token}, nil
}

// listen adds the binding and starts the event listener once per host.
func (h *Host) listen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listening {
		return nil
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(h.tab.Page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	h.listening = true
	wait := h.tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			h.receive(e.Payload)
		}
	})
	go wait()
	return nil
}

func (h *Host) receive(payload string) {
	var p bindingPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		h.logger.Warn("browser: binding payload", "error", err)
		return
	}

	h.mu.Lock()
	deliver := h.subs[p.Token]
	h.mu.Unlock()
	if deliver == nil {
		// Callback queued in the page before its observer was disconnected.
		return
	}
	recs, err := mutation.UnmarshalRecords(p.Records)
	if err != nil {
		h.logger.Warn("browser: observer records", "token", p.Token, "error", err)
		return
	}

	deliver(mutation.Batch{
		ID:        idgen.New(),
		PageURL:   h.tab.PageURL,
		PageID:    h.tab.PageID,
		Seq:       h.seq.Add(1),
		Records:   recs,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Host) drop(token uint64) {
	h.mu.Lock()
	delete(h.subs, token)
	h.mu.Unlock()
}

// Close stops the binding listener. Subscriptions stop delivering.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
	}
	h.subs = make(map[uint64]func(mutation.Batch))
	h.listening = false
}

type subscription struct {
	host  *Host
	token uint64
}

// Disconnect stops delivery first, then detaches the page observer.
func (s *subscription) Disconnect() error {
	s.host.drop(s.token)
	ctx, cancel := context.WithTimeout(context.Background(), s.host.cfg.EffectTimeout)
	defer cancel()
	if _, err := s.host.tab.Page.Context(ctx).Eval(disconnectJS, s.token); err != nil {
		return fmt.Errorf("browser: disconnect observer: %w", err)
	}
	return nil
}

// ApplyBlurryStart blurs el until the pipeline decides. Runs in the
// background: the caller is the page loop.
func (h *Host) ApplyBlurryStart(el dom.Element) {
	h.effect("blur", blurJS, string(el.ID()), h.cfg.BlurRadius)
}

// Playback reads the live playback state of a video.
func (h *Host) Playback(ctx context.Context, el dom.Element) (dom.Playback, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.EffectTimeout)
	defer cancel()
	res, err := h.tab.Page.Context(ctx).Eval(playbackJS, string(el.ID()))
	if err != nil {
		return dom.Playback{}, fmt.Errorf("browser: playback %s: %w", el.ID(), err)
	}
	var pb dom.Playback
	if err := res.Value.Unmarshal(&pb); err != nil {
		return dom.Playback{}, fmt.Errorf("browser: playback %s: %w", el.ID(), err)
	}
	return pb, nil
}

// ClearBlur removes the placeholder effect from el.
func (h *Host) ClearBlur(el dom.Element) {
	h.effect("unblur", clearBlurJS, string(el.ID()))
}

func (h *Host) effect(name, js string, args ...any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EffectTimeout)
		defer cancel()
		if _, err := h.tab.Page.Context(ctx).Eval(js, args...); err != nil {
			h.logger.Debug("browser: effect failed", "effect", name, "error", err)
		}
	}()
}
