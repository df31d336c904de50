package blurwatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

const gallery = `<!doctype html><html><body>
<img src="/big.png" width="320" height="200">
<img src="/icon.png" width="16" height="16">
<video width="640" height="360"><source src="/clip.mp4" type="video/mp4"></video>
</body></html>`

type collector struct {
	mu      sync.Mutex
	process []mutation.ProcessRequest
	reports []mutation.VideoReport
}

func (c *collector) sink() Sink {
	return NewCallbackSink(
		func(_ context.Context, r mutation.VideoReport) error {
			c.mu.Lock()
			c.reports = append(c.reports, r)
			c.mu.Unlock()
			return nil
		},
		func(_ context.Context, req mutation.ProcessRequest) error {
			c.mu.Lock()
			c.process = append(c.process, req)
			c.mu.Unlock()
			return nil
		},
	)
}

func (c *collector) counts() (process, reports int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.process), len(c.reports)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func galleryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(gallery))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startWatcher(t *testing.T, cfg *Config) (*Watcher, *collector) {
	t.Helper()
	c := &collector{}
	w := New(cfg, nil, c.sink())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return w, c
}

func staticConfig(url string) *Config {
	cfg := DefaultConfig()
	cfg.Pages = []PageConfig{{ID: "gallery", URL: url, StealthLevel: "0"}}
	return cfg
}

func pageState(t *testing.T, w *Watcher, id string) string {
	t.Helper()
	for _, p := range w.Pages(context.Background()) {
		if p.ID == id {
			return p.State
		}
	}
	t.Fatalf("page %q not listed", id)
	return ""
}

func TestStaticPage_ForwardsQualifyingMedia(t *testing.T) {
	srv := galleryServer(t)
	w, c := startWatcher(t, staticConfig(srv.URL))

	waitFor(t, "process requests", func() bool { p, _ := c.counts(); return p == 2 })
	waitFor(t, "video report", func() bool { _, r := c.counts(); return r == 1 })

	c.mu.Lock()
	kinds := map[string]int{}
	for _, req := range c.process {
		kinds[req.Kind]++
		if req.PageID != "gallery" {
			t.Errorf("page id: got %q", req.PageID)
		}
	}
	c.mu.Unlock()
	if kinds["image"] != 1 || kinds["video"] != 1 {
		t.Errorf("kinds: got %v, want one image and one video", kinds)
	}

	rep, err := w.Videos(context.Background(), "gallery")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Videos) != 1 || rep.Videos[0].Status != status.Processing || rep.Videos[0].Sources != 1 {
		t.Errorf("videos: got %+v", rep.Videos)
	}
	if got := pageState(t, w, "gallery"); got != "observing" {
		t.Errorf("state: got %q, want observing", got)
	}
}

func TestToggle_BeforeSettingsLoadsThem(t *testing.T) {
	srv := galleryServer(t)
	w, _ := startWatcher(t, staticConfig(srv.URL))

	if _, loaded := w.Settings(); loaded {
		t.Fatal("settings loaded before any source")
	}
	f, err := w.Toggle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.Detect {
		t.Fatal("toggle left detection on")
	}
	if _, loaded := w.Settings(); !loaded {
		t.Error("toggle did not load settings")
	}
	waitFor(t, "disconnect", func() bool { return pageState(t, w, "gallery") == "disconnected" })

	if _, err := w.Toggle(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reconnect", func() bool { return pageState(t, w, "gallery") == "observing" })
}

func TestInitialSettings_DetectOff(t *testing.T) {
	srv := galleryServer(t)
	cfg := staticConfig(srv.URL)
	off := settings.Flags{}
	cfg.Detection.Initial = &off
	w, c := startWatcher(t, cfg)

	if got := pageState(t, w, "gallery"); got != "disconnected" {
		t.Fatalf("state: got %q, want disconnected", got)
	}

	if err := w.LoadSettings(context.Background(), settings.AllOn); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "process after settings load", func() bool { p, _ := c.counts(); return p == 2 })
}

func TestSettingsDB_PersistsToggleAndPages(t *testing.T) {
	srv := galleryServer(t)
	dbPath := filepath.Join(t.TempDir(), "blurwatch.db")

	cfg := DefaultConfig()
	cfg.SettingsDB = dbPath
	w := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddPage(ctx, PageConfig{ID: "saved", URL: srv.URL, StealthLevel: "0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Toggle(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	w.Stop()

	cfg2 := DefaultConfig()
	cfg2.SettingsDB = dbPath
	w2, _ := startWatcher(t, cfg2)
	f, loaded := w2.Settings()
	if !loaded || f.Detect {
		t.Errorf("settings: got %+v loaded=%v, want detect off", f, loaded)
	}
	if got := pageState(t, w2, "saved"); got != "disconnected" {
		t.Errorf("saved page state: got %q, want disconnected", got)
	}
}

func TestObservePage_Errors(t *testing.T) {
	srv := galleryServer(t)

	w := New(DefaultConfig(), nil)
	defer w.Stop()
	if err := w.ObservePage(context.Background(), PageConfig{URL: srv.URL}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("before start: got %v", err)
	}

	w2, _ := startWatcher(t, staticConfig(srv.URL))
	err := w2.ObservePage(context.Background(), PageConfig{ID: "gallery", URL: srv.URL, StealthLevel: "0"})
	if !errors.Is(err, ErrPageExists) {
		t.Errorf("duplicate: got %v", err)
	}
	if err := w2.StopPage("nope"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("stop unknown: got %v", err)
	}
	if err := w2.StopPage("gallery"); err != nil {
		t.Fatal(err)
	}
	if len(w2.Pages(context.Background())) != 0 {
		t.Error("page still listed after stop")
	}
}

func TestCommand_StaticVideosNeverPlay(t *testing.T) {
	srv := galleryServer(t)
	w, c := startWatcher(t, staticConfig(srv.URL))
	waitFor(t, "video report", func() bool { _, r := c.counts(); return r == 1 })

	n, err := w.Command(context.Background(), "", mutation.Command{Type: mutation.DisableDetection})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("matched: got %d, want 0", n)
	}
	if _, err := w.Command(context.Background(), "", mutation.Command{Type: "pause"}); !errors.Is(err, mutation.ErrUnknownCommand) {
		t.Errorf("unknown command: got %v", err)
	}
	if _, err := w.Command(context.Background(), "nope", mutation.Command{Type: mutation.EnableDetection}); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("unknown page: got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	srv := galleryServer(t)
	w, c := startWatcher(t, staticConfig(srv.URL))
	waitFor(t, "video report", func() bool { _, r := c.counts(); return r == 1 })

	rep, err := w.Videos(context.Background(), "gallery")
	if err != nil {
		t.Fatal(err)
	}
	node := rep.Videos[0].NodeID

	if err := w.UpdateStatus(context.Background(), "gallery", node, "exploded"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("unknown status: got %v", err)
	}
	if err := w.UpdateStatus(context.Background(), "gallery", node, status.Processed); err != nil {
		t.Fatal(err)
	}
	rep, _ = w.Videos(context.Background(), "gallery")
	if rep.Videos[0].Status != status.Processed {
		t.Errorf("status: got %q, want processed", rep.Videos[0].Status)
	}
}

func TestHandleCommandMsg(t *testing.T) {
	srv := galleryServer(t)
	w, _ := startWatcher(t, staticConfig(srv.URL))

	var resp struct {
		Delivered int    `json:"delivered"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(w.handleCommandMsg([]byte(`{"type":"disable-detection"}`)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Delivered != 1 || resp.Error != "" {
		t.Errorf("broadcast: got %+v", resp)
	}

	resp.Delivered, resp.Error = 0, ""
	json.Unmarshal(w.handleCommandMsg([]byte(`{"type":"disable-detection","page_id":"nope"}`)), &resp)
	if !strings.Contains(resp.Error, "unknown page") {
		t.Errorf("unknown page: got %+v", resp)
	}

	resp.Delivered, resp.Error = 0, ""
	json.Unmarshal(w.handleCommandMsg([]byte(`not json`)), &resp)
	if resp.Error == "" {
		t.Error("garbage accepted")
	}
}

func TestScan(t *testing.T) {
	srv := galleryServer(t)
	c := &collector{}
	w := New(DefaultConfig(), nil, c.sink())
	defer w.Stop()

	res, err := w.Scan(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Media != 3 {
		t.Errorf("media: got %d, want 3", res.Media)
	}
	if res.Tracked != 2 {
		t.Errorf("tracked: got %d, want 2", res.Tracked)
	}
	if len(res.Videos.Videos) != 1 {
		t.Errorf("videos: got %+v", res.Videos)
	}
	waitFor(t, "scan process requests", func() bool { p, _ := c.counts(); return p == 2 })
}
