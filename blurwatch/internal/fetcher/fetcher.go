// Package fetcher is the browserless path: one HTTP GET, the document
// parsed and stamped, and a single structural batch adding it whole. Static
// pages go through the same qualification as live ones.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/idgen"
)

// Result of a fetch.
type Result struct {
	Batch      mutation.Batch
	StatusCode int
	// Media counts the images and videos found in the static document.
	Media int
	// Sufficient is false when the document looks like a script-rendered
	// shell and a browser is needed to see its media.
	Sufficient bool
}

// Fetcher performs the GETs.
type Fetcher struct {
	client  *http.Client
	ua      string
	maxBody int64
	ids     idgen.Generator
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithClient(c *http.Client) Option   { return func(f *Fetcher) { f.client = c } }
func WithUserAgent(ua string) Option     { return func(f *Fetcher) { f.ua = ua } }
func WithLogger(l *slog.Logger) Option   { return func(f *Fetcher) { f.logger = l } }
func WithIDs(gen idgen.Generator) Option { return func(f *Fetcher) { f.ids = gen } }

// WithMaxBody caps the bytes read from a response. Default: 10MB.
func WithMaxBody(n int64) Option { return func(f *Fetcher) { f.maxBody = n } }

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		ua:      "Mozilla/5.0 (compatible; blurwatch/1.0)",
		maxBody: 10 << 20,
		ids:     idgen.Node,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and builds the batch.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, pageID string) (*Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetcher: %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}

	frag, err := dom.ParseDocument(bytes.NewReader(body), f.ids)
	if err != nil {
		return nil, err
	}
	resolveSources(frag.Roots[0], base)
	media := len(frag.Media())

	var out strings.Builder
	if err := html.Render(&out, frag.Roots[0]); err != nil {
		return nil, fmt.Errorf("fetcher: render: %w", err)
	}

	res := &Result{
		Batch: mutation.Batch{
			ID:      idgen.New(),
			PageURL: pageURL,
			PageID:  pageID,
			Seq:     1,
			Records: []mutation.Record{{
				Op:   mutation.OpChildList,
				HTML: out.String(),
			}},
			Timestamp: time.Now().UnixMilli(),
		},
		StatusCode: resp.StatusCode,
		Media:      media,
		Sufficient: IsSufficient(body, media),
	}
	f.logger.Debug("fetcher: fetched",
		"url", pageURL, "status", resp.StatusCode, "size", len(body),
		"media", media, "sufficient", res.Sufficient)
	return res, nil
}

// resolveSources makes src attributes of media and <source> absolute.
func resolveSources(n *html.Node, base *url.URL) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "img", "video", "source":
			for i, a := range n.Attr {
				if a.Key != "src" || a.Val == "" {
					continue
				}
				if u, err := base.Parse(strings.TrimSpace(a.Val)); err == nil {
					n.Attr[i].Val = u.String()
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		resolveSources(c, base)
	}
}
