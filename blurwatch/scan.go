package blurwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/blurkit/blurwatch/internal/config"
	"github.com/hazyhaar/blurkit/blurwatch/internal/fetcher"
	"github.com/hazyhaar/blurkit/blurwatch/internal/pipeline"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/idgen"
)

// ScanResult summarises a one-shot HTTP scan.
type ScanResult struct {
	PageID     string               `json:"page_id"`
	URL        string               `json:"url"`
	StatusCode int                  `json:"status_code"`
	Media      int                  `json:"media"`
	Tracked    int                  `json:"tracked"`
	Videos     mutation.VideoReport `json:"videos"`
}

// Scan fetches pageURL once and runs the document through the same
// qualification as an observed page. Process requests and the video report
// go to the sinks; the watcher does not need to be started.
func (w *Watcher) Scan(ctx context.Context, pageURL string) (*ScanResult, error) {
	pageID := idgen.New()
	res, err := w.fetch.Fetch(ctx, pageURL, pageID)
	if err != nil {
		return nil, fmt.Errorf("blurwatch: scan: %w", err)
	}

	pc := config.PageConfig{ID: pageID, URL: pageURL, StealthLevel: "0"}
	static := &fetcher.Static{}
	fwd := pipeline.New(pipeline.Config{
		PageID:  pageID,
		PageURL: pageURL,
		Outbox:  w.outbox,
		Effects: static,
		Logger:  w.logger,
	})

	w.setMu.Lock()
	ctrl := w.newController(pc, static, fwd)
	w.setMu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-ctrl.Done()
	}()
	go ctrl.Run(sctx)

	if err := ctrl.InitMutationObserver(sctx, fwd.Port()); err != nil {
		return nil, err
	}
	static.Load(res.Batch)
	if err := ctrl.Flush(sctx); err != nil {
		return nil, err
	}
	videos, err := ctrl.Videos(sctx)
	if err != nil {
		return nil, err
	}

	return &ScanResult{
		PageID:     pageID,
		URL:        pageURL,
		StatusCode: res.StatusCode,
		Media:      res.Media,
		Tracked:    ctrl.Tracker().Len(),
		Videos:     videos,
	}, nil
}
