package sink

import (
	"context"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// ReportFunc receives video reports in-process.
type ReportFunc func(ctx context.Context, r mutation.VideoReport) error

// ProcessFunc receives process requests in-process.
type ProcessFunc func(ctx context.Context, req mutation.ProcessRequest) error

// Callback hands values to Go functions, for a classifier embedded in the
// same binary. Either function may be nil.
type Callback struct {
	onReport  ReportFunc
	onProcess ProcessFunc
}

// NewCallback creates a Callback sink.
func NewCallback(onReport ReportFunc, onProcess ProcessFunc) *Callback {
	return &Callback{onReport: onReport, onProcess: onProcess}
}

func (c *Callback) ReportVideos(ctx context.Context, r mutation.VideoReport) error {
	if c.onReport == nil {
		return nil
	}
	return c.onReport(ctx, r)
}

func (c *Callback) SendProcess(ctx context.Context, req mutation.ProcessRequest) error {
	if c.onProcess == nil {
		return nil
	}
	return c.onProcess(ctx, req)
}

func (c *Callback) Close() error { return nil }
