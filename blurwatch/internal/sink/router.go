package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Router fans out to every sink. A failing sink does not stop the others;
// the first error is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a Router over sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) ReportVideos(ctx context.Context, rep mutation.VideoReport) error {
	return r.each("report videos", func(s Sink) error { return s.ReportVideos(ctx, rep) })
}

func (r *Router) SendProcess(ctx context.Context, req mutation.ProcessRequest) error {
	return r.each("send process", func(s Sink) error { return s.SendProcess(ctx, req) })
}

func (r *Router) Close() error {
	return r.each("close", func(s Sink) error { return s.Close() })
}

func (r *Router) each(op string, fn func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			r.logger.Warn("sink: "+op+" failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
