// Package sink delivers what blurwatch emits: video registry reports and
// process requests for the classification pipeline.
package sink

import (
	"context"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Sink is an output backend.
type Sink interface {
	ReportVideos(ctx context.Context, r mutation.VideoReport) error
	SendProcess(ctx context.Context, req mutation.ProcessRequest) error
	Close() error
}

// Envelope types, shared by every line/body-oriented sink.
const (
	TypeVideos  = "videos"
	TypeProcess = "process"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
