package blurwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/blurkit/blurwatch/internal/sink"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Sink is the output interface for video reports and process requests.
type Sink = sink.Sink

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher = sink.Publisher

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
	if retries > 0 {
		opts = append(opts, sink.WithWebhookRetries(retries))
	}
	return sink.NewWebhook(url, opts...)
}

// NewNATSSink publishes to <prefix>.videos.<page> and <prefix>.process.
func NewNATSSink(pub Publisher, prefix string) Sink {
	return sink.NewNATS(pub, prefix)
}

// NewCallbackSink creates an in-process sink, for a classifier linked into
// the same binary. Either function may be nil.
func NewCallbackSink(
	onReport func(ctx context.Context, r mutation.VideoReport) error,
	onProcess func(ctx context.Context, req mutation.ProcessRequest) error,
) Sink {
	return sink.NewCallback(onReport, onProcess)
}

// SinksFromConfig builds the sinks cfg declares. pub may be nil when no
// nats sink is configured.
func SinksFromConfig(cfg *Config, pub Publisher, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(os.Stdout))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, sc.Retries, logger))
		case "nats":
			if pub == nil {
				return nil, fmt.Errorf("blurwatch: sinks[%d]: nats sink without a connection", i)
			}
			prefix := sc.SubjectPrefix
			if prefix == "" {
				prefix = cfg.NATS.Prefix
			}
			sinks = append(sinks, NewNATSSink(pub, prefix))
		default:
			return nil, fmt.Errorf("blurwatch: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return sinks, nil
}
