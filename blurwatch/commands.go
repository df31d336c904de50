package blurwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/hazyhaar/blurkit/blurwatch/internal/natsconn"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// ConnectNATS connects with the reconnect and auth settings of cfg.NATS.
// It returns nil, nil when no URL is configured.
func ConnectNATS(ctx context.Context, cfg *Config, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	return natsconn.Connect(ctx, cfg.NATS, logger)
}

// CloseNATS drains nc. A nil connection is ignored.
func CloseNATS(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}
	return natsconn.Close(nc)
}

// SubscribeCommands delivers every command published on subject to the
// page inboxes. Requests with a reply subject get {"delivered": n} or
// {"error": "..."} back.
func (w *Watcher) SubscribeCommands(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		reply := w.handleCommandMsg(msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			w.logger.Warn("blurwatch: command reply", "subject", msg.Reply, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("blurwatch: subscribe %s: %w", subject, err)
	}
	w.logger.Info("blurwatch: listening for commands", "subject", subject)
	return sub, nil
}

func (w *Watcher) handleCommandMsg(data []byte) []byte {
	var resp struct {
		Delivered int    `json:"delivered"`
		Error     string `json:"error,omitempty"`
	}

	cmd, err := mutation.ParseCommand(data)
	if err == nil {
		resp.Delivered, err = w.Deliver(cmd)
	}
	if err != nil {
		w.logger.Warn("blurwatch: command rejected", "error", err)
		resp.Error = err.Error()
	}

	out, _ := json.Marshal(resp)
	return out
}
