package sink

import (
	"context"
	"fmt"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Publisher is the part of *nats.Conn the NATS sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes bare JSON values on <prefix>.videos and <prefix>.process.
// The page ID is appended to the videos subject so consumers can subscribe
// per page: <prefix>.videos.<page_id>.
type NATS struct {
	pub    Publisher
	prefix string
}

// NewNATS publishes through pub. An empty prefix uses "blurwatch".
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = "blurwatch"
	}
	return &NATS{pub: pub, prefix: prefix}
}

func (n *NATS) ReportVideos(_ context.Context, r mutation.VideoReport) error {
	data, err := mutation.MarshalVideoReport(&r)
	if err != nil {
		return err
	}
	subject := n.prefix + "." + TypeVideos
	if r.PageID != "" {
		subject += "." + r.PageID
	}
	return n.publish(subject, data)
}

func (n *NATS) SendProcess(_ context.Context, req mutation.ProcessRequest) error {
	data, err := mutation.MarshalProcessRequest(&req)
	if err != nil {
		return err
	}
	return n.publish(n.prefix+"."+TypeProcess, data)
}

// Close leaves the connection to its owner.
func (n *NATS) Close() error { return nil }

func (n *NATS) publish(subject string, data []byte) error {
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats sink: publish %s: %w", subject, err)
	}
	return nil
}
