package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Stdout writes one JSON envelope per line.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout writes to w, os.Stdout when nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) ReportVideos(_ context.Context, r mutation.VideoReport) error {
	return s.write(TypeVideos, r)
}

func (s *Stdout) SendProcess(_ context.Context, req mutation.ProcessRequest) error {
	return s.write(TypeProcess, req)
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: typ, Data: data})
}
