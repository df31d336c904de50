package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

func TestStdout_Envelope(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.SendProcess(context.Background(), mutation.ProcessRequest{ID: "r1", NodeID: "a", Kind: "image"}); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Type string                  `json:"type"`
		Data mutation.ProcessRequest `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeProcess || got.Data.NodeID != "a" {
		t.Errorf("got %+v", got)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		json.NewDecoder(r.Body).Decode(&env)
		if env.Type != TypeVideos {
			t.Errorf("type: got %q", env.Type)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.ReportVideos(context.Background(), mutation.VideoReport{PageID: "p"}); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls: got %d, want 3", n)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.SendProcess(context.Background(), mutation.ProcessRequest{}); err == nil {
		t.Fatal("expected error")
	}
}

type fakePub struct {
	subjects []string
	err      error
}

func (f *fakePub) Publish(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestNATS_Subjects(t *testing.T) {
	pub := &fakePub{}
	n := NewNATS(pub, "")
	ctx := context.Background()
	n.ReportVideos(ctx, mutation.VideoReport{PageID: "p1"})
	n.SendProcess(ctx, mutation.ProcessRequest{})

	want := []string{"blurwatch.videos.p1", "blurwatch.process"}
	if len(pub.subjects) != 2 || pub.subjects[0] != want[0] || pub.subjects[1] != want[1] {
		t.Errorf("subjects: got %v, want %v", pub.subjects, want)
	}
}

func TestRouter_FanOutFirstError(t *testing.T) {
	errBad := errors.New("bad")
	var got []string
	ok := NewCallback(nil, func(_ context.Context, req mutation.ProcessRequest) error {
		got = append(got, req.ID)
		return nil
	})
	bad := NewNATS(&fakePub{err: errBad}, "x")

	r := NewRouter(nil, bad, ok)
	err := r.SendProcess(context.Background(), mutation.ProcessRequest{ID: "r1"})
	if !errors.Is(err, errBad) {
		t.Errorf("error: got %v, want %v", err, errBad)
	}
	if len(got) != 1 || got[0] != "r1" {
		t.Errorf("healthy sink skipped: %v", got)
	}
}
