// Package pipeline hands qualified elements to the classification pipeline
// through the sinks, without ever blocking a page loop.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/internal/sink"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// ErrorCounter counts failed deliveries by envelope type.
type ErrorCounter interface {
	SinkError(typ string)
}

type job struct {
	report  *mutation.VideoReport
	process *mutation.ProcessRequest
}

// OutboxConfig tunes an Outbox.
type OutboxConfig struct {
	Workers   int           // default 4
	QueueSize int           // default 1024
	Timeout   time.Duration // per delivery, default 30s
	Errors    ErrorCounter
	Logger    *slog.Logger
}

// Outbox is a bounded queue in front of a Sink. Enqueueing never blocks:
// when the queue is full the item is dropped and logged.
type Outbox struct {
	sink sink.Sink
	cfg  OutboxConfig
	jobs chan job
	wg   sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.RWMutex
}

// NewOutbox starts the workers delivering to s.
func NewOutbox(s sink.Sink, cfg OutboxConfig) *Outbox {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	o := &Outbox{sink: s, cfg: cfg, jobs: make(chan job, cfg.QueueSize), closed: make(chan struct{})}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.work()
	}
	return o
}

// Report enqueues a video report.
func (o *Outbox) Report(r mutation.VideoReport) bool {
	return o.enqueue(job{report: &r})
}

// Process enqueues a process request.
func (o *Outbox) Process(req mutation.ProcessRequest) bool {
	return o.enqueue(job{process: &req})
}

func (o *Outbox) enqueue(j job) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	select {
	case <-o.closed:
		return false
	default:
	}
	select {
	case o.jobs <- j:
		return true
	default:
		o.cfg.Logger.Warn("pipeline: outbox full, dropping", "type", j.typ())
		o.countError(j.typ())
		return false
	}
}

// Close stops accepting work, drains the queue and closes the sink.
func (o *Outbox) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		close(o.closed)
		close(o.jobs)
		o.mu.Unlock()
	})
	o.wg.Wait()
	return o.sink.Close()
}

func (o *Outbox) work() {
	defer o.wg.Done()
	for j := range o.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		var err error
		if j.report != nil {
			err = o.sink.ReportVideos(ctx, *j.report)
		} else {
			err = o.sink.SendProcess(ctx, *j.process)
		}
		cancel()
		if err != nil {
			o.cfg.Logger.Warn("pipeline: delivery failed", "type", j.typ(), "error", err)
			o.countError(j.typ())
		}
	}
}

func (o *Outbox) countError(typ string) {
	if o.cfg.Errors != nil {
		o.cfg.Errors.SinkError(typ)
	}
}

func (j job) typ() string {
	if j.report != nil {
		return sink.TypeVideos
	}
	return sink.TypeProcess
}

// ErrOutboxUnavailable is returned when a request could not be queued.
var ErrOutboxUnavailable = errors.New("pipeline: outbox closed or full")
