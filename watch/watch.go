// Package watch polls a SQLite version token and runs a reload when it
// moves. blurwatch uses it to pick up detection settings written by other
// processes (the extension popup equivalent, an admin CLI) into the shared
// settings table.
//
//	w := watch.New(db, watch.Options{Detector: watch.MaxColumn("detection_settings", "updated_at")})
//	go w.OnChange(ctx, reload)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Different values between two calls mean
// something changed.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval between polls. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the reload fires.
	// Further changes restart it. 0 fires immediately.
	Debounce time.Duration
	// Detector defaults to DataVersion.
	Detector Detector
	Logger   *slog.Logger
}

// Watcher runs OnChange loops against one database.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// New creates a Watcher.
func New(db *sql.DB, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Detector == nil {
		opts.Detector = DataVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{db: db, opts: opts}
}

// Version returns the last version whose reload succeeded.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Errors returns the number of failed polls and reloads.
func (w *Watcher) Errors() int64 { return w.errors.Load() }

// OnChange polls until ctx is done. A failed reload keeps the old version,
// so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, reload func(context.Context) error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending, hasPending := int64(0), false

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check", "error", err)
				continue
			}
			if cur == w.version.Load() || (hasPending && cur == pending) {
				continue
			}
			pending, hasPending = cur, true
			if w.opts.Debounce <= 0 {
				w.fire(ctx, reload, pending)
				hasPending = false
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if hasPending {
				w.fire(ctx, reload, pending)
				hasPending = false
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, reload func(context.Context) error, v int64) {
	start := time.Now()
	if err := reload(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "error", err, "version", v)
		return
	}
	w.reloads.Add(1)
	w.version.Store(v)
	w.opts.Logger.Info("watch: reloaded", "version", v, "duration", time.Since(start))
}

// DataVersion reads PRAGMA data_version, which moves when another
// connection commits to the same file.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumn polls MAX(column) of table, for tables stamping updated_at.
func MaxColumn(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
