package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/dbopen"
	"github.com/hazyhaar/blurkit/watch"
)

// Schema of the settings database.
const Schema = `
CREATE TABLE IF NOT EXISTS detection_settings (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	detect        INTEGER NOT NULL DEFAULT 1,
	detect_images INTEGER NOT NULL DEFAULT 1,
	detect_videos INTEGER NOT NULL DEFAULT 1,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS watch_pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	stealth_level TEXT NOT NULL DEFAULT 'auto',
	status        TEXT NOT NULL DEFAULT 'active',
	updated_at    INTEGER NOT NULL
);
`

// OpenDB opens (creating if needed) the settings database at path.
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}

// LoadSettings reads the detection settings. found is false when none were
// ever saved.
func LoadSettings(ctx context.Context, db *sql.DB) (f settings.Flags, found bool, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT detect, detect_images, detect_videos FROM detection_settings WHERE id = 1`,
	).Scan(&f.Detect, &f.DetectImages, &f.DetectVideos)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Flags{}, false, nil
	}
	if err != nil {
		return settings.Flags{}, false, fmt.Errorf("config: load settings: %w", err)
	}
	return f, true, nil
}

// SaveSettings upserts the detection settings.
func SaveSettings(ctx context.Context, db *sql.DB, f settings.Flags) error {
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO detection_settings (id, detect, detect_images, detect_videos, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			detect = excluded.detect,
			detect_images = excluded.detect_images,
			detect_videos = excluded.detect_videos,
			updated_at = excluded.updated_at`,
		f.Detect, f.DetectImages, f.DetectVideos, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("config: save settings: %w", err)
	}
	return nil
}

// WatchSettings returns a Watcher firing when detection_settings changes,
// whichever connection wrote it.
func WatchSettings(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: 250 * time.Millisecond,
		Debounce: 100 * time.Millisecond,
		Detector: watch.MaxColumn("detection_settings", "updated_at"),
		Logger:   logger,
	})
}

// LoadPages returns the active rows of watch_pages.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, url, stealth_level FROM watch_pages WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		if err := rows.Scan(&p.ID, &p.URL, &p.StealthLevel); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SavePage upserts an active page.
func SavePage(ctx context.Context, db *sql.DB, p PageConfig) error {
	if p.StealthLevel == "" {
		p.StealthLevel = "auto"
	}
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO watch_pages (id, url, stealth_level, status, updated_at)
		VALUES (?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			stealth_level = excluded.stealth_level,
			status = 'active',
			updated_at = excluded.updated_at`,
		p.ID, p.URL, p.StealthLevel, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: save page: %w", err)
	}
	return nil
}
