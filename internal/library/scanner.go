package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/db"
)

// ScanSummary describes one completed rescan.
type ScanSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Full       bool      `json:"full"`
	FilesSeen  int       `json:"files_seen"`
	Indexed    int       `json:"indexed"`
	Unchanged  int       `json:"unchanged"`
	Removed    int       `json:"removed"`
	Failed     int       `json:"failed"`
}

// Duration returns how long the scan took.
func (s ScanSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Scan phases reported by Progress.
const (
	PhaseScanning   = "scanning"
	PhaseProcessing = "processing"
	PhaseCleaning   = "cleaning"
	PhaseDone       = "done"
)

// ScanProgress is the state of the running or last rescan.
type ScanProgress struct {
	Phase     string `json:"phase"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

type progressTracker struct {
	mu sync.Mutex
	p  ScanProgress
}

func (t *progressTracker) set(phase string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = ScanProgress{Phase: phase, Total: total}
}

func (t *progressTracker) advance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Processed++
}

func (t *progressTracker) enter(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Phase = phase
}

func (t *progressTracker) get() ScanProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}

// Scanning reports whether a rescan is running.
func (l *Library) Scanning() bool {
	return l.scanning.Load()
}

// Progress returns the progress of the running rescan, or of the last one
// when none is running. The zero value means no rescan ran in this process.
func (l *Library) Progress() ScanProgress {
	return l.progress.get()
}

// Rescan walks the library root and re-reads the tags of new files and of
// files whose modification time changed since they were indexed. Rows of
// files that disappeared are dropped.
func (l *Library) Rescan(ctx context.Context) (ScanSummary, error) {
	return l.rescan(ctx, false)
}

// FullRescan re-reads every file regardless of modification times. Use it to
// pick up tag edits made without touching the file's mtime.
func (l *Library) FullRescan(ctx context.Context) (ScanSummary, error) {
	return l.rescan(ctx, true)
}

// rescan applies its changes in a single transaction so readers never see a
// partial view. Only one rescan runs at a time; a second call returns
// ErrScanInProgress. Edits committed while the scan runs win over the values
// the scan read.
func (l *Library) rescan(ctx context.Context, force bool) (ScanSummary, error) {
	if !l.scanning.CompareAndSwap(false, true) {
		return ScanSummary{}, ErrScanInProgress
	}
	defer l.scanning.Store(false)

	started := time.Now()
	summary := ScanSummary{StartedAt: started, Full: force}
	l.logger.Info("library rescan started", zap.String("root", l.root), zap.Bool("full", force))

	l.progress.set(PhaseScanning, 0)
	files := discoverFiles(l.root)
	summary.FilesSeen = len(files)

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.path] = true
	}

	toRead := files
	if !force {
		known, err := l.indexedMtimes(ctx)
		if err != nil {
			l.progress.enter(PhaseDone)
			return ScanSummary{}, fmt.Errorf("load indexed tracks: %w", err)
		}
		toRead = changedFiles(files, known)
		summary.Unchanged = len(files) - len(toRead)
	}

	l.progress.set(PhaseProcessing, len(toRead))
	results := l.readFiles(toRead)

	l.progress.enter(PhaseCleaning)
	err := db.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		now := time.Now().UnixNano()
		for _, r := range results {
			if r.err != nil {
				summary.Failed++
				l.logger.Warn("index track", zap.Error(r.err))
				continue
			}
			// Renamed away by a concurrent edit after it was read.
			if _, err := os.Stat(r.track.Path); err != nil {
				continue
			}
			if err := upsertTrack(ctx, tx, r.track, now, started.UnixNano()); err != nil {
				return err
			}
			summary.Indexed++
		}

		removed, err := removeUnseen(ctx, tx, seen, started.UnixNano())
		if err != nil {
			return err
		}
		summary.Removed = removed

		summary.FinishedAt = time.Now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO library_scans (id, started_at, finished_at, files_seen, indexed, removed, failed, full, unchanged)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				started_at = excluded.started_at,
				finished_at = excluded.finished_at,
				files_seen = excluded.files_seen,
				indexed = excluded.indexed,
				removed = excluded.removed,
				failed = excluded.failed,
				full = excluded.full,
				unchanged = excluded.unchanged
		`, summary.StartedAt.UnixNano(), summary.FinishedAt.UnixNano(),
			summary.FilesSeen, summary.Indexed, summary.Removed, summary.Failed,
			summary.Full, summary.Unchanged)
		return err
	})
	l.progress.enter(PhaseDone)
	if err != nil {
		l.logger.Error("library rescan failed", zap.Error(err))
		return ScanSummary{}, err
	}

	l.logger.Info("library rescan finished",
		zap.Bool("full", force),
		zap.Int("files", summary.FilesSeen),
		zap.Int("indexed", summary.Indexed),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("removed", summary.Removed),
		zap.Int("failed", summary.Failed),
		zap.Duration("took", summary.Duration()),
	)
	return summary, nil
}

// indexedMtimes returns the stored modification time of every indexed path.
func (l *Library) indexedMtimes(ctx context.Context) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT path, mtime FROM library_tracks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]int64)
	for rows.Next() {
		var path string
		var mtime int64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, err
		}
		known[path] = mtime
	}
	return known, rows.Err()
}

// changedFiles keeps the files that are not indexed yet or whose
// modification time differs from the indexed one.
func changedFiles(files []fileInfo, known map[string]int64) []fileInfo {
	out := make([]fileInfo, 0, len(files))
	for _, f := range files {
		if mtime, ok := known[f.path]; ok && mtime == f.mtime {
			continue
		}
		out = append(out, f)
	}
	return out
}

// removeUnseen deletes rows for files the walk did not find, except rows
// written after notAfter.
func removeUnseen(ctx context.Context, tx *sql.Tx, seen map[string]bool, notAfter int64) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path FROM library_tracks WHERE updated_at <= ?`, notAfter)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, err
		}
		if !seen[path] {
			stale = append(stale, path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, path := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM library_tracks WHERE path = ?`, path); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// LastScan returns the summary of the most recent rescan.
// ok is false when the library was never scanned.
func (l *Library) LastScan(ctx context.Context) (summary ScanSummary, ok bool, err error) {
	var started, finished int64
	err = l.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, files_seen, indexed, removed, failed, full, unchanged
		FROM library_scans WHERE id = 1
	`).Scan(&started, &finished, &summary.FilesSeen, &summary.Indexed, &summary.Removed, &summary.Failed,
		&summary.Full, &summary.Unchanged)
	if errors.Is(err, sql.ErrNoRows) {
		return ScanSummary{}, false, nil
	}
	if err != nil {
		return ScanSummary{}, false, err
	}
	summary.StartedAt = time.Unix(0, started)
	summary.FinishedAt = time.Unix(0, finished)
	return summary, true, nil
}
