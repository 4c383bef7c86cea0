package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/shelf/internal/db"
)

const itemColumns = `id, source_path, video_title, channel, extension,
	inferred_title, inferred_artist, current_title, current_artist, genre,
	artwork_present, status, error_message, raw_response, created_at, updated_at`

// Store persists pending items. source_path is unique, so the store is the
// single source of truth for discovery deduplication.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore returns a store over an opened database.
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

// Create inserts a new item in the discovered state and returns it with its
// id and timestamps set. It returns ErrExists when the path is already tracked.
func (s *Store) Create(ctx context.Context, it Item) (Item, error) {
	it.ID = uuid.NewString()
	it.Status = StatusDiscovered
	now := s.now()
	it.CreatedAt = now
	it.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_path) DO NOTHING
	`, itemArgs(it)...)
	if err != nil {
		return Item{}, fmt.Errorf("insert pending item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Item{}, err
	}
	if n == 0 {
		return Item{}, fmt.Errorf("%w: %s", ErrExists, it.SourcePath)
	}
	return it, nil
}

// Get returns the item with the given id.
func (s *Store) Get(ctx context.Context, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM pending_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, err
}

// List returns items, newest first. With statuses set, only those are returned.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM pending_items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Paths returns source_path -> id for every tracked item.
func (s *Store) Paths(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_path, id FROM pending_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, err
		}
		paths[path] = id
	}
	return paths, rows.Err()
}

// Counts returns the number of items per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pending_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[Status(st)] = n
	}
	return counts, rows.Err()
}

// Modify loads the item, applies fn and saves the result in one transaction.
// Immutable fields (id, path, parsed name, inferred values) are never written.
func (s *Store) Modify(ctx context.Context, id string, fn func(it *Item) error) (Item, error) {
	var out Item
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM pending_items WHERE id = ?`, id)
		it, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		if err := fn(&it); err != nil {
			return err
		}
		it.UpdatedAt = s.now()

		_, err = tx.ExecContext(ctx, `
			UPDATE pending_items SET
				current_title = ?, current_artist = ?, genre = ?,
				artwork_present = ?, status = ?, error_message = ?, raw_response = ?,
				updated_at = ?
			WHERE id = ?
		`,
			db.NullString(it.CurrentTitle), db.NullString(it.CurrentArtist), db.NullString(it.Genre),
			db.BoolInt(it.ArtworkPresent), string(it.Status), db.NullString(it.ErrorMessage),
			db.NullString(it.RawResponse), it.UpdatedAt.UnixNano(), id,
		)
		if err != nil {
			return err
		}
		out = it
		return nil
	})
	return out, err
}

// SetInferred records the result of discovery: inferred values (set once),
// the merged working fields and the resulting status.
func (s *Store) SetInferred(ctx context.Context, id string, it Item) (Item, error) {
	var out Item
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM pending_items WHERE id = ?`, id)
		cur, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, it.Status) || cur.Status != StatusDiscovered {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, it.Status)
		}

		cur.InferredTitle = it.InferredTitle
		cur.InferredArtist = it.InferredArtist
		cur.CurrentTitle = it.CurrentTitle
		cur.CurrentArtist = it.CurrentArtist
		cur.ArtworkPresent = it.ArtworkPresent
		cur.Status = it.Status
		cur.ErrorMessage = it.ErrorMessage
		cur.RawResponse = it.RawResponse
		cur.UpdatedAt = s.now()

		_, err = tx.ExecContext(ctx, `
			UPDATE pending_items SET
				inferred_title = ?, inferred_artist = ?,
				current_title = ?, current_artist = ?,
				artwork_present = ?, status = ?, error_message = ?, raw_response = ?,
				updated_at = ?
			WHERE id = ?
		`,
			db.NullString(cur.InferredTitle), db.NullString(cur.InferredArtist),
			db.NullString(cur.CurrentTitle), db.NullString(cur.CurrentArtist),
			db.BoolInt(cur.ArtworkPresent), string(cur.Status), db.NullString(cur.ErrorMessage),
			db.NullString(cur.RawResponse), cur.UpdatedAt.UnixNano(), id,
		)
		if err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// Delete removes the item. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (Item, error) {
	var it Item
	var inferredTitle, inferredArtist, title, artist, genre, errMsg, raw sql.NullString
	var artwork int
	var status string
	var created, updated int64

	err := row.Scan(&it.ID, &it.SourcePath, &it.VideoTitle, &it.Channel, &it.Extension,
		&inferredTitle, &inferredArtist, &title, &artist, &genre,
		&artwork, &status, &errMsg, &raw, &created, &updated)
	if err != nil {
		return Item{}, err
	}
	it.InferredTitle = db.NullStringValue(inferredTitle)
	it.InferredArtist = db.NullStringValue(inferredArtist)
	it.CurrentTitle = db.NullStringValue(title)
	it.CurrentArtist = db.NullStringValue(artist)
	it.Genre = db.NullStringValue(genre)
	it.ArtworkPresent = artwork != 0
	it.Status = Status(status)
	it.ErrorMessage = db.NullStringValue(errMsg)
	it.RawResponse = db.NullStringValue(raw)
	it.CreatedAt = time.Unix(0, created)
	it.UpdatedAt = time.Unix(0, updated)
	return it, nil
}

func itemArgs(it Item) []any {
	return []any{
		it.ID, it.SourcePath, it.VideoTitle, it.Channel, it.Extension,
		db.NullString(it.InferredTitle), db.NullString(it.InferredArtist),
		db.NullString(it.CurrentTitle), db.NullString(it.CurrentArtist), db.NullString(it.Genre),
		db.BoolInt(it.ArtworkPresent), string(it.Status), db.NullString(it.ErrorMessage),
		db.NullString(it.RawResponse), it.CreatedAt.UnixNano(), it.UpdatedAt.UnixNano(),
	}
}
