package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresPageStore keeps pages in the stable_pages table and the page count
// in stable_image. Both change in the same transaction.
type PostgresPageStore struct {
	db    *sql.DB
	image string
}

// NewPostgresPageStore stores pages for the named image, so several images
// can share one database.
func NewPostgresPageStore(db *sql.DB, image string) *PostgresPageStore {
	return &PostgresPageStore{db: db, image: image}
}

const pageSchema = `
CREATE TABLE IF NOT EXISTS stable_image (
	image TEXT PRIMARY KEY,
	pages BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS stable_pages (
	image   TEXT   NOT NULL REFERENCES stable_image (image),
	page_no BIGINT NOT NULL,
	data    BYTEA  NOT NULL,
	PRIMARY KEY (image, page_no)
);`

// Migrate creates the page tables if they do not exist.
func (s *PostgresPageStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pageSchema); err != nil {
		return fmt.Errorf("migrate page tables: %w", err)
	}
	return nil
}

func (s *PostgresPageStore) LoadPages(ctx context.Context) (map[uint64][]byte, uint64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT pages FROM stable_image WHERE image = $1`, s.image).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return map[uint64][]byte{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load image size: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT page_no, data FROM stable_pages WHERE image = $1`, s.image)
	if err != nil {
		return nil, 0, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	pages := make(map[uint64][]byte)
	for rows.Next() {
		var (
			n    int64
			data []byte
		)
		if err := rows.Scan(&n, &data); err != nil {
			return nil, 0, fmt.Errorf("scan page: %w", err)
		}
		pages[uint64(n)] = data
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, uint64(size), nil
}

func (s *PostgresPageStore) StorePages(ctx context.Context, pages map[uint64][]byte, size uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin page tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stable_image (image, pages) VALUES ($1, $2)
		ON CONFLICT (image) DO UPDATE SET pages = EXCLUDED.pages
	`, s.image, int64(size))
	if err != nil {
		return fmt.Errorf("store image size: %w", err)
	}
	for n, data := range pages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stable_pages (image, page_no, data) VALUES ($1, $2, $3)
			ON CONFLICT (image, page_no) DO UPDATE SET data = EXCLUDED.data
		`, s.image, int64(n), data)
		if err != nil {
			return fmt.Errorf("store page %d: %w", n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pages: %w", err)
	}
	return nil
}
