package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/imagehub/internal/domain"
)

const imageSchemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	original_name TEXT NOT NULL,
	input_path TEXT NOT NULL,
	transform_path TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS images_owner_created_idx ON images (owner_id, created_at);
`

type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(ctx context.Context, dsn string) (*PostgresRecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRecordStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, imageSchemaSQL); err != nil {
		return fmt.Errorf("ensure images schema: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRecordStore) Create(ctx context.Context, record domain.ImageRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO images (id, owner_id, original_name, input_path, transform_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID,
		record.Owner,
		record.OriginalName,
		record.InputPath,
		record.TransformPath,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Get(ctx context.Context, id string) (domain.ImageRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, owner_id, original_name, input_path, transform_path, created_at, updated_at
		 FROM images
		 WHERE id = $1`,
		id,
	)

	var record domain.ImageRecord
	if err := row.Scan(
		&record.ID,
		&record.Owner,
		&record.OriginalName,
		&record.InputPath,
		&record.TransformPath,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.ImageRecord{}, false, nil
		}
		return domain.ImageRecord{}, false, fmt.Errorf("query image record: %w", err)
	}

	return record, true, nil
}

func (s *PostgresRecordStore) SetTransformPath(ctx context.Context, id, path string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE images
		 SET transform_path = $1, updated_at = $2
		 WHERE id = $3`,
		path,
		updatedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("update transform path: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transform path: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresRecordStore) ListByOwner(ctx context.Context, owner string, filter ListFilter, limit, offset int) ([]domain.ImageRecord, error) {
	query := `SELECT id, owner_id, original_name, input_path, transform_path, created_at, updated_at
	 FROM images
	 WHERE owner_id = $1`
	switch filter {
	case ListTransformed:
		query += ` AND transform_path <> ''`
	case ListUntransformed:
		query += ` AND transform_path = ''`
	}
	query += ` ORDER BY created_at, id LIMIT $2 OFFSET $3`

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list image records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ImageRecord, 0)
	for rows.Next() {
		var record domain.ImageRecord
		if err := rows.Scan(
			&record.ID,
			&record.Owner,
			&record.OriginalName,
			&record.InputPath,
			&record.TransformPath,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan image record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list image records: %w", err)
	}
	return records, nil
}

func (s *PostgresRecordStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete image record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return nil
}
