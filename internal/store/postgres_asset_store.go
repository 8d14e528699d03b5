package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/wardrobeflow/internal/domain"
	_ "github.com/lib/pq"
)

const assetSchemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	source_name TEXT NOT NULL DEFAULT '',
	source_hash TEXT NOT NULL,
	object_key TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (kind, source_hash)
);
`

const assetColumns = `id, kind, source_name, source_hash, object_key, url, mime_type, width, height, bytes, created_at`

type PostgresAssetStore struct {
	db *sql.DB
}

func NewPostgresAssetStore(ctx context.Context, dsn string) (*PostgresAssetStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresAssetStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresAssetStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, assetSchemaSQL); err != nil {
		return fmt.Errorf("ensure assets schema: %w", err)
	}
	return nil
}

func (s *PostgresAssetStore) Close() error {
	return s.db.Close()
}

func (s *PostgresAssetStore) Record(ctx context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO assets (`+assetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (kind, source_hash) DO UPDATE SET
		   id = EXCLUDED.id,
		   source_name = EXCLUDED.source_name,
		   object_key = EXCLUDED.object_key,
		   url = EXCLUDED.url,
		   mime_type = EXCLUDED.mime_type,
		   width = EXCLUDED.width,
		   height = EXCLUDED.height,
		   bytes = EXCLUDED.bytes,
		   created_at = EXCLUDED.created_at`,
		asset.ID,
		asset.Kind,
		asset.SourceName,
		asset.SourceHash,
		asset.ObjectKey,
		asset.URL,
		asset.MIMEType,
		asset.Width,
		asset.Height,
		asset.Bytes,
		asset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}

	return nil
}

func (s *PostgresAssetStore) FindBySource(ctx context.Context, kind, sourceHash string) (domain.Asset, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+assetColumns+`
		 FROM assets
		 WHERE kind = $1 AND source_hash = $2`,
		kind,
		sourceHash,
	)

	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Asset{}, false, nil
		}
		return domain.Asset{}, false, fmt.Errorf("query asset: %w", err)
	}
	return asset, true, nil
}

func (s *PostgresAssetStore) List(ctx context.Context, kind string) ([]domain.Asset, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+assetColumns+`
		 FROM assets
		 WHERE $1 = '' OR kind = $1
		 ORDER BY created_at DESC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return out, nil
}

func (s *PostgresAssetStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (domain.Asset, error) {
	var asset domain.Asset
	err := row.Scan(
		&asset.ID,
		&asset.Kind,
		&asset.SourceName,
		&asset.SourceHash,
		&asset.ObjectKey,
		&asset.URL,
		&asset.MIMEType,
		&asset.Width,
		&asset.Height,
		&asset.Bytes,
		&asset.CreatedAt,
	)
	return asset, err
}
