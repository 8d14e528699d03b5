package store

import (
	"context"
	"errors"

	"github.com/dunamismax/wardrobeflow/internal/domain"
)

var ErrAssetNotFound = errors.New("asset not found")

// AssetStore is the ledger of uploaded assets. FindBySource lets an ingest
// skip sources it has already uploaded.
type AssetStore interface {
	Record(ctx context.Context, asset domain.Asset) error
	FindBySource(ctx context.Context, kind, sourceHash string) (domain.Asset, bool, error)
	List(ctx context.Context, kind string) ([]domain.Asset, error)
	Delete(ctx context.Context, id string) error
}
