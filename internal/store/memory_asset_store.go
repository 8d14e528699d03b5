package store

import (
	"context"
	"slices"
	"sync"

	"github.com/dunamismax/wardrobeflow/internal/domain"
)

type MemoryAssetStore struct {
	mu     sync.RWMutex
	assets map[string]domain.Asset
}

func NewMemoryAssetStore() *MemoryAssetStore {
	return &MemoryAssetStore{
		assets: make(map[string]domain.Asset),
	}
}

// Record inserts asset, replacing any earlier row for the same source.
func (s *MemoryAssetStore) Record(_ context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.assets {
		if existing.Kind == asset.Kind && existing.SourceHash == asset.SourceHash {
			delete(s.assets, id)
		}
	}
	s.assets[asset.ID] = asset
	return nil
}

func (s *MemoryAssetStore) FindBySource(_ context.Context, kind, sourceHash string) (domain.Asset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, asset := range s.assets {
		if asset.Kind == kind && asset.SourceHash == sourceHash {
			return asset, true, nil
		}
	}
	return domain.Asset{}, false, nil
}

// List returns assets of kind, newest first.
func (s *MemoryAssetStore) List(_ context.Context, kind string) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Asset
	for _, asset := range s.assets {
		if kind == "" || asset.Kind == kind {
			out = append(out, asset)
		}
	}
	slices.SortFunc(out, func(a, b domain.Asset) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryAssetStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[id]; !ok {
		return ErrAssetNotFound
	}
	delete(s.assets, id)
	return nil
}
