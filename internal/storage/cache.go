package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
)

// Slot names
const (
	SlotWatchlist = "watchlist"
	SlotCoinList  = "coin_list"
)

// LocalCache keeps the last-known watchlist and asset listing across restarts.
// Each slot holds a JSON array and is overwritten wholesale.
type LocalCache struct {
	kv KV
}

// NewLocalCache wraps a KV backend.
func NewLocalCache(kv KV) *LocalCache {
	return &LocalCache{kv: kv}
}

// LoadWatchlist returns the cached watchlist, empty if absent.
func (c *LocalCache) LoadWatchlist(ctx context.Context) ([]domain.WatchItem, error) {
	return loadSlot[domain.WatchItem](ctx, c.kv, SlotWatchlist)
}

// SaveWatchlist overwrites the watchlist slot.
func (c *LocalCache) SaveWatchlist(ctx context.Context, items []domain.WatchItem) error {
	return c.save(ctx, SlotWatchlist, items)
}

// LoadCoinList returns the cached asset listing, empty if absent.
func (c *LocalCache) LoadCoinList(ctx context.Context) ([]domain.AssetReference, error) {
	return loadSlot[domain.AssetReference](ctx, c.kv, SlotCoinList)
}

// SaveCoinList overwrites the coin_list slot.
func (c *LocalCache) SaveCoinList(ctx context.Context, assets []domain.AssetReference) error {
	return c.save(ctx, SlotCoinList, assets)
}

// Close releases the backend.
func (c *LocalCache) Close() error {
	return c.kv.Close()
}

// loadSlot returns an empty slice for absent slots. A slot that no longer
// decodes is treated as absent so the next save repairs it.
func loadSlot[T any](ctx context.Context, kv KV, slot string) ([]T, error) {
	raw, ok, err := kv.Get(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", slot, err)
	}
	if !ok || raw == "" {
		return []T{}, nil
	}

	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("Discarding unreadable cache slot", slog.String("slot", slot), slog.Any("error", err))
		return []T{}, nil
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (c *LocalCache) save(ctx context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", slot, err)
	}
	if err := c.kv.Put(ctx, slot, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}
	return nil
}
