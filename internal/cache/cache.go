package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

const (
	KeyProducts  = "catalog:products"
	KeyCustomers = "catalog:customers"
)

// CatalogCache stores encoded catalog listings keyed by branch.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Delete(_ context.Context, _ ...string) error {
	return nil
}

// BranchKey scopes a catalog key to one branch.
func BranchKey(branchID string, key string) string {
	if branchID == "" {
		return key
	}
	return key + ":" + branchID
}
