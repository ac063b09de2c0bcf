package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"partsdesk/checkout/internal/cache"
	"partsdesk/checkout/internal/domain"
)

var ErrNotFound = errors.New("catalog: not found")

// Source is the backend read surface the catalog fronts.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ListUnpaidInvoices(ctx context.Context) ([]domain.InvoiceSummary, error)
}

// Snapshot is everything a checkout screen needs on open.
type Snapshot struct {
	Products       []domain.Product        `json:"products"`
	Customers      []domain.Customer       `json:"customers"`
	UnpaidInvoices []domain.InvoiceSummary `json:"unpaid_invoices"`
}

// loadTimeout bounds a shared backend load once it is detached from the
// caller that started it.
const loadTimeout = 30 * time.Second

type Service struct {
	source   Source
	cache    cache.CatalogCache
	ttl      time.Duration
	branchID string
	group    singleflight.Group
}

func New(source Source, c cache.CatalogCache, ttl time.Duration, branchID string) *Service {
	if c == nil {
		c = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{source: source, cache: c, ttl: ttl, branchID: branchID}
}

func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	return cached(ctx, s, cache.KeyProducts, s.source.ListProducts)
}

func (s *Service) Customers(ctx context.Context) ([]domain.Customer, error) {
	return cached(ctx, s, cache.KeyCustomers, s.source.ListCustomers)
}

// Product looks up one product from the (cached) product list.
func (s *Service) Product(ctx context.Context, id string) (domain.Product, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, ErrNotFound
}

// UnpaidInvoices always goes to the backend; settlement state must be fresh.
func (s *Service) UnpaidInvoices(ctx context.Context) ([]domain.InvoiceSummary, error) {
	return s.source.ListUnpaidInvoices(ctx)
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		products, err := s.Products(gctx)
		snap.Products = products
		return err
	})
	g.Go(func() error {
		customers, err := s.Customers(gctx)
		snap.Customers = customers
		return err
	})
	g.Go(func() error {
		invoices, err := s.UnpaidInvoices(gctx)
		snap.UnpaidInvoices = invoices
		return err
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Invalidate drops cached products so the next read sees moved stock.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, cache.BranchKey(s.branchID, cache.KeyProducts))
}

func cached[T any](ctx context.Context, s *Service, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	key = cache.BranchKey(s.branchID, key)

	raw, err := s.cache.Get(ctx, key)
	if err == nil {
		var out []T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		log.Printf("[catalog] WARN: dropping undecodable cache entry key=%s", key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("[catalog] WARN: cache get failed key=%s: %v", key, err)
	}

	// The shared load is detached from whichever caller started it.
	ch := s.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		items, err := load(lctx)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(items); err == nil {
			if err := s.cache.Set(lctx, key, payload, s.ttl); err != nil {
				log.Printf("[catalog] WARN: cache set failed key=%s: %v", key, err)
			}
		}
		return items, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]T), nil
	}
}
