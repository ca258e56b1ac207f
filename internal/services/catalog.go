package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/simshopapp/simshop/internal/cache"
	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/logging"
)

const catalogCacheTTL = 10 * time.Minute

type packageLookup interface {
	GetByID(ctx context.Context, id int64) (*db.Package, error)
	GetBySlug(ctx context.Context, slug string) (*db.Package, error)
}

// CatalogService is the narrow plan-catalog lookup the fulfillment path
// needs: slug and country resolution by package id or slug. Results are
// cached; the catalog changes rarely and fulfillment hits it on every order.
type CatalogService struct {
	store  packageLookup
	cache  cache.Provider
	logger *slog.Logger
}

func NewCatalogService(store packageLookup, cacheProvider cache.Provider, logger *slog.Logger) *CatalogService {
	return &CatalogService{store: store, cache: cacheProvider, logger: logger}
}

func (s *CatalogService) PackageByID(ctx context.Context, id int64) (*db.Package, error) {
	key := cache.CatalogKey("id:" + strconv.FormatInt(id, 10))
	if pkg := s.cached(ctx, key); pkg != nil {
		return pkg, nil
	}

	pkg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, key, pkg)
	return pkg, nil
}

func (s *CatalogService) PackageBySlug(ctx context.Context, slug string) (*db.Package, error) {
	key := cache.CatalogKey("slug:" + slug)
	if pkg := s.cached(ctx, key); pkg != nil {
		return pkg, nil
	}

	pkg, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, key, pkg)
	return pkg, nil
}

func (s *CatalogService) cached(ctx context.Context, key string) *db.Package {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil
	}
	var pkg db.Package
	if err := json.Unmarshal([]byte(raw), &pkg); err != nil {
		return nil
	}
	return &pkg
}

func (s *CatalogService) remember(ctx context.Context, key string, pkg *db.Package) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), catalogCacheTTL); err != nil {
		logging.FromContext(ctx, s.logger).Warn("failed to cache catalog entry", "key", key, "error", err)
	}
}
