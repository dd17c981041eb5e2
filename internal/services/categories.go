package services

import (
	"context"
	"strconv"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const (
	categoryCacheSize = 64
	categoryCacheTTL  = 10 * time.Minute
	allCategoriesKey  = "all"
)

// CategoryService serves the read-only category catalog from an in-process
// cache. Categories change only through migrations.
type CategoryService struct {
	repo *storage.SQLiteRepository
	list *cache.Loader[[]core.Category]
	one  *cache.Loader[core.Category]

	lists *cache.LRUCache[[]core.Category]
	items *cache.LRUCache[core.Category]
}

func NewCategoryService(repo *storage.SQLiteRepository) *CategoryService {
	lists := cache.NewLRUCache[[]core.Category](1, categoryCacheTTL)
	items := cache.NewLRUCache[core.Category](categoryCacheSize, categoryCacheTTL)
	return &CategoryService{
		repo:  repo,
		list:  cache.NewLoader[[]core.Category](lists),
		one:   cache.NewLoader[core.Category](items),
		lists: lists,
		items: items,
	}
}

// Caches exposes the underlying caches for registration with a cache.Manager.
func (s *CategoryService) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.lists, s.items}
}

func (s *CategoryService) List(ctx context.Context) ([]core.Category, error) {
	return s.list.Get(ctx, allCategoriesKey, s.repo.ListCategories)
}

func (s *CategoryService) Get(ctx context.Context, id int64) (core.Category, error) {
	return s.one.Get(ctx, strconv.FormatInt(id, 10), func(ctx context.Context) (core.Category, error) {
		return s.repo.Category(ctx, id)
	})
}
