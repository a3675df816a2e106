// Пакет service — конвейер монитора загрузки: обнаружение, опрос, согласование,
// агрегация и кэширование сводок.
// CacheService — LRU-кэш снимков с TTL и необязательным общим хранилищем.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/repository"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_cache_hits_total",
		Help: "Общее количество попаданий в кэш сводок по уровню (memory, store).",
	}, []string{"tier"})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_cache_misses_total",
		Help: "Общее количество промахов кэша сводок.",
	})
)

// SnapshotStore — общее хранилище снимков (второй уровень кэша).
type SnapshotStore interface {
	// Load возвращает снимок или repository.ErrNotFound.
	Load(ctx context.Context, key string) (*model.Snapshot, error)
	// Save сохраняет снимок, заменяя предыдущий с тем же ключом.
	Save(ctx context.Context, key string, snap *model.Snapshot, expiresAt time.Time) error
	// DeleteAll удаляет все снимки.
	DeleteAll(ctx context.Context) error
}

// CacheService — кэш снимков с автоматическим TTL.
// Снимки не изменяются после помещения в кэш: обновление — атомарная замена.
type CacheService struct {
	cache  *expirable.LRU[string, *model.Snapshot]
	store  SnapshotStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewCacheService создаёт кэш с указанным максимальным размером и TTL.
// store может быть nil — тогда используется только память процесса.
func NewCacheService(maxSize int, ttl time.Duration, store SnapshotStore, logger *slog.Logger) *CacheService {
	return &CacheService{
		cache:  expirable.NewLRU[string, *model.Snapshot](maxSize, nil, ttl),
		store:  store,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "cache")),
	}
}

// Get возвращает снимок по ключу.
// Устаревший снимок, ошибка или повреждённые данные хранилища — промах.
func (c *CacheService) Get(ctx context.Context, key model.CacheKey) (*model.Snapshot, bool) {
	k := key.String()

	if snap, ok := c.cache.Get(k); ok && c.fresh(snap) {
		cacheHitsTotal.WithLabelValues("memory").Inc()
		return snap, true
	}

	if c.store != nil {
		snap, err := c.store.Load(ctx, k)
		switch {
		case err == nil && snap != nil && c.fresh(snap):
			c.cache.Add(k, snap)
			cacheHitsTotal.WithLabelValues("store").Inc()
			return snap, true
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			c.logger.Warn("Хранилище снимков недоступно, считаем промахом",
				slog.String("key", k),
				slog.String("error", err.Error()),
			)
		}
	}

	cacheMissesTotal.Inc()
	return nil, false
}

// Put помещает снимок в кэш (и в хранилище, если оно настроено).
// Ошибка хранилища не мешает кэшу в памяти.
func (c *CacheService) Put(ctx context.Context, snap *model.Snapshot) {
	k := snap.Key.String()
	c.cache.Add(k, snap)

	if c.store != nil {
		if err := c.store.Save(ctx, k, snap, snap.GeneratedAt.Add(c.ttl)); err != nil {
			c.logger.Warn("Не удалось сохранить снимок в хранилище",
				slog.String("key", k),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Purge очищает кэш и хранилище.
func (c *CacheService) Purge(ctx context.Context) error {
	c.cache.Purge()
	if c.store != nil {
		return c.store.DeleteAll(ctx)
	}
	return nil
}

// Len возвращает число снимков в памяти.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

// fresh сообщает, что снимок не старше TTL.
func (c *CacheService) fresh(snap *model.Snapshot) bool {
	return time.Since(snap.GeneratedAt) <= c.ttl
}
