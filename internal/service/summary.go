// summary.go — точка входа конвейера: ProduceSummary.
// Порядок стадий: обнаружение → параллельный опрос → согласование → агрегация,
// результат прохода кэшируется как снимок.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
	"github.com/bigkaa/gridmon/internal/registry"
)

// Prometheus-метрики сводок.
var (
	summaryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lm_summary_build_duration_seconds",
		Help:    "Длительность полного прохода конвейера (без попадания в кэш)",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	summaryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_summary_requests_total",
		Help: "Количество запросов сводки по итоговому статусу",
	}, []string{"status"})
)

// EndpointResolver — обнаружение сайтов для заданной схемы.
type EndpointResolver interface {
	Resolve(ctx context.Context, schema model.Schema) *registry.Resolution
}

// SummaryRequest — параметры запроса сводки.
type SummaryRequest struct {
	// View — "all", "vo=<код>" или LDAP-выражение, сужающее выборку
	View   string
	Schema model.Schema
	Order  model.SortKey
	// Debug > 0 — принудительное обновление и трассировка опроса
	Debug  int
	Locale string
}

// SummaryService — конвейер сводок.
type SummaryService struct {
	resolver      EndpointResolver
	fanout        *Fanout
	reconciler    *Reconciler
	cache         *CacheService
	group         singleflight.Group
	defaultSchema model.Schema
	defaultLocale string
	logger        *slog.Logger
}

// NewSummaryService создаёт конвейер.
func NewSummaryService(
	resolver EndpointResolver,
	fanout *Fanout,
	reconciler *Reconciler,
	cache *CacheService,
	defaultSchema model.Schema,
	defaultLocale string,
	logger *slog.Logger,
) *SummaryService {
	return &SummaryService{
		resolver:      resolver,
		fanout:        fanout,
		reconciler:    reconciler,
		cache:         cache,
		defaultSchema: defaultSchema,
		defaultLocale: defaultLocale,
		logger:        logger.With(slog.String("component", "summary")),
	}
}

// normalizedRequest — запрос с подставленными значениями по умолчанию.
type normalizedRequest struct {
	SummaryRequest
	// group — фильтр группы для вида vo=<код>
	group string
	// ldapView — LDAP-выражение вида (пусто для all и vo=)
	ldapView string
	key      model.CacheKey
	force    bool
}

func (s *SummaryService) normalize(req SummaryRequest) (normalizedRequest, error) {
	n := normalizedRequest{SummaryRequest: req}
	n.View = strings.TrimSpace(n.View)
	if n.View == "" {
		n.View = model.ViewAll
	}
	if n.Schema == "" {
		n.Schema = s.defaultSchema
	}
	if n.Schema != model.SchemaNG && n.Schema != model.SchemaGLUE2 {
		return n, fmt.Errorf("%w: %q", ErrInvalidSchema, n.Schema)
	}
	if n.Order == "" {
		n.Order = model.SortCountry
	}
	if n.Locale == "" {
		n.Locale = s.defaultLocale
	}

	cacheView := model.ViewAll
	if group, ok := ParseGroupFilter(n.View); ok {
		if group == "" {
			return n, fmt.Errorf("%w: пустой код группы", ErrInvalidView)
		}
		n.group = group
	} else if n.View != model.ViewAll {
		n.ldapView = n.View
		if _, err := ldap.CompileFilter(schema.FilterWithView(n.Schema, n.ldapView)); err != nil {
			return n, fmt.Errorf("%w: %v", ErrInvalidView, err)
		}
		cacheView = n.View
	}

	n.key = model.CacheKey{View: cacheView, Schema: n.Schema, Locale: n.Locale}
	n.force = n.Debug > 0 || n.View != model.ViewAll
	return n, nil
}

// ProduceSummary возвращает сводку для запроса.
// «Нет сайтов» и «ни один сайт не ответил» — не ошибки, а статусы результата;
// ошибка возвращается только для некорректного запроса.
func (s *SummaryService) ProduceSummary(ctx context.Context, req SummaryRequest) (*model.Summary, error) {
	n, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	if !n.force {
		if snap, ok := s.cache.Get(ctx, n.key); ok {
			sum := s.present(n, snap, model.StatusOK)
			sum.FromCache = true
			summaryRequestsTotal.WithLabelValues(string(sum.Status)).Inc()
			return sum, nil
		}
	}

	// Проход не должен прерываться отменой одного из ожидающих запросов
	snap, err := s.refresh(context.WithoutCancel(ctx), n)
	switch {
	case errors.Is(err, ErrNoSitesFound):
		return s.empty(n, snap, model.StatusNoSitesFound), nil
	case errors.Is(err, ErrNoSitesReplied):
		return s.empty(n, snap, model.StatusNoSitesReplied), nil
	case err != nil:
		return nil, err
	}

	sum := s.present(n, snap, model.StatusOK)
	summaryRequestsTotal.WithLabelValues(string(sum.Status)).Inc()
	return sum, nil
}

// Warm обновляет снимок вида по умолчанию для схемы (плановый прогрев).
// Дедлайн и отмена ctx ограничивают проход.
func (s *SummaryService) Warm(ctx context.Context, sch model.Schema) error {
	n, err := s.normalize(SummaryRequest{Schema: sch})
	if err != nil {
		return err
	}
	_, err = s.refresh(ctx, n)
	return err
}

// Invalidate очищает кэш сводок.
func (s *SummaryService) Invalidate(ctx context.Context) error {
	return s.cache.Purge(ctx)
}

// refresh выполняет проход конвейера; параллельные промахи по одному ключу
// выполняют проход один раз в контексте первого из них.
func (s *SummaryService) refresh(ctx context.Context, n normalizedRequest) (*model.Snapshot, error) {
	v, err, shared := s.group.Do(n.key.String(), func() (any, error) {
		return s.build(ctx, n)
	})
	if shared {
		s.logger.Debug("Результат прохода разделён между запросами", slog.String("key", n.key.String()))
	}
	snap, _ := v.(*model.Snapshot)
	return snap, err
}

// build — один проход конвейера.
func (s *SummaryService) build(ctx context.Context, n normalizedRequest) (*model.Snapshot, error) {
	start := time.Now()
	defer func() { summaryDuration.Observe(time.Since(start).Seconds()) }()

	snap := &model.Snapshot{
		ID:  uuid.New(),
		Key: n.key,
	}

	res := s.resolver.Resolve(ctx, n.Schema)
	snap.Resolved = res.Candidates
	snap.Reachable = len(res.Endpoints)
	if res.Candidates == 0 {
		snap.GeneratedAt = time.Now()
		s.logger.Warn("Реестры не вернули ни одного сайта", slog.String("schema", string(n.Schema)))
		return snap, ErrNoSitesFound
	}
	if len(res.Endpoints) == 0 {
		snap.GeneratedAt = time.Now()
		s.logger.Warn("Ни один сайт не доступен",
			slog.String("schema", string(n.Schema)),
			slog.Int("resolved", res.Candidates),
		)
		return snap, ErrNoSitesReplied
	}

	filter := schema.FilterWithView(n.Schema, n.ldapView)
	results := s.fanout.Run(ctx, res.Endpoints, filter, schema.Attributes())

	snap.Trace = make([]model.EndpointTrace, 0, len(results))
	for i, r := range results {
		trace := model.EndpointTrace{
			Host:     r.Endpoint.Host,
			Port:     r.Endpoint.Port,
			Records:  len(r.Records),
			Duration: r.Duration,
		}
		if r.Err != nil {
			snap.Failed++
			trace.Error = r.Err.Err.Error()
			trace.Timeout = r.Err.Timeout
			snap.Trace = append(snap.Trace, trace)
			continue
		}
		snap.Replied++

		detail, err := s.reconciler.Reconcile(r.Endpoint, r.Records)
		if err != nil {
			var skip *SkipError
			if errors.As(err, &skip) {
				trace.Skipped = skip.Reason
			} else {
				trace.Error = err.Error()
			}
			snap.Trace = append(snap.Trace, trace)
			continue
		}
		snap.Rows = append(snap.Rows, model.NewSummaryRow(detail.Site, i))
		snap.Trace = append(snap.Trace, trace)
	}
	snap.GeneratedAt = time.Now()

	if snap.Replied == 0 {
		s.logger.Warn("Ни один сайт не ответил",
			slog.String("schema", string(n.Schema)),
			slog.Int("reachable", snap.Reachable),
		)
		return snap, ErrNoSitesReplied
	}

	s.cache.Put(ctx, snap)
	s.logger.Info("Сводка обновлена",
		slog.String("key", n.key.String()),
		slog.Int("resolved", snap.Resolved),
		slog.Int("reachable", snap.Reachable),
		slog.Int("replied", snap.Replied),
		slog.Int("failed", snap.Failed),
		slog.Int("sites", len(snap.Rows)),
		slog.Duration("duration", time.Since(start)),
	)
	return snap, nil
}

// present строит ответ из снимка: сортировка, фильтр группы, итоги.
func (s *SummaryService) present(n normalizedRequest, snap *model.Snapshot, status model.SummaryStatus) *model.Summary {
	agg := Aggregate(snap.Rows, n.Order, n.group)
	if status == model.StatusOK && snap.Failed > 0 {
		status = model.StatusPartial
	}
	sum := &model.Summary{
		SnapshotID:  snap.ID,
		Status:      status,
		Schema:      n.Schema,
		Locale:      n.Locale,
		Order:       n.Order,
		Filter:      n.View,
		Groups:      agg.Groups,
		Totals:      agg.Totals,
		Resolved:    snap.Resolved,
		Replied:     snap.Replied,
		Failed:      snap.Failed,
		GeneratedAt: snap.GeneratedAt,
	}
	if n.Debug > 0 {
		sum.Trace = snap.Trace
	}
	return sum
}

// empty строит ответ для прохода без данных.
func (s *SummaryService) empty(n normalizedRequest, snap *model.Snapshot, status model.SummaryStatus) *model.Summary {
	summaryRequestsTotal.WithLabelValues(string(status)).Inc()
	if snap == nil {
		snap = &model.Snapshot{Key: n.key, GeneratedAt: time.Now()}
	}
	return s.present(n, snap, status)
}
