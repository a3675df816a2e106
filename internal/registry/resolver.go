package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Prometheus-метрики обнаружения сайтов.
var (
	resolverEndpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lm_resolver_endpoints",
		Help: "Число сайтов на этапах последнего обнаружения",
	}, []string{"stage"})

	registryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_registry_errors_total",
		Help: "Количество ошибок опроса реестров",
	})
)

// Resolution — результат обнаружения.
type Resolution struct {
	// Endpoints — достижимые сайты, без дубликатов, в порядке обнаружения
	Endpoints []model.Endpoint
	// Candidates — число различных хостов до проверки доступности
	Candidates int
	// Registries — число опрошенных реестров
	Registries int
}

// ResolverOptions — параметры Resolver.
type ResolverOptions struct {
	// MaxDepth — максимальная глубина вложенности реестров (>= 1)
	MaxDepth int
	// RegistryTimeout — таймаут опроса одного реестра
	RegistryTimeout time.Duration
	// ProbeConcurrency — число одновременных проверок доступности
	ProbeConcurrency int
}

// Resolver обходит реестры и формирует множество сайтов.
type Resolver struct {
	opts   ResolverOptions
	prober Prober
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(opts ResolverOptions, prober Prober, logger *slog.Logger) *Resolver {
	if opts.MaxDepth < 1 {
		opts.MaxDepth = 1
	}
	if opts.ProbeConcurrency < 1 {
		opts.ProbeConcurrency = 1
	}
	return &Resolver{
		opts:   opts,
		prober: prober,
		logger: logger.With(slog.String("component", "resolver")),
	}
}

// Resolve обходит источники, отбрасывает недоступные сайты и удаляет дубликаты по хосту.
// Доступность проверяется до дедупликации: недоступное первое вхождение хоста
// не скрывает его доступное повторное вхождение.
// Если schema задана, базовый DN каждого сайта приводится к этой схеме.
// Пустой результат не является ошибкой.
func (r *Resolver) Resolve(ctx context.Context, sources []Source, schema model.Schema) *Resolution {
	res := &Resolution{}
	candidates := r.walk(ctx, sources, res)
	res.Candidates = countHosts(candidates)
	resolverEndpoints.WithLabelValues("candidates").Set(float64(res.Candidates))

	res.Endpoints = Dedup(r.probe(ctx, candidates), schema)
	resolverEndpoints.WithLabelValues("reachable").Set(float64(len(res.Endpoints)))

	r.logger.Debug("Обнаружение сайтов завершено",
		slog.Int("registries", res.Registries),
		slog.Int("candidates", res.Candidates),
		slog.Int("reachable", len(res.Endpoints)),
	)
	return res
}

// countHosts — число различных непустых хостов.
func countHosts(endpoints []model.Endpoint) int {
	hosts := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if ep.Host != "" {
			hosts[ep.Host] = struct{}{}
		}
	}
	return len(hosts)
}

// walk последовательно обходит реестры в ширину с ограничением глубины.
// Повторно встреченный источник не опрашивается.
func (r *Resolver) walk(ctx context.Context, sources []Source, res *Resolution) []model.Endpoint {
	visited := make(map[string]bool)
	var candidates []model.Endpoint

	level := sources
	for depth := 1; depth <= r.opts.MaxDepth && len(level) > 0; depth++ {
		var next []Source
		for _, src := range level {
			if visited[src.ID()] {
				continue
			}
			visited[src.ID()] = true

			listing, err := r.list(ctx, src)
			res.Registries++
			if err != nil {
				registryErrorsTotal.Inc()
				r.logger.Warn("Ошибка опроса реестра",
					slog.String("registry", src.ID()),
					slog.String("error", err.Error()),
				)
				continue
			}
			candidates = append(candidates, listing.Candidates...)
			next = append(next, listing.Children...)
		}
		level = next
	}

	for _, src := range level {
		if !visited[src.ID()] {
			r.logger.Warn("Превышена глубина обхода реестров, источник пропущен",
				slog.String("registry", src.ID()),
				slog.Int("max_depth", r.opts.MaxDepth),
			)
		}
	}
	return candidates
}

func (r *Resolver) list(ctx context.Context, src Source) (*Listing, error) {
	if r.opts.RegistryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RegistryTimeout)
		defer cancel()
	}
	return src.List(ctx)
}

// probe проверяет доступность параллельно, сохраняя порядок обнаружения.
// Каждый адрес проверяется один раз; недоступные сайты молча отбрасываются.
func (r *Resolver) probe(ctx context.Context, endpoints []model.Endpoint) []model.Endpoint {
	var addrs []string
	index := make(map[string]int, len(endpoints))
	for _, ep := range endpoints {
		if ep.Host == "" {
			continue
		}
		if _, ok := index[ep.Address()]; !ok {
			index[ep.Address()] = len(addrs)
			addrs = append(addrs, ep.Address())
		}
	}
	alive := make([]bool, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ProbeConcurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			alive[i] = r.prober.Reachable(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Host == "" {
			continue
		}
		if alive[index[ep.Address()]] {
			out = append(out, ep)
		} else {
			r.logger.Debug("Сайт недоступен", slog.String("endpoint", ep.Address()))
		}
	}
	return out
}

// Dedup удаляет дубликаты по хосту: повторное вхождение отбрасывается.
// При заданной schema базовый DN и схема сохранённой записи перезаписываются
// значениями запрошенной схемы. Без schema сайты с неизвестной схемой получают NG.
func Dedup(candidates []model.Endpoint, schema model.Schema) []model.Endpoint {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]model.Endpoint, 0, len(candidates))
	for _, c := range candidates {
		if c.Host == "" {
			continue
		}
		if _, ok := seen[c.Host]; ok {
			continue
		}
		seen[c.Host] = struct{}{}
		out = append(out, c)
	}

	for i := range out {
		switch {
		case schema != "":
			out[i].Schema = schema
			out[i].Base = schema.BaseDN()
		case out[i].Schema == "":
			out[i].Schema = model.SchemaNG
			out[i].Base = model.BaseDNNG
		case out[i].Base == "":
			out[i].Base = out[i].Schema.BaseDN()
		}
	}
	return out
}

// Directory связывает Resolver с источниками из конфигурации.
type Directory struct {
	resolver *Resolver
	sources  []Source
}

// NewDirectory создаёт Directory.
func NewDirectory(resolver *Resolver, sources []Source) *Directory {
	return &Directory{resolver: resolver, sources: sources}
}

// Resolve обнаруживает сайты по всем настроенным источникам.
func (d *Directory) Resolve(ctx context.Context, schema model.Schema) *Resolution {
	return d.resolver.Resolve(ctx, d.sources, schema)
}

// Sources возвращает число настроенных источников.
func (d *Directory) Sources() int {
	return len(d.sources)
}

// Name — имя проверки в ответе /health/ready.
func (d *Directory) Name() string {
	return "registries"
}

// CheckReady сообщает, настроены ли источники обнаружения.
// Без источников сервис работает, но каждая сводка будет пустой.
func (d *Directory) CheckReady() (status, message string) {
	if len(d.sources) == 0 {
		return "degraded", "источники обнаружения сайтов не настроены"
	}
	return "ok", fmt.Sprintf("источников: %d", len(d.sources))
}
