// fanout.go — параллельный опрос информационных сервисов сайтов.
// Каждый сайт опрашивается со своим таймаутом; отказ одного сайта
// не прерывает и не задерживает опрос остальных.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
	"github.com/bigkaa/gridmon/internal/ldapclient"
)

// Prometheus-метрики опроса сайтов.
var (
	fanoutQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_fanout_queries_total",
		Help: "Количество запросов к сайтам по результату (ok, error, timeout)",
	}, []string{"result"})

	fanoutQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lm_fanout_query_duration_seconds",
		Help:    "Длительность запроса к одному сайту",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	})
)

// Querier — опрос информационного сервиса одного сайта.
type Querier interface {
	Query(ctx context.Context, ep model.Endpoint, filter string, attrs []string) ([]model.RawRecord, error)
}

// EndpointResult — результат опроса одного сайта.
// Ровно одно из Records/Err имеет смысл; пустой Records без ошибки — корректный ответ.
type EndpointResult struct {
	Endpoint model.Endpoint
	Records  []model.RawRecord
	Err      *model.QueryError
	Duration time.Duration
}

// Fanout опрашивает сайты параллельно.
type Fanout struct {
	querier     Querier
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewFanout создаёт Fanout.
// timeout — жёсткий таймаут одного запроса; concurrency — предел одновременных запросов.
func NewFanout(querier Querier, timeout time.Duration, concurrency int, logger *slog.Logger) *Fanout {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fanout{
		querier:     querier,
		timeout:     timeout,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "fanout")),
	}
}

// Run опрашивает все сайты и возвращает результаты в порядке endpoints.
// Возвращается после того, как каждый запрос завершился или истёк его таймаут.
func (f *Fanout) Run(ctx context.Context, endpoints []model.Endpoint, filter string, attrs []string) []EndpointResult {
	results := make([]EndpointResult, len(endpoints))

	// errgroup используется только как ограниченный пул: задачи не возвращают ошибок,
	// поэтому отказ одного сайта не отменяет остальные.
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = f.queryOne(ctx, ep, filter, attrs)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fanout) queryOne(ctx context.Context, ep model.Endpoint, filter string, attrs []string) EndpointResult {
	qctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	records, err := f.querier.Query(qctx, ep, filter, attrs)
	elapsed := time.Since(start)
	fanoutQueryDuration.Observe(elapsed.Seconds())

	res := EndpointResult{Endpoint: ep, Duration: elapsed}
	if err != nil {
		timeout := errors.Is(err, ldapclient.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(qctx.Err(), context.DeadlineExceeded)
		res.Err = &model.QueryError{Host: ep.Host, Err: err, Timeout: timeout}
		if timeout {
			fanoutQueriesTotal.WithLabelValues("timeout").Inc()
		} else {
			fanoutQueriesTotal.WithLabelValues("error").Inc()
		}
		f.logger.Warn("Сайт не ответил",
			slog.String("endpoint", ep.Address()),
			slog.Bool("timeout", timeout),
			slog.String("error", err.Error()),
		)
		return res
	}

	for i := range records {
		records[i].Kind = schema.Classify(ep.Schema, records[i].DN)
	}
	res.Records = records
	fanoutQueriesTotal.WithLabelValues("ok").Inc()
	return res
}
