package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
	"github.com/bigkaa/gridmon/internal/registry"
)

// fakeResolver возвращает заданный список сайтов.
type fakeResolver struct {
	endpoints  []model.Endpoint
	candidates int
	calls      atomic.Int32
	delay      time.Duration
}

func (f *fakeResolver) Resolve(_ context.Context, sch model.Schema) *registry.Resolution {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	eps := make([]model.Endpoint, len(f.endpoints))
	for i, ep := range f.endpoints {
		ep.Schema = sch
		ep.Base = sch.BaseDN()
		eps[i] = ep
	}
	return &registry.Resolution{Endpoints: eps, Candidates: f.candidates}
}

func ngSite(host string, cpus, used string) []model.RawRecord {
	return []model.RawRecord{
		model.NewRawRecord(ngClusterDN(host), map[string][]string{
			schema.NGClusterName:      {host},
			schema.NGClusterTotalCPUs: {cpus},
			schema.NGClusterUsedCPUs:  {used},
		}),
		model.NewRawRecord(ngQueueDN(host, "batch"), map[string][]string{
			schema.NGQueueName:        {"batch"},
			schema.NGQueueStatus:      {"active"},
			schema.NGQueueRunning:     {used},
			schema.NGQueueGridRunning: {"1"},
		}),
	}
}

type summaryFixture struct {
	resolver *fakeResolver
	querier  *fakeQuerier
	store    *memStore
	svc      *SummaryService
}

func newSummaryFixture(hosts ...string) *summaryFixture {
	fx := &summaryFixture{
		resolver: &fakeResolver{candidates: len(hosts)},
		querier: &fakeQuerier{
			records: map[string][]model.RawRecord{},
			errs:    map[string]error{},
			hang:    map[string]bool{},
		},
		store: newMemStore(),
	}
	for _, h := range hosts {
		fx.resolver.endpoints = append(fx.resolver.endpoints, model.Endpoint{Host: h, Port: model.DefaultLDAPPort})
	}
	fanout := NewFanout(fx.querier, 200*time.Millisecond, 8, testLogger())
	cache := NewCacheService(16, time.Minute, fx.store, testLogger())
	fx.svc = NewSummaryService(fx.resolver, fanout, NewReconciler(testLogger()), cache, model.SchemaNG, "en", testLogger())
	return fx
}

func TestProduceSummary_NoSitesFound(t *testing.T) {
	fx := newSummaryFixture()

	sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusNoSitesFound, sum.Status)
	assert.Empty(t, sum.Groups)
	assert.Equal(t, model.Totals{}, sum.Totals)
	assert.Equal(t, 0, fx.store.saves, "пустой результат не кэшируется")
}

func TestProduceSummary_NoSitesReplied(t *testing.T) {
	t.Run("ни один сайт не доступен", func(t *testing.T) {
		fx := newSummaryFixture()
		fx.resolver.candidates = 3

		sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{})
		require.NoError(t, err)
		assert.Equal(t, model.StatusNoSitesReplied, sum.Status)
		assert.Equal(t, 3, sum.Resolved)
	})

	t.Run("все сайты вернули ошибку", func(t *testing.T) {
		fx := newSummaryFixture("a.example.se", "b.example.se")
		fx.querier.errs["a.example.se"] = errors.New("refused")
		fx.querier.hang["b.example.se"] = true

		sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{})
		require.NoError(t, err)
		assert.Equal(t, model.StatusNoSitesReplied, sum.Status)
		assert.Equal(t, 2, sum.Failed)
		assert.Equal(t, 0, sum.Replied)
	})
}

func TestProduceSummary_OKAndCached(t *testing.T) {
	fx := newSummaryFixture("a.example.se", "b.example.no")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "4")
	fx.querier.records["b.example.no"] = ngSite("b.example.no", "20", "6")
	ctx := context.Background()

	sum, err := fx.svc.ProduceSummary(ctx, SummaryRequest{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusOK, sum.Status)
	assert.False(t, sum.FromCache)
	assert.Equal(t, model.SchemaNG, sum.Schema)
	assert.Equal(t, "en", sum.Locale)
	assert.Equal(t, model.SortCountry, sum.Order)
	assert.Equal(t, 2, sum.Replied)
	assert.Equal(t, 2, sum.Totals.Clusters)
	assert.Equal(t, 30, sum.Totals.CPU)
	require.Len(t, sum.Groups, 2)
	assert.Equal(t, "NO", sum.Groups[0].Key)
	assert.Nil(t, sum.Trace, "трассировка только в режиме отладки")

	again, err := fx.svc.ProduceSummary(ctx, SummaryRequest{Order: model.SortCPU})
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, sum.SnapshotID, again.SnapshotID)
	assert.Equal(t, model.SortCPU, again.Order)
	assert.Equal(t, int32(1), fx.resolver.calls.Load(), "второй запрос обслужен из кэша")
}

func TestProduceSummary_Partial(t *testing.T) {
	fx := newSummaryFixture("a.example.se", "slow.example.se", "c.example.se")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "0")
	fx.querier.records["c.example.se"] = ngSite("c.example.se", "5", "2")
	fx.querier.hang["slow.example.se"] = true

	sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{Debug: 1})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartial, sum.Status)
	assert.Equal(t, 2, sum.Replied)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Totals.Clusters)

	require.Len(t, sum.Trace, 3)
	assert.True(t, sum.Trace[1].Timeout)
	assert.NotEmpty(t, sum.Trace[1].Error)
	assert.Empty(t, sum.Trace[0].Error)
}

func TestProduceSummary_SkippedSiteIsNotFailure(t *testing.T) {
	fx := newSummaryFixture("a.example.se", "empty.example.se")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "2")

	sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{Debug: 1})
	require.NoError(t, err)

	assert.Equal(t, model.StatusOK, sum.Status)
	assert.Equal(t, 2, sum.Replied)
	assert.Equal(t, 1, sum.Totals.Clusters)
	require.Len(t, sum.Trace, 2)
	assert.Equal(t, SkipNoRecords, sum.Trace[1].Skipped)
}

func TestProduceSummary_DebugForcesRefresh(t *testing.T) {
	fx := newSummaryFixture("a.example.se")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "2")
	ctx := context.Background()

	_, err := fx.svc.ProduceSummary(ctx, SummaryRequest{})
	require.NoError(t, err)
	forced, err := fx.svc.ProduceSummary(ctx, SummaryRequest{Debug: 1})
	require.NoError(t, err)

	assert.False(t, forced.FromCache)
	assert.Equal(t, int32(2), fx.resolver.calls.Load())
	// Принудительное обновление тоже записывает снимок
	assert.Equal(t, 2, fx.store.saves)

	cached, err := fx.svc.ProduceSummary(ctx, SummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, forced.SnapshotID, cached.SnapshotID)
}

func TestProduceSummary_GroupView(t *testing.T) {
	fx := newSummaryFixture("a.example.se", "b.example.no")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "2")
	fx.querier.records["b.example.no"] = ngSite("b.example.no", "20", "2")

	sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{View: "vo=SE"})
	require.NoError(t, err)

	require.Len(t, sum.Groups, 1)
	assert.Equal(t, "SE", sum.Groups[0].Key)
	assert.Equal(t, 10, sum.Totals.CPU)
	assert.Equal(t, "vo=SE", sum.Filter)
}

func TestProduceSummary_InvalidRequest(t *testing.T) {
	fx := newSummaryFixture("a.example.se")
	ctx := context.Background()

	_, err := fx.svc.ProduceSummary(ctx, SummaryRequest{Schema: "GLUE1"})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = fx.svc.ProduceSummary(ctx, SummaryRequest{View: "vo="})
	assert.ErrorIs(t, err, ErrInvalidView)

	_, err = fx.svc.ProduceSummary(ctx, SummaryRequest{View: "(((broken"})
	assert.ErrorIs(t, err, ErrInvalidView)

	assert.Equal(t, int32(0), fx.resolver.calls.Load())
}

func TestProduceSummary_ConcurrentMissesShareRefresh(t *testing.T) {
	fx := newSummaryFixture("a.example.se")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "2")
	fx.resolver.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := fx.svc.ProduceSummary(context.Background(), SummaryRequest{})
			if err == nil {
				ids[i] = sum.SnapshotID.String()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fx.resolver.calls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestSummaryService_WarmAndInvalidate(t *testing.T) {
	fx := newSummaryFixture("a.example.se")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "2")
	ctx := context.Background()

	require.NoError(t, fx.svc.Warm(ctx, model.SchemaNG))

	sum, err := fx.svc.ProduceSummary(ctx, SummaryRequest{})
	require.NoError(t, err)
	assert.True(t, sum.FromCache)

	require.NoError(t, fx.svc.Invalidate(ctx))
	sum, err = fx.svc.ProduceSummary(ctx, SummaryRequest{})
	require.NoError(t, err)
	assert.False(t, sum.FromCache)
}

func TestSummaryService_WarmEmptyRegistry(t *testing.T) {
	fx := newSummaryFixture()
	err := fx.svc.Warm(context.Background(), model.SchemaGLUE2)
	assert.ErrorIs(t, err, ErrNoSitesFound)
}

func TestSummaryService_WarmHonoursDeadline(t *testing.T) {
	fx := newSummaryFixture("slow.example.se")
	fx.querier.hang["slow.example.se"] = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := fx.svc.Warm(ctx, model.SchemaNG)
	assert.ErrorIs(t, err, ErrNoSitesReplied)
	// Таймаут одного запроса — 200 мс; прогрев завершается по дедлайну контекста раньше
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestProduceSummary_CallerCancelDoesNotAbortBuild(t *testing.T) {
	fx := newSummaryFixture("a.example.se")
	fx.querier.records["a.example.se"] = ngSite("a.example.se", "10", "2")
	fx.querier.delay = map[string]time.Duration{"a.example.se": 30 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := fx.svc.ProduceSummary(ctx, SummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusOK, sum.Status)
	assert.Equal(t, 1, sum.Replied)
}
