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
)

// fakeQuerier отвечает заранее заданными записями с задержкой.
// Хосты из hang не отвечают до отмены контекста.
type fakeQuerier struct {
	mu       sync.Mutex
	records  map[string][]model.RawRecord
	errs     map[string]error
	delay    map[string]time.Duration
	hang     map[string]bool
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeQuerier) Query(ctx context.Context, ep model.Endpoint, _ string, _ []string) ([]model.RawRecord, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	delay := f.delay[ep.Host]
	hang := f.hang[ep.Host]
	err := f.errs[ep.Host]
	recs := f.records[ep.Host]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]model.RawRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func TestFanout_IsolatesSlowEndpoint(t *testing.T) {
	q := &fakeQuerier{
		records: map[string][]model.RawRecord{
			"a.example.se": {model.NewRawRecord(ngClusterDN("a.example.se"), nil)},
			"b.example.se": {model.NewRawRecord(ngQueueDN("b.example.se", "q"), nil)},
		},
		delay: map[string]time.Duration{
			"a.example.se": 50 * time.Millisecond,
			"b.example.se": 100 * time.Millisecond,
		},
		hang: map[string]bool{"slow.example.se": true},
	}
	f := NewFanout(q, 300*time.Millisecond, 8, testLogger())

	eps := []model.Endpoint{ngEndpoint("a.example.se"), ngEndpoint("slow.example.se"), ngEndpoint("b.example.se")}

	start := time.Now()
	results := f.Run(context.Background(), eps, "(objectClass=*)", nil)
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	// Время ограничено самым долгим запросом, а не суммой
	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)

	assert.Nil(t, results[0].Err)
	assert.Equal(t, "a.example.se", results[0].Endpoint.Host)
	require.Len(t, results[0].Records, 1)
	assert.Equal(t, model.KindCluster, results[0].Records[0].Kind)

	require.NotNil(t, results[1].Err)
	assert.True(t, results[1].Err.Timeout)
	assert.Equal(t, "slow.example.se", results[1].Err.Host)
	assert.True(t, errors.Is(results[1].Err, context.DeadlineExceeded))

	assert.Nil(t, results[2].Err)
	require.Len(t, results[2].Records, 1)
	assert.Equal(t, model.KindQueue, results[2].Records[0].Kind)
}

func TestFanout_ErrorIsNotTimeout(t *testing.T) {
	q := &fakeQuerier{errs: map[string]error{"bad.example.se": errors.New("connection refused")}}
	f := NewFanout(q, time.Second, 4, testLogger())

	results := f.Run(context.Background(), []model.Endpoint{ngEndpoint("bad.example.se")}, "", nil)

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.False(t, results[0].Err.Timeout)
	assert.Contains(t, results[0].Err.Error(), "connection refused")
}

func TestFanout_EmptyReplyIsNotError(t *testing.T) {
	q := &fakeQuerier{}
	f := NewFanout(q, time.Second, 4, testLogger())

	results := f.Run(context.Background(), []model.Endpoint{ngEndpoint("empty.example.se")}, "", nil)

	require.Len(t, results, 1)
	assert.Nil(t, results[0].Err)
	assert.Empty(t, results[0].Records)
}

func TestFanout_ConcurrencyLimit(t *testing.T) {
	q := &fakeQuerier{delay: map[string]time.Duration{}}
	var eps []model.Endpoint
	for _, h := range []string{"a", "b", "c", "d", "e", "f"} {
		host := h + ".example.se"
		q.delay[host] = 30 * time.Millisecond
		eps = append(eps, ngEndpoint(host))
	}
	f := NewFanout(q, time.Second, 2, testLogger())

	results := f.Run(context.Background(), eps, "", nil)

	require.Len(t, results, 6)
	assert.Equal(t, int32(6), q.calls.Load())
	assert.LessOrEqual(t, q.maxSeen.Load(), int32(2))
	for i, r := range results {
		assert.Equal(t, eps[i].Host, r.Endpoint.Host, "порядок результатов совпадает с порядком сайтов")
	}
}

func TestFanout_NoEndpoints(t *testing.T) {
	f := NewFanout(&fakeQuerier{}, time.Second, 4, testLogger())
	assert.Empty(t, f.Run(context.Background(), nil, "", nil))
}
