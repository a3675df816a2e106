package service

import (
	"log/slog"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
)

// ngCluster — поля nordugrid-cluster.
type ngCluster struct {
	name        string
	alias       string
	postcode    string
	totalCPU    int
	usedCPU     int
	totalJobs   int
	totalQueued int
	preQueued   int
}

// ngClusterFromRecord разбирает запись nordugrid-cluster.
// Отсутствующий или нулевой usedcpus означает «не сообщено» (-1).
func ngClusterFromRecord(ep model.Endpoint, rec model.RawRecord) ngCluster {
	name := rec.First(schema.NGClusterName)
	if name == "" {
		name = schema.SiteName(model.SchemaNG, rec.DN)
	}
	if name == "" {
		name = ep.Host
	}
	used := rec.IntOr(schema.NGClusterUsedCPUs, 0)
	if used <= 0 {
		used = -1
	}
	return ngCluster{
		name:        name,
		alias:       rec.First(schema.NGClusterAlias),
		postcode:    rec.First(schema.NGClusterLocation),
		totalCPU:    clamp(rec.IntOr(schema.NGClusterTotalCPUs, 0)),
		usedCPU:     used,
		totalJobs:   clamp(rec.IntOr(schema.NGClusterTotalJobs, 0)),
		totalQueued: clamp(rec.IntOr(schema.NGClusterQueuedJobs, 0)),
		preQueued:   clamp(rec.IntOr(schema.NGClusterPreLRMSQueue, 0)),
	}
}

// ngQueueFromRecord разбирает запись nordugrid-queue.
// Грид-задачи сообщаются напрямую и ограничиваются общим числом выполняющихся.
func ngQueueFromRecord(rec model.RawRecord) (model.QueueDetail, queueBuckets) {
	status := rec.First(schema.NGQueueStatus)
	running := clamp(rec.IntOr(schema.NGQueueRunning, 0))
	grid := min(clamp(rec.IntOr(schema.NGQueueGridRunning, 0)), running)

	b := queueBuckets{
		grid: clamp(rec.IntOr(schema.NGQueueGridQueued, 0)),
		all:  clamp(rec.IntOr(schema.NGQueueQueued, 0)),
		lrms: clamp(rec.IntOr(schema.NGQueueLocalQueued, 0)),
		pre:  clamp(rec.IntOr(schema.NGQueuePreLRMSQueue, 0)),
	}

	cpus, known := rec.Int(schema.NGQueueTotalCPUs)
	q := model.QueueDetail{
		Name:      rec.First(schema.NGQueueName),
		Status:    status,
		Active:    status == schema.NGQueueActiveStatus,
		Running:   model.RunningJobs{Total: running, Grid: grid, Local: running - grid},
		Queued:    b.queued(),
		CPUs:      clamp(cpus),
		CPUsKnown: known && cpus >= 0,
	}
	return q, b
}

// reconcileNG согласует записи сайта схемы NorduGrid.
func (r *Reconciler) reconcileNG(ep model.Endpoint, records []model.RawRecord) (model.ClusterDetail, error) {
	var (
		cluster  *ngCluster
		clusters int
	)
	acc := newAccumulator()

	for _, rec := range records {
		switch rec.Kind {
		case model.KindCluster:
			clusters++
			if cluster == nil {
				c := ngClusterFromRecord(ep, rec)
				cluster = &c
			}
		case model.KindQueue:
			q, b := ngQueueFromRecord(rec)
			acc.addQueue(q, b)
		}
	}

	if cluster == nil {
		if len(acc.queues) > 0 {
			r.logger.Warn("Очереди без записи кластера, сайт пропущен",
				slog.String("endpoint", ep.Address()),
				slog.Int("queues", len(acc.queues)),
			)
		}
		return model.ClusterDetail{}, &SkipError{Host: ep.Host, Reason: SkipNoCluster}
	}
	if clusters > 1 {
		r.logger.Debug("Сайт публикует несколько кластеров, используется первый",
			slog.String("endpoint", ep.Address()),
			slog.Int("clusters", clusters),
		)
	}
	if cluster.preQueued != acc.preQueued {
		r.logger.Debug("prelrmsqueued кластера не совпадает с суммой по очередям",
			slog.String("cluster", cluster.name),
			slog.Int("cluster_prelrmsqueued", cluster.preQueued),
			slog.Int("queues_sum", acc.preQueued),
		)
	}

	acc.usedCPU = cluster.usedCPU
	acc.totalQueued = cluster.totalQueued

	site := model.NormalizedSite{
		Host:      ep.Host,
		Port:      ep.Port,
		Schema:    model.SchemaNG,
		Alias:     cleanAlias(cluster.alias, cluster.name),
		Country:   GuessCountry(cluster.name, cluster.postcode, ""),
		TotalCPU:  cluster.totalCPU,
		CPUSource: model.CPUReported,
		TotalJobs: cluster.totalJobs,
	}
	if site.TotalCPU == 0 {
		site.TotalCPU, site.CPUSource = derivedCPU(acc.queues)
	}
	acc.finish(&site)

	return model.ClusterDetail{Site: site, Queues: acc.queues}, nil
}

// derivedCPU суммирует CPU очередей; если хотя бы у одной очереди CPU неизвестны,
// общее число считается неизвестным.
func derivedCPU(queues []model.QueueDetail) (int, model.CPUSource) {
	total := 0
	for _, q := range queues {
		if !q.CPUsKnown {
			return 0, model.CPUUnknown
		}
		total += q.CPUs
	}
	if total == 0 {
		return 0, model.CPUUnknown
	}
	return total, model.CPUDerived
}
