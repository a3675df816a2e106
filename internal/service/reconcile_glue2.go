package service

import (
	"log/slog"
	"strings"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
)

// glue2Service — поля ComputingService.
type glue2Service struct {
	name      string
	alias     string
	totalJobs int
	preQueued int
}

func glue2ServiceFromRecord(ep model.Endpoint, rec model.RawRecord) glue2Service {
	name := schema.SiteName(model.SchemaGLUE2, rec.DN)
	if name == "" {
		name = ep.Host
	}
	return glue2Service{
		name:      name,
		alias:     rec.First(schema.GLUE2EntityName),
		totalJobs: clamp(rec.IntOr(schema.GLUE2ServiceTotalJobs, 0)),
		preQueued: clamp(rec.IntOr(schema.GLUE2ServicePreLRMSWaiting, 0)),
	}
}

// glue2Manager — CPU-счётчики ComputingManager.
type glue2Manager struct {
	totalCPU int
	// usedCPU < 0 — не сообщено
	usedCPU int
}

// glue2ManagerFromRecord разбирает ComputingManager.
// Занятые слоты — сумма слотов грид- и локальных задач; ноль означает «не сообщено».
func glue2ManagerFromRecord(rec model.RawRecord) glue2Manager {
	m := glue2Manager{
		totalCPU: clamp(rec.IntOr(schema.GLUE2ManagerTotalLogicalCPUs, 0)),
		usedCPU:  -1,
	}
	gridSlots, okGrid := rec.Int(schema.GLUE2ManagerSlotsUsedGrid)
	localSlots, okLocal := rec.Int(schema.GLUE2ManagerSlotsUsedLocal)
	if okGrid || okLocal {
		if used := clamp(gridSlots) + clamp(localSlots); used > 0 {
			m.usedCPU = used
		}
	}
	return m
}

// glue2Share — ComputingShare до соединения с окружениями исполнения.
type glue2Share struct {
	detail  model.QueueDetail
	buckets queueBuckets
	envKeys []string
}

// glue2ShareFromRecord разбирает ComputingShare.
// Возвращает ok=false для долей, не совпадающих со своей очередью LRMS:
// учитывается одна доля на очередь.
func glue2ShareFromRecord(rec model.RawRecord) (glue2Share, bool) {
	name := rec.First(schema.GLUE2EntityName)
	if rec.Has(schema.GLUE2ShareMappingQueue) && rec.First(schema.GLUE2ShareMappingQueue) != name {
		return glue2Share{}, false
	}

	state := rec.First(schema.GLUE2ShareServingState)
	waiting := clamp(rec.IntOr(schema.GLUE2ShareWaiting, 0))
	localWaiting := clamp(rec.IntOr(schema.GLUE2ShareLocalWaiting, 0))

	// Грид-задачи в GLUE2 не публикуются: grid = max(0, всего − локальные)
	b := queueBuckets{
		grid: clamp(waiting - localWaiting),
		all:  waiting,
		lrms: localWaiting,
		pre:  clamp(rec.IntOr(schema.GLUE2SharePreLRMSWaiting, 0)),
	}

	return glue2Share{
		detail: model.QueueDetail{
			Name:   name,
			Status: state,
			Active: state == schema.GLUE2ShareActiveState,
			Running: runningSplit(
				rec.IntOr(schema.GLUE2ShareRunning, 0),
				rec.IntOr(schema.GLUE2ShareLocalRunning, 0),
			),
			Queued: b.queued(),
		},
		buckets: b,
		envKeys: rec.Values(schema.GLUE2ShareExecEnvForeignK),
	}, true
}

// glue2ExecEnv — CPU одного окружения исполнения.
type glue2ExecEnv struct {
	cpus  int
	known bool
}

// glue2ExecEnvFromRecord возвращает идентификатор окружения и его CPU:
// TotalInstances × LogicalCPUs (LogicalCPUs по умолчанию 1).
func glue2ExecEnvFromRecord(rec model.RawRecord) (string, glue2ExecEnv) {
	id := rec.First(schema.GLUE2ResourceID)
	if id == "" {
		id = firstRDNValue(rec.DN)
	}
	instances, ok := rec.Int(schema.GLUE2ExecEnvTotalInstances)
	if !ok || instances < 0 {
		return id, glue2ExecEnv{}
	}
	logical := rec.IntOr(schema.GLUE2ExecEnvLogicalCPUs, 1)
	if logical <= 0 {
		logical = 1
	}
	return id, glue2ExecEnv{cpus: instances * logical, known: true}
}

// reconcileGLUE2 согласует записи сайта схемы GLUE2.
func (r *Reconciler) reconcileGLUE2(ep model.Endpoint, records []model.RawRecord) (model.ClusterDetail, error) {
	var (
		service  *glue2Service
		manager  *glue2Manager
		services int
		postcode string
		country  string
		shares   []glue2Share
	)
	envs := make(map[string]glue2ExecEnv)

	for _, rec := range records {
		switch rec.Kind {
		case model.KindCluster:
			services++
			if service == nil {
				s := glue2ServiceFromRecord(ep, rec)
				service = &s
			}
		case model.KindManager:
			if manager == nil {
				m := glue2ManagerFromRecord(rec)
				manager = &m
			}
		case model.KindQueue:
			if sh, ok := glue2ShareFromRecord(rec); ok {
				shares = append(shares, sh)
			}
		case model.KindLocation:
			if v := rec.First(schema.GLUE2LocationPostCode); v != "" {
				postcode = v
			}
			if v := rec.First(schema.GLUE2LocationCountry); v != "" {
				country = v
			}
		case model.KindExecEnv:
			id, env := glue2ExecEnvFromRecord(rec)
			if id != "" {
				envs[strings.ToLower(id)] = env
			}
		}
	}

	if service == nil {
		if len(shares) > 0 {
			r.logger.Warn("Доли без записи ComputingService, сайт пропущен",
				slog.String("endpoint", ep.Address()),
				slog.Int("shares", len(shares)),
			)
		}
		return model.ClusterDetail{}, &SkipError{Host: ep.Host, Reason: SkipNoCluster}
	}
	if services > 1 {
		r.logger.Debug("Сайт публикует несколько ComputingService, используется первый",
			slog.String("endpoint", ep.Address()),
			slog.Int("services", services),
		)
	}

	acc := newAccumulator()
	for _, sh := range shares {
		sh.detail.CPUs, sh.detail.CPUsKnown = joinExecEnvs(sh.envKeys, envs)
		acc.addQueue(sh.detail, sh.buckets)
	}

	site := model.NormalizedSite{
		Host:      ep.Host,
		Port:      ep.Port,
		Schema:    model.SchemaGLUE2,
		Alias:     cleanAlias(service.alias, service.name),
		Country:   GuessCountry(service.name, postcode, country),
		CPUSource: model.CPUUnknown,
		TotalJobs: service.totalJobs,
	}
	if manager != nil {
		acc.usedCPU = manager.usedCPU
		if manager.totalCPU > 0 {
			site.TotalCPU = manager.totalCPU
			site.CPUSource = model.CPUReported
		}
	} else {
		r.logger.Debug("Сайт не публикует ComputingManager",
			slog.String("endpoint", ep.Address()),
		)
	}
	if site.TotalCPU == 0 {
		if total := sumExecEnvs(envs); total > 0 {
			site.TotalCPU = total
			site.CPUSource = model.CPUDerived
		}
	}
	acc.finish(&site)

	return model.ClusterDetail{Site: site, Queues: acc.queues}, nil
}

// joinExecEnvs суммирует CPU окружений, на которые ссылается доля.
// Несовпавший ключ или доля без ключей дают «неизвестно», а не ноль.
func joinExecEnvs(keys []string, envs map[string]glue2ExecEnv) (int, bool) {
	if len(keys) == 0 {
		return 0, false
	}
	total := 0
	for _, k := range keys {
		env, ok := envs[strings.ToLower(k)]
		if !ok || !env.known {
			return 0, false
		}
		total += env.cpus
	}
	return total, true
}

func sumExecEnvs(envs map[string]glue2ExecEnv) int {
	total := 0
	for _, env := range envs {
		if env.known {
			total += env.cpus
		}
	}
	return total
}

// firstRDNValue — значение первого RDN (GLUE2ResourceID=<id>,...).
func firstRDNValue(dn string) string {
	first, _, _ := strings.Cut(dn, ",")
	_, value, ok := strings.Cut(first, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
