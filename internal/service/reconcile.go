// reconcile.go — согласование «сырых» записей сайта в NormalizedSite.
// Общая арифметика накопления; разбор записей по схемам — reconcile_ng.go и reconcile_glue2.go.
package service

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

var reconcileSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lm_reconcile_skipped_total",
	Help: "Количество сайтов, пропущенных при согласовании, по причине",
}, []string{"reason"})

// Причины пропуска сайта.
const (
	SkipNoRecords     = "no_records"
	SkipNoCluster     = "no_cluster"
	SkipUnknownSchema = "unknown_schema"
)

// SkipError — сайт не может быть согласован и исключается из сводки.
type SkipError struct {
	Host   string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("сайт %s пропущен: %s", e.Host, e.Reason)
}

// Reconciler согласует записи одного сайта.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler создаёт Reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	return &Reconciler{logger: logger.With(slog.String("component", "reconciler"))}
}

// Reconcile строит сводную запись сайта и детализацию по очередям.
// Возвращает *SkipError, если у сайта нет записи кластера.
func (r *Reconciler) Reconcile(ep model.Endpoint, records []model.RawRecord) (model.ClusterDetail, error) {
	var (
		detail model.ClusterDetail
		err    error
	)
	switch {
	case len(records) == 0:
		err = &SkipError{Host: ep.Host, Reason: SkipNoRecords}
	case ep.Schema == model.SchemaNG:
		detail, err = r.reconcileNG(ep, records)
	case ep.Schema == model.SchemaGLUE2:
		detail, err = r.reconcileGLUE2(ep, records)
	default:
		err = &SkipError{Host: ep.Host, Reason: SkipUnknownSchema}
	}

	if skip, ok := err.(*SkipError); ok {
		reconcileSkippedTotal.WithLabelValues(skip.Reason).Inc()
		r.logger.Debug("Сайт исключён из сводки",
			slog.String("endpoint", ep.Address()),
			slog.String("reason", skip.Reason),
		)
	}
	return detail, err
}

// accumulator — суммы по очередям одного сайта.
type accumulator struct {
	// allQueueRunning — сумма выполняющихся задач по очередям
	allQueueRunning int
	// gridRunning — сумма грид-задач по очередям
	gridRunning int
	// gridQueued, allQueued, lrmsQueued, preQueued — корзины очередей
	gridQueued int
	allQueued  int
	lrmsQueued int
	preQueued  int
	// totalQueued — устаревший агрегат кластера (0 — не опубликован)
	totalQueued int
	// usedCPU — занятые CPU, сообщённые кластером (< 0 — не сообщено)
	usedCPU int
	// inactive — хотя бы одна очередь не в рабочем состоянии
	inactive bool
	queues   []model.QueueDetail
}

func newAccumulator() *accumulator {
	return &accumulator{usedCPU: -1}
}

// queueBuckets — корзины задач в очереди, как их публикует сайт.
type queueBuckets struct {
	grid int
	// all — устаревший общий счётчик очереди (грид + локальные)
	all  int
	lrms int
	pre  int
}

// queued возвращает корзины очереди для детализации.
func (b queueBuckets) queued() model.QueuedJobs {
	return model.QueuedJobs{Grid: b.grid + b.pre, Local: b.lrms, PreStage: b.pre}
}

// addQueue учитывает очередь в суммах сайта.
func (a *accumulator) addQueue(q model.QueueDetail, b queueBuckets) {
	a.allQueueRunning += q.Running.Total
	a.gridRunning += q.Running.Grid
	a.gridQueued += b.grid
	a.allQueued += b.all
	a.lrmsQueued += b.lrms
	a.preQueued += b.pre
	if !q.Active {
		a.inactive = true
	}
	a.queues = append(a.queues, q)
}

// finish заполняет метрики сайта из накопленных сумм.
func (a *accumulator) finish(site *model.NormalizedSite) {
	// Занятые CPU: сообщённые кластером, иначе сумма running по очередям
	allRunning := a.usedCPU
	if allRunning < 0 {
		allRunning = a.allQueueRunning
	}
	grid := min(a.gridRunning, allRunning)

	site.UsedCPU = allRunning
	site.Running = model.RunningJobs{
		Total: allRunning,
		Grid:  grid,
		Local: allRunning - grid,
	}

	// Две формулы сохраняются: устаревший агрегат totalQueued публикуют
	// только старые сайты, и для смешанных версий единой формулы нет.
	var nonGrid, trueGrid int
	if a.totalQueued != 0 {
		nonGrid = a.allQueued - a.gridQueued
		trueGrid = a.totalQueued - nonGrid
	} else {
		nonGrid = a.lrmsQueued
		trueGrid = a.gridQueued + a.preQueued
	}
	site.Queued = model.QueuedJobs{
		Grid:     clamp(trueGrid),
		Local:    clamp(nonGrid),
		PreStage: a.preQueued,
	}

	site.QueueCount = len(a.queues)
	site.HasQueueInfo = len(a.queues) > 0
	site.QueueActive = !a.inactive
}

// runningSplit строит RunningJobs очереди: grid = max(0, total − local), не больше total.
func runningSplit(total, local int) model.RunningJobs {
	total = clamp(total)
	grid := min(clamp(total-clamp(local)), total)
	return model.RunningJobs{Total: total, Grid: grid, Local: total - grid}
}

// clamp обнуляет отрицательные значения.
func clamp(n int) int {
	return max(n, 0)
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// cleanAlias убирает HTML-теги из отображаемого имени; пустое имя заменяется хостом.
func cleanAlias(alias, host string) string {
	alias = strings.TrimSpace(htmlTag.ReplaceAllString(alias, ""))
	if alias == "" {
		return host
	}
	return alias
}
