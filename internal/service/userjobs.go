// userjobs.go — задачи одного владельца на всех сайтах.
// Обнаружение и параллельный опрос те же, что у сводки; результат не кэшируется.
package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
)

var userJobsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lm_user_jobs_requests_total",
	Help: "Количество запросов списка задач пользователя по итоговому статусу",
}, []string{"status"})

// UserJobService — список задач пользователя.
type UserJobService struct {
	resolver      EndpointResolver
	fanout        *Fanout
	defaultSchema model.Schema
	logger        *slog.Logger
}

// NewUserJobService создаёт UserJobService.
func NewUserJobService(resolver EndpointResolver, fanout *Fanout, defaultSchema model.Schema, logger *slog.Logger) *UserJobService {
	return &UserJobService{
		resolver:      resolver,
		fanout:        fanout,
		defaultSchema: defaultSchema,
		logger:        logger.With(slog.String("component", "userjobs")),
	}
}

// ListUserJobs опрашивает все обнаруженные сайты и возвращает задачи владельца
// (DN сертификата), упорядоченные по времени постановки.
// Для NG в ответ входят также очереди, к которым владелец допущен.
// «Нет сайтов» и «ни один сайт не ответил» — статусы результата, а не ошибки.
func (s *UserJobService) ListUserJobs(ctx context.Context, owner string, sch model.Schema) (*model.UserJobs, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrInvalidOwner
	}
	if sch == "" {
		sch = s.defaultSchema
	}
	if sch != model.SchemaNG && sch != model.SchemaGLUE2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchema, sch)
	}

	start := time.Now()
	out := &model.UserJobs{
		Owner:  owner,
		Schema: sch,
		Queues: []model.UserQueue{},
		Jobs:   []model.Job{},
	}

	res := s.resolver.Resolve(ctx, sch)
	out.Resolved = res.Candidates
	switch {
	case res.Candidates == 0:
		return s.finish(out, model.StatusNoSitesFound), nil
	case len(res.Endpoints) == 0:
		return s.finish(out, model.StatusNoSitesReplied), nil
	}

	results := s.fanout.Run(ctx, res.Endpoints, schema.UserJobsFilter(sch, owner), schema.UserJobsAttributes())
	for _, r := range results {
		if r.Err != nil {
			out.Failed++
			continue
		}
		out.Replied++

		authorized := false
		for _, rec := range r.Records {
			switch rec.Kind {
			case model.KindAuthUser:
				out.Queues = append(out.Queues, userQueueFromRecord(r.Endpoint, rec))
				authorized = true
			case model.KindJob:
				out.Jobs = append(out.Jobs, jobFromRecord(r.Endpoint, rec))
			}
		}
		if authorized {
			out.AuthorizedSites++
		}
	}

	slices.SortStableFunc(out.Jobs, func(a, b model.Job) int {
		return cmp.Compare(a.SubmissionTime, b.SubmissionTime)
	})

	status := model.StatusOK
	switch {
	case out.Replied == 0:
		status = model.StatusNoSitesReplied
	case out.Failed > 0:
		status = model.StatusPartial
	}

	s.logger.Debug("Задачи пользователя собраны",
		slog.String("schema", string(sch)),
		slog.Int("replied", out.Replied),
		slog.Int("failed", out.Failed),
		slog.Int("jobs", len(out.Jobs)),
		slog.Duration("duration", time.Since(start)),
	)
	return s.finish(out, status), nil
}

func (s *UserJobService) finish(out *model.UserJobs, status model.SummaryStatus) *model.UserJobs {
	out.Status = status
	out.GeneratedAt = time.Now()
	userJobsRequestsTotal.WithLabelValues(string(status)).Inc()
	return out
}

// jobFromRecord разбирает запись задачи.
// Кластер и очередь NG берутся из атрибутов исполнения, иначе из DN.
func jobFromRecord(ep model.Endpoint, rec model.RawRecord) model.Job {
	job := model.Job{Host: ep.Host, Port: ep.Port}

	if ep.Schema == model.SchemaGLUE2 {
		job.ID = schema.RDNValue(rec.DN, schema.GLUE2ActivityID)
		job.Name = rec.First(schema.GLUE2ActivityName)
		job.Status = glue2State(rec.Values(schema.GLUE2ActivityState))
		job.Cluster = ep.Host
		job.Queue = rec.First(schema.GLUE2ActivityQueue)
		job.SubmissionTime = rec.First(schema.GLUE2ActivitySubmissionTime)
		job.UsedWallTime = -1
		if secs, ok := rec.Int(schema.GLUE2ActivityUsedWallTime); ok {
			job.UsedWallTime = secs / 60
		}
		job.CPUs = rec.IntOr(schema.GLUE2ActivitySlots, 0)
		job.Error = rec.First(schema.GLUE2ActivityError)
	} else {
		job.ID = schema.RDNValue(rec.DN, schema.NGJobGlobalID)
		job.Name = rec.First(schema.NGJobName)
		job.Status = rec.First(schema.NGJobStatus)
		job.Cluster = cmp.Or(rec.First(schema.NGJobExecCluster), schema.RDNValue(rec.DN, schema.NGClusterName), ep.Host)
		job.Queue = cmp.Or(rec.First(schema.NGJobExecQueue), schema.RDNValue(rec.DN, schema.NGQueueName))
		job.SubmissionTime = rec.First(schema.NGJobSubmissionTime)
		job.UsedWallTime = rec.IntOr(schema.NGJobUsedWallTime, -1)
		job.CPUs = rec.IntOr(schema.NGJobCPUCount, 0)
		job.Error = rec.First(schema.NGJobErrors)
	}

	job.Error = strings.TrimSpace(job.Error)
	if job.Error != "" {
		job.Failure = model.FailureSite
		if strings.Contains(strings.ToLower(job.Error), "user") {
			job.Failure = model.FailureUser
		}
	}
	return job
}

// glue2State выбирает состояние задачи: значение в пространстве nordugrid,
// иначе первое опубликованное.
func glue2State(states []string) string {
	for _, st := range states {
		if v, ok := strings.CutPrefix(st, "nordugrid:"); ok {
			return v
		}
	}
	if len(states) > 0 {
		return states[0]
	}
	return ""
}

// userQueueFromRecord разбирает запись допуска пользователя к очереди.
func userQueueFromRecord(ep model.Endpoint, rec model.RawRecord) model.UserQueue {
	return model.UserQueue{
		Host:        ep.Host,
		Port:        ep.Port,
		Cluster:     cmp.Or(schema.RDNValue(rec.DN, schema.NGClusterName), ep.Host),
		Queue:       schema.RDNValue(rec.DN, schema.NGQueueName),
		FreeCPUs:    rec.First(schema.NGAuthUserFreeCPUs),
		QueueLength: rec.IntOr(schema.NGAuthUserQueueLength, 0),
		DiskSpace:   rec.IntOr(schema.NGAuthUserDiskSpace, 0),
	}
}
