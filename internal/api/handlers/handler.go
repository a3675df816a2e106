// handler.go — основной обработчик API, реализующий generated.ServerInterface.
// Объединяет health и обработчики сводок, кластеров и кэша.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/service"
)

// SummaryProducer — конвейер сводок.
type SummaryProducer interface {
	ProduceSummary(ctx context.Context, req service.SummaryRequest) (*model.Summary, error)
}

// ClusterDescriber — детальный опрос одного кластера.
type ClusterDescriber interface {
	DescribeCluster(ctx context.Context, host string, port int, schema model.Schema) (*model.ClusterDetail, error)
}

// UserJobLister — задачи владельца на всех сайтах.
type UserJobLister interface {
	ListUserJobs(ctx context.Context, owner string, schema model.Schema) (*model.UserJobs, error)
}

// CacheInvalidator — сброс кэша сводок.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// APIHandler — основной обработчик API монитора загрузки.
type APIHandler struct {
	health    *HealthHandler
	summaries SummaryProducer
	clusters  ClusterDescriber
	jobs      UserJobLister
	cache     CacheInvalidator
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// cache может быть nil — тогда эндпоинт инвалидации отвечает 503.
func NewAPIHandler(
	health *HealthHandler,
	summaries SummaryProducer,
	clusters ClusterDescriber,
	cache CacheInvalidator,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		summaries: summaries,
		clusters:  clusters,
		cache:     cache,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// WithUserJobs подключает список задач пользователя (GET /api/v1/jobs).
func (h *APIHandler) WithUserJobs(jobs UserJobLister) *APIHandler {
	h.jobs = jobs
	return h
}

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
