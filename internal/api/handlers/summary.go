// summary.go — обработчики GET /api/v1/summary и GET /api/v1/clusters/{host}.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/gridmon/internal/api/errors"
	"github.com/bigkaa/gridmon/internal/api/generated"
	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/service"
)

// GetSummary — сводка загрузки сайтов.
// «Сайты не найдены» и «ни один сайт не ответил» возвращаются как 200 со статусом в теле.
func (h *APIHandler) GetSummary(w http.ResponseWriter, r *http.Request, params generated.GetSummaryParams) {
	req, err := summaryRequest(params)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	summary, err := h.summaries.ProduceSummary(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// summaryRequest переводит параметры запроса в SummaryRequest.
func summaryRequest(params generated.GetSummaryParams) (service.SummaryRequest, error) {
	req := service.SummaryRequest{View: model.ViewAll}

	if params.Schema != nil && *params.Schema != "" {
		sch, err := model.ParseSchema(*params.Schema)
		if err != nil {
			return req, err
		}
		req.Schema = sch
	}
	if params.Order != nil {
		order, err := model.ParseSortKey(string(*params.Order))
		if err != nil {
			return req, err
		}
		req.Order = order
	}
	if params.Display != nil && *params.Display != "" {
		req.View = *params.Display
	}
	if params.Debug != nil {
		if *params.Debug < 0 {
			return req, errors.New("debug не может быть отрицательным")
		}
		req.Debug = *params.Debug
	}
	if params.Lang != nil {
		req.Locale = *params.Lang
	}
	return req, nil
}

// GetCluster — детальная информация о кластере и его очередях.
func (h *APIHandler) GetCluster(w http.ResponseWriter, r *http.Request, host generated.Host, params generated.GetClusterParams) {
	var sch model.Schema
	if params.Schema != nil && *params.Schema != "" {
		var err error
		sch, err = model.ParseSchema(*params.Schema)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
	}
	port := 0
	if params.Port != nil {
		port = *params.Port
	}

	detail, err := h.clusters.DescribeCluster(r.Context(), host, port, sch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSchema), errors.Is(err, service.ErrInvalidView):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrClusterNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrClusterUnavailable):
		apierrors.ClusterUnavailable(w, err.Error())
	default:
		h.logger.Error("Ошибка обработки запроса", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
