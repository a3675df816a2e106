// jobs.go — обработчик GET /api/v1/jobs.
package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/bigkaa/gridmon/internal/api/errors"
	"github.com/bigkaa/gridmon/internal/api/generated"
	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/service"
)

// GetUserJobs — задачи владельца на всех обнаруженных сайтах.
func (h *APIHandler) GetUserJobs(w http.ResponseWriter, r *http.Request, params generated.GetUserJobsParams) {
	if h.jobs == nil {
		apierrors.ServiceUnavailable(w, "Список задач не настроен")
		return
	}

	var sch model.Schema
	if params.Schema != nil && *params.Schema != "" {
		var err error
		sch, err = model.ParseSchema(*params.Schema)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
	}

	jobs, err := h.jobs.ListUserJobs(r.Context(), params.Owner, sch)
	if err != nil {
		if errors.Is(err, service.ErrInvalidOwner) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}
