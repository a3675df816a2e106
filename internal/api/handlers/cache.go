// cache.go — обработчик POST /api/v1/cache/invalidate.
// Авторизация: RequireRoleOrScope (admin / scope оператора) — на уровне middleware.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/gridmon/internal/api/errors"
	"github.com/bigkaa/gridmon/internal/api/middleware"
)

// InvalidateCache очищает кэш сводок (память и общее хранилище).
func (h *APIHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		apierrors.ServiceUnavailable(w, "Эндпоинты оператора отключены: не задан LM_JWT_JWKS_URL")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("Ошибка очистки кэша", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось очистить кэш")
		return
	}

	h.logger.Info("Кэш сводок очищен",
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}
