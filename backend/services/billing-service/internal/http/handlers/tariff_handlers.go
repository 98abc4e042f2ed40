package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/service"
	"chargepay/backend/services/billing-service/internal/tariff"
)

// TariffHandlers serves tariff snapshot endpoints.
type TariffHandlers struct {
	tariffs *service.TariffService
	logger  *zap.Logger
}

func NewTariffHandlers(tariffs *service.TariffService, logger *zap.Logger) *TariffHandlers {
	return &TariffHandlers{tariffs: tariffs, logger: logger}
}

// Register handles POST /internal/tariffs.
func (h *TariffHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var def tariff.Definition
	if !decodeJSON(w, r, &def) {
		return
	}
	t, err := h.tariffs.Register(r.Context(), def)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t.Definition())
}

// Get handles GET /internal/tariffs/{id}/versions/{version}.
func (h *TariffHandlers) Get(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	t, err := h.tariffs.Snapshot(r.Context(), tariff.Ref{ID: chi.URLParam(r, "id"), Version: version})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Definition())
}

// Versions handles GET /internal/tariffs/{id}/versions.
func (h *TariffHandlers) Versions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	versions, err := h.tariffs.Versions(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"versions": versions,
	})
}
