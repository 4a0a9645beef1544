package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter 注册全部路由
func NewRouter(h *Handler, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/view", h.GetView)
		r.Get("/view/layers", h.GetVisibleLayers)

		r.Post("/filter", h.SetFilter)
		r.Post("/layers/{kind}", h.SetLayerVisible)

		r.Post("/selection/refresh", h.RefreshSelection)
		r.Post("/selection/{deviceID}", h.Select)

		r.Get("/cities", h.GetCities)
		r.Get("/districts", h.GetDistricts)

		r.Get("/device", h.GetDevice)
		r.Post("/device/refresh", h.RefreshDevice)

		r.Get("/history/export", h.ExportHistory)
	})

	if h.ws != nil {
		r.Get("/ws", h.ws)
	} else {
		r.Get("/ws", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, Fail("live updates disabled"))
		})
	}
	return r
}
