// Package httpapi is the JSON surface the browser page talks to.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"airq-dashboard/internal/coordinator"
	"airq-dashboard/internal/device"
	"airq-dashboard/internal/export"
	"airq-dashboard/internal/layers"
	"airq-dashboard/internal/models"
	"airq-dashboard/internal/view"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MapView 地图视图操作（*coordinator.Coordinator）
type MapView interface {
	SetFilter(city, district string) bool
	Filter() models.Filter
	LoadLocations(ctx context.Context, f models.Filter) ([]models.Location, error)
	SetLayerVisible(kind layers.Kind, visible bool) error
	SelectByID(ctx context.Context, deviceID string) error
	RefreshSelectionHistory(ctx context.Context)
	LoadCities(ctx context.Context) ([]string, error)
	LoadDistricts(ctx context.Context, city string) ([]string, error)
}

// DeviceView 单设备视图（*device.Monitor）
type DeviceView interface {
	Panel() device.Panel
	Refresh(ctx context.Context) error
}

// BoardView 视图状态（*view.Board）
type BoardView interface {
	Snapshot() view.Snapshot
	VisibleLayers() layers.Set
}

// Deps 处理器依赖
type Deps struct {
	Map    MapView
	Device DeviceView
	Board  BoardView
	// WS 为 nil 时 /ws 返回 503
	WS http.HandlerFunc
}

// Handler HTTP 处理器
type Handler struct {
	mapView MapView
	device  DeviceView
	board   BoardView
	ws      http.HandlerFunc
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler 创建处理器
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		mapView: deps.Map,
		device:  deps.Device,
		board:   deps.Board,
		ws:      deps.WS,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
}

func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.board.Snapshot()))
}

func (h *Handler) GetVisibleLayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.board.VisibleLayers()))
}

// FilterRequest POST /api/v1/filter
type FilterRequest struct {
	City     string `json:"city"`
	District string `json:"district"`
}

// FilterResponse 筛选结果
type FilterResponse struct {
	Changed bool          `json:"changed"`
	Filter  models.Filter `json:"filter"`
	View    view.Snapshot `json:"view"`
}

// SetFilter applies the filter and, when it changed, reloads the district
// dropdown (city change only) and the locations.
func (h *Handler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	prev := h.mapView.Filter()
	changed := h.mapView.SetFilter(req.City, req.District)
	current := h.mapView.Filter()

	if changed {
		if current.City != prev.City {
			if _, err := h.mapView.LoadDistricts(r.Context(), current.City); err != nil {
				h.logger.Warn("District reload after filter change failed", zap.Error(err))
			}
		}
		if _, err := h.mapView.LoadLocations(r.Context(), current); err != nil && !errors.Is(err, coordinator.ErrSuperseded) {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, Ok(FilterResponse{
		Changed: changed,
		Filter:  current,
		View:    h.board.Snapshot(),
	}))
}

// LayerRequest POST /api/v1/layers/{kind}
type LayerRequest struct {
	Visible *bool `json:"visible"`
}

func (h *Handler) SetLayerVisible(w http.ResponseWriter, r *http.Request) {
	kind, err := layers.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	var req LayerRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || req.Visible == nil {
		writeJSON(w, http.StatusBadRequest, Fail("body must be {\"visible\": true|false}"))
		return
	}
	if err := h.mapView.SetLayerVisible(kind, *req.Visible); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.board.VisibleLayers()))
}

// Select selects a location from the current list and waits for its history.
// History failures show up in the snapshot's error field, not as a failed call.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(chi.URLParam(r, "deviceID"))
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device id is required"))
		return
	}
	if err := h.mapView.SelectByID(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.board.Snapshot()))
}

func (h *Handler) RefreshSelection(w http.ResponseWriter, r *http.Request) {
	h.mapView.RefreshSelectionHistory(r.Context())
	writeJSON(w, http.StatusOK, Ok(h.board.Snapshot()))
}

func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.mapView.LoadCities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(cities))
}

func (h *Handler) GetDistricts(w http.ResponseWriter, r *http.Request) {
	districts, err := h.mapView.LoadDistricts(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(districts))
}

func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.device.Panel()))
}

// RefreshDevice 手动刷新按钮
func (h *Handler) RefreshDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.device.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.device.Panel()))
}

// ExportHistory downloads a chart as .xlsx. source=device exports the
// single-device chart; the default is the map detail panel's chart, which is
// only exported once it belongs to the selected location.
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	var (
		deviceID string
		points   []models.HistoryPoint
	)
	switch source := r.URL.Query().Get("source"); source {
	case "device":
		p := h.device.Panel()
		deviceID, points = p.DeviceID, p.Chart
	case "", "detail":
		detail := h.board.Snapshot().Detail
		if detail.Location == nil {
			writeJSON(w, http.StatusNotFound, Fail("no location selected"))
			return
		}
		if !detail.HistoryCurrent() {
			writeJSON(w, http.StatusConflict, Fail(fmt.Sprintf("history for %s not loaded", detail.Location.Key())))
			return
		}
		deviceID, points = detail.DeviceID, detail.History
	default:
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("unknown source %q", source)))
		return
	}

	data, err := export.HistoryWorkbook(deviceID, points)
	if err != nil {
		h.logger.Error("Failed to build history workbook", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(deviceID, h.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
