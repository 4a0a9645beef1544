// Package view holds the rendered state of both dashboards. Board is what the
// map coordinator and the device monitor draw on; browsers and other renderers
// receive copies of it as Snapshot values.
package view

import (
	"context"
	"sync"
	"time"

	"airq-dashboard/internal/device"
	"airq-dashboard/internal/layers"
	"airq-dashboard/internal/models"

	"go.uber.org/zap"
)

// MapView 地图初始中心与缩放
type MapView struct {
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	Zoom      int     `json:"zoom"`
}

// Detail 详情面板：选中点位 + 历史曲线
//
// DeviceID names the device History belongs to. It only changes when a
// history arrives, so right after a new selection (or when its history
// failed) it still names the previous device.
type Detail struct {
	Location *models.Location      `json:"location"`
	DeviceID string                `json:"device_id"`
	History  []models.HistoryPoint `json:"history"`
}

// HistoryCurrent reports whether History belongs to the selected location.
func (d Detail) HistoryCurrent() bool {
	return d.Location != nil && d.DeviceID == d.Location.Key()
}

// Snapshot 某一时刻的完整视图状态
type Snapshot struct {
	Version      uint64               `json:"version"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Map          MapView              `json:"map"`
	Layers       layers.Set           `json:"layers"`
	Attached     map[layers.Kind]bool `json:"attached"`
	Detail       Detail               `json:"detail"`
	Cities       []string             `json:"cities"`
	DistrictCity string               `json:"district_city"`
	Districts    []string             `json:"districts"`
	Notice       string               `json:"notice"`
	Error        string               `json:"error"`
	Device       device.Panel         `json:"device"`
}

// Publisher 接收视图快照的下游（WebSocket hub、Redis store）
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Board 视图状态
type Board struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	snap    Snapshot
	changed chan struct{}

	pubMu sync.Mutex
	pubs  []Publisher
}

// NewBoard 创建视图；三个图层默认挂载
func NewBoard(mapView MapView, logger *zap.Logger) *Board {
	attached := make(map[layers.Kind]bool, len(layers.Kinds))
	for _, k := range layers.Kinds {
		attached[k] = true
	}
	b := &Board{
		logger:  logger,
		now:     time.Now,
		changed: make(chan struct{}, 1),
	}
	b.snap = Snapshot{
		UpdatedAt: b.now(),
		Map:       mapView,
		Layers:    layers.Set{}.Clone(),
		Attached:  attached,
		Detail:    Detail{History: []models.HistoryPoint{}},
		Cities:    []string{},
		Districts: []string{},
		Device:    device.Panel{Chart: []models.HistoryPoint{}},
	}
	return b
}

// AddPublisher registers p for every snapshot published by Run.
func (b *Board) AddPublisher(p Publisher) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.pubs = append(b.pubs, p)
}

// update applies fn under the write lock, bumps the version and wakes Run.
func (b *Board) update(fn func(s *Snapshot)) {
	b.mu.Lock()
	fn(&b.snap)
	b.snap.Version++
	b.snap.UpdatedAt = b.now()
	b.mu.Unlock()

	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// ReplaceLayers swaps all three layers at once.
func (b *Board) ReplaceLayers(set layers.Set) {
	set = set.Clone()
	b.update(func(s *Snapshot) { s.Layers = set })
}

func (b *Board) SetLayerAttached(kind layers.Kind, attached bool) {
	b.update(func(s *Snapshot) { s.Attached[kind] = attached })
}

// ShowDetail 打开详情面板；旧的历史曲线及其 DeviceID 保留到新数据到达
func (b *Board) ShowDetail(loc models.Location) {
	loc = loc.Clone()
	b.update(func(s *Snapshot) { s.Detail.Location = &loc })
}

func (b *Board) ShowHistory(deviceID string, points []models.HistoryPoint) {
	points = models.CloneHistory(points)
	if points == nil {
		points = []models.HistoryPoint{}
	}
	b.update(func(s *Snapshot) {
		s.Detail.DeviceID = deviceID
		s.Detail.History = points
	})
}

func (b *Board) ShowCities(cities []string) {
	cities = cloneStrings(cities)
	b.update(func(s *Snapshot) { s.Cities = cities })
}

func (b *Board) ShowDistricts(city string, districts []string) {
	districts = cloneStrings(districts)
	b.update(func(s *Snapshot) {
		s.DistrictCity = city
		s.Districts = districts
	})
}

func (b *Board) ShowNotice(msg string) {
	b.update(func(s *Snapshot) { s.Notice = msg })
}

func (b *Board) ShowError(msg string) {
	b.update(func(s *Snapshot) { s.Error = msg })
}

// ShowDevice 单设备面板
func (b *Board) ShowDevice(p device.Panel) {
	p = p.Clone()
	b.update(func(s *Snapshot) { s.Device = p })
}

// Snapshot returns a deep copy of the current state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.clone()
}

// VisibleLayers returns only the attached layers; detached ones come back empty.
func (b *Board) VisibleLayers() layers.Set {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := b.snap.Layers.Clone()
	if !b.snap.Attached[layers.Markers] {
		set.Markers = []layers.Marker{}
	}
	if !b.snap.Attached[layers.Circles] {
		set.Circles = []layers.Circle{}
	}
	if !b.snap.Attached[layers.Heatmap] {
		set.Heat = []layers.HeatPoint{}
	}
	return set
}

// Run publishes the current snapshot once, then again after every change
// until ctx ends. Changes made while a publish is running are folded into the
// next one.
func (b *Board) Run(ctx context.Context) {
	b.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.changed:
			b.publish(ctx)
		}
	}
}

func (b *Board) publish(ctx context.Context) {
	b.pubMu.Lock()
	pubs := append([]Publisher(nil), b.pubs...)
	b.pubMu.Unlock()
	if len(pubs) == 0 {
		return
	}

	snap := b.Snapshot()
	for _, p := range pubs {
		if err := p.Publish(ctx, snap); err != nil {
			b.logger.Warn("Failed to publish view snapshot",
				zap.Uint64("version", snap.Version),
				zap.Error(err),
			)
		}
	}
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Layers = s.Layers.Clone()
	out.Attached = make(map[layers.Kind]bool, len(s.Attached))
	for k, v := range s.Attached {
		out.Attached[k] = v
	}
	if s.Detail.Location != nil {
		loc := s.Detail.Location.Clone()
		out.Detail.Location = &loc
	}
	out.Detail.History = models.CloneHistory(s.Detail.History)
	out.Cities = cloneStrings(s.Cities)
	out.Districts = cloneStrings(s.Districts)
	out.Device = s.Device.Clone()
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
