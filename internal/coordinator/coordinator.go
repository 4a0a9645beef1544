// Package coordinator keeps the map view's three layers, its city/district
// filter and its selected location consistent with each other while fetches
// complete in any order.
//
// Every fetch is stamped when it is issued. When it completes, the result is
// applied only if the stamp still matches the coordinator's state; anything
// else is dropped. In-flight requests are never cancelled.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"airq-dashboard/internal/airq"
	"airq-dashboard/internal/layers"
	"airq-dashboard/internal/models"
	"airq-dashboard/internal/quality"

	"go.uber.org/zap"
)

var (
	// ErrSuperseded 结果已被更新的请求取代，未应用
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrUnknownLocation 当前点位列表中没有该设备
	ErrUnknownLocation = errors.New("unknown location")
)

// NoDataNotice is shown when a location query returns nothing.
const NoDataNotice = "No data for the selected area"

// Source 远端数据源（*airq.Client 实现）
type Source interface {
	MapPoints(ctx context.Context, f models.Filter) ([]models.Location, error)
	History(ctx context.Context, deviceID string, limit int) ([]models.HistoryPoint, error)
	Cities(ctx context.Context) ([]string, error)
	Districts(ctx context.Context, city string) ([]string, error)
}

// Display 渲染端；view.Board 实现。调用方可能持有协调器锁，实现不得回调协调器。
type Display interface {
	ReplaceLayers(set layers.Set)
	SetLayerAttached(kind layers.Kind, attached bool)
	ShowDetail(loc models.Location)
	ShowHistory(deviceID string, points []models.HistoryPoint)
	ShowCities(cities []string)
	ShowDistricts(city string, districts []string)
	// ShowNotice / ShowError with an empty message clear the area.
	ShowNotice(msg string)
	ShowError(msg string)
}

// Options 协调器参数
type Options struct {
	Table        quality.Table
	HistoryLimit int
}

type historyTag struct {
	seq       uint64
	selection uint64
	deviceID  string
}

// Coordinator 地图视图状态协调器
type Coordinator struct {
	source       Source
	display      Display
	table        quality.Table
	historyLimit int
	logger       *zap.Logger

	mu        sync.Mutex
	filter    models.Filter
	locations []models.Location
	visible   map[layers.Kind]bool
	selection *models.Location

	listSeq        uint64 // bumped by every list fetch and every filter change
	selectionSeq   uint64 // bumped by every Select
	historySeq     uint64
	historyApplied uint64
	districtSeq    uint64
	citySeq        uint64
	cityApplied    uint64
}

// New 创建协调器；三个图层默认可见
func New(source Source, display Display, opts Options, logger *zap.Logger) *Coordinator {
	limit := opts.HistoryLimit
	if limit < 1 {
		limit = 120
	}
	visible := make(map[layers.Kind]bool, len(layers.Kinds))
	for _, k := range layers.Kinds {
		visible[k] = true
	}
	return &Coordinator{
		source:       source,
		display:      display,
		table:        opts.Table,
		historyLimit: limit,
		logger:       logger,
		locations:    []models.Location{},
		visible:      visible,
	}
}

// SetFilter replaces the active filter and reports whether it changed. The
// district always comes from this call, so a city change without one clears
// the old district in the same update. A district without a city is dropped.
// The caller re-fetches locations when it returns true.
func (c *Coordinator) SetFilter(city, district string) bool {
	city = strings.TrimSpace(city)
	district = strings.TrimSpace(district)

	c.mu.Lock()
	defer c.mu.Unlock()

	next := models.Filter{City: city, District: district}
	if city == "" {
		next.District = ""
	}
	if next == c.filter {
		return false
	}

	if next.City != c.filter.City {
		c.districtSeq++
	}
	c.filter = next
	c.listSeq++

	c.logger.Info("Map filter changed",
		zap.String("city", next.City),
		zap.String("district", next.District),
	)
	return true
}

// LoadLocations fetches the locations matching f and, if the result is still
// current when it arrives, replaces the list and rebuilds all layers. An empty
// result only raises the no-data notice. A failure leaves the layers as they
// were and is returned as *airq.FetchError.
func (c *Coordinator) LoadLocations(ctx context.Context, f models.Filter) ([]models.Location, error) {
	c.mu.Lock()
	c.listSeq++
	tag := c.listSeq
	c.mu.Unlock()

	locs, err := c.source.MapPoints(ctx, f)

	c.mu.Lock()
	defer c.mu.Unlock()

	if tag != c.listSeq {
		c.logger.Debug("Discarding superseded location list",
			zap.Uint64("tag", tag),
			zap.Uint64("current", c.listSeq),
			zap.Bool("failed", err != nil),
		)
		return nil, ErrSuperseded
	}

	if err != nil {
		c.logger.Error("Failed to load locations",
			zap.String("city", f.City),
			zap.String("district", f.District),
			zap.Error(err),
		)
		c.display.ShowError(err.Error())
		return nil, fmt.Errorf("load locations: %w", err)
	}

	c.display.ShowError("")
	if len(locs) == 0 {
		c.logger.Info("No locations for filter",
			zap.String("city", f.City),
			zap.String("district", f.District),
		)
		c.display.ShowNotice(NoDataNotice)
		return []models.Location{}, nil
	}

	c.display.ShowNotice("")
	c.rebuildLocked(locs)
	return cloneLocations(locs), nil
}

// RebuildLayers makes locs the current list and rebuilds all three layers
// from it, then re-applies the current visibility.
func (c *Coordinator) RebuildLayers(locs []models.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildLocked(locs)
}

func (c *Coordinator) rebuildLocked(locs []models.Location) {
	c.locations = cloneLocations(locs)
	set := layers.Build(c.locations, c.table)
	c.display.ReplaceLayers(set)
	for _, k := range layers.Kinds {
		c.display.SetLayerAttached(k, c.visible[k])
	}
	c.logger.Debug("Layers rebuilt",
		zap.Int("locations", len(c.locations)),
		zap.Int("placed", set.Len()),
	)
}

// SetLayerVisible attaches or detaches one layer. Nothing is rebuilt or fetched.
func (c *Coordinator) SetLayerVisible(kind layers.Kind, visible bool) error {
	if _, err := layers.ParseKind(string(kind)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.visible[kind] = visible
	c.display.SetLayerAttached(kind, visible)
	return nil
}

// Select makes loc the selection, opens its detail panel and loads its
// history. If another Select happens before this history arrives, this
// history is dropped. History failures go to the log and the error area only.
func (c *Coordinator) Select(ctx context.Context, loc models.Location) {
	c.mu.Lock()
	sel := loc.Clone()
	c.selection = &sel
	c.selectionSeq++
	c.display.ShowDetail(sel)
	tag := c.issueHistoryLocked(sel.Key())
	c.mu.Unlock()

	c.logger.Info("Location selected", zap.String("device_id", tag.deviceID))
	c.fetchHistory(ctx, tag)
}

// SelectByID selects the location with the given device id from the current list.
func (c *Coordinator) SelectByID(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	var found *models.Location
	for i := range c.locations {
		if c.locations[i].Key() == deviceID || c.locations[i].ID == deviceID {
			loc := c.locations[i].Clone()
			found = &loc
			break
		}
	}
	c.mu.Unlock()

	if found == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLocation, deviceID)
	}
	c.Select(ctx, *found)
	return nil
}

// RefreshSelectionHistory reloads the history of the current selection. It
// does nothing when nothing is selected.
func (c *Coordinator) RefreshSelectionHistory(ctx context.Context) {
	c.mu.Lock()
	if c.selection == nil {
		c.mu.Unlock()
		return
	}
	tag := c.issueHistoryLocked(c.selection.Key())
	c.mu.Unlock()

	c.fetchHistory(ctx, tag)
}

func (c *Coordinator) issueHistoryLocked(deviceID string) historyTag {
	c.historySeq++
	return historyTag{seq: c.historySeq, selection: c.selectionSeq, deviceID: deviceID}
}

func (c *Coordinator) fetchHistory(ctx context.Context, tag historyTag) {
	points, err := c.source.History(ctx, tag.deviceID, c.historyLimit)

	c.mu.Lock()
	defer c.mu.Unlock()

	if tag.selection != c.selectionSeq || tag.seq <= c.historyApplied {
		c.logger.Debug("Discarding stale history",
			zap.String("device_id", tag.deviceID),
			zap.Uint64("tag", tag.seq),
			zap.Uint64("applied", c.historyApplied),
		)
		return
	}
	if err != nil {
		c.logger.Error("Failed to load history",
			zap.String("device_id", tag.deviceID),
			zap.Error(err),
		)
		c.display.ShowError(fmt.Sprintf("history for %s: %v", tag.deviceID, err))
		return
	}

	c.historyApplied = tag.seq
	c.display.ShowError("")
	c.display.ShowHistory(tag.deviceID, points)
}

// LoadCities fills the city dropdown. When two loads overlap, a result older
// than the one already shown is returned but not displayed.
func (c *Coordinator) LoadCities(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	c.citySeq++
	tag := c.citySeq
	c.mu.Unlock()

	cities, err := c.source.Cities(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	stale := tag <= c.cityApplied
	if err != nil {
		c.logger.Error("Failed to load cities", zap.Error(err))
		if !stale && tag == c.citySeq {
			c.display.ShowError(err.Error())
		}
		return nil, fmt.Errorf("load cities: %w", err)
	}
	if stale {
		c.logger.Debug("Discarding stale city list",
			zap.Uint64("tag", tag),
			zap.Uint64("applied", c.cityApplied),
		)
		return cities, nil
	}
	c.cityApplied = tag
	c.display.ShowCities(cities)
	return cities, nil
}

// LoadDistricts returns the districts of city and, when city is still the
// filter city and no newer district request was issued, fills the district
// dropdown. The upstream answers 404 for a city without districts; that is
// shown as an empty dropdown, not as an error.
func (c *Coordinator) LoadDistricts(ctx context.Context, city string) ([]string, error) {
	city = strings.TrimSpace(city)

	c.mu.Lock()
	c.districtSeq++
	tag := c.districtSeq
	c.mu.Unlock()

	if city == "" {
		c.mu.Lock()
		if tag == c.districtSeq && c.filter.City == "" {
			c.display.ShowDistricts("", []string{})
		}
		c.mu.Unlock()
		return []string{}, nil
	}

	districts, err := c.source.Districts(ctx, city)
	notFound := airq.IsNotFound(err)
	if notFound {
		districts, err = []string{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := tag == c.districtSeq && city == c.filter.City
	if err != nil {
		c.logger.Error("Failed to load districts", zap.String("city", city), zap.Error(err))
		if current {
			c.display.ShowError(err.Error())
		}
		return nil, fmt.Errorf("load districts: %w", err)
	}
	if current {
		c.display.ShowDistricts(city, districts)
		if notFound {
			c.display.ShowNotice(fmt.Sprintf("No districts for %s", city))
		}
	}
	return districts, nil
}

// Filter 当前筛选条件
func (c *Coordinator) Filter() models.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Selection 当前选中点位（无选中返回 nil）
func (c *Coordinator) Selection() *models.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil {
		return nil
	}
	sel := c.selection.Clone()
	return &sel
}

// Locations 当前点位列表副本
func (c *Coordinator) Locations() []models.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLocations(c.locations)
}

// Visibility 各图层可见性副本
func (c *Coordinator) Visibility() map[layers.Kind]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[layers.Kind]bool, len(c.visible))
	for k, v := range c.visible {
		out[k] = v
	}
	return out
}

func cloneLocations(locs []models.Location) []models.Location {
	out := make([]models.Location, len(locs))
	for i, l := range locs {
		out[i] = l.Clone()
	}
	return out
}
