// Package layers turns a location list into the map's marker, circle and heatmap layers.
package layers

import (
	"fmt"
	"strings"

	"airq-dashboard/internal/models"
	"airq-dashboard/internal/quality"
)

// Kind 可见图层类型
type Kind string

const (
	Markers Kind = "markers"
	Circles Kind = "circles"
	Heatmap Kind = "heatmap"
)

// Kinds 全部图层，顺序固定
var Kinds = []Kind{Markers, Circles, Heatmap}

// ParseKind 解析图层名（不区分大小写）
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

// Marker 点位标记（含弹窗所需字段）
type Marker struct {
	ID         string            `json:"id"`
	DeviceID   string            `json:"device_id"`
	Name       string            `json:"name"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	City       string            `json:"city"`
	District   string            `json:"district"`
	Bucket     quality.Bucket    `json:"bucket"`
	Color      string            `json:"color"`
	Label      string            `json:"label"`
	TVOC       *float64          `json:"tvoc_ppb"`
	ECO2       *float64          `json:"eco2_ppm"`
	Temp       *float64          `json:"temperature"`
	Humidity   *float64          `json:"humidity"`
	Pressure   *float64          `json:"pressure"`
	LastUpdate *models.Timestamp `json:"last_update"`
}

// Circle 按等级着色、定半径的圆
type Circle struct {
	ID     string         `json:"id"`
	Lat    float64        `json:"lat"`
	Lon    float64        `json:"lon"`
	Radius float64        `json:"radius"`
	Color  string         `json:"color"`
	Bucket quality.Bucket `json:"bucket"`
}

// HeatPoint 热力图样本
type HeatPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Intensity float64 `json:"intensity"`
}

// Set 由同一份点位列表构建的三个图层
type Set struct {
	Markers []Marker    `json:"markers"`
	Circles []Circle    `json:"circles"`
	Heat    []HeatPoint `json:"heat"`
}

// Len 图层中的点位数（三个图层长度一致）
func (s Set) Len() int { return len(s.Markers) }

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	out := Set{
		Markers: make([]Marker, len(s.Markers)),
		Circles: append([]Circle(nil), s.Circles...),
		Heat:    append([]HeatPoint(nil), s.Heat...),
	}
	for i, m := range s.Markers {
		out.Markers[i] = m.clone()
	}
	if out.Circles == nil {
		out.Circles = []Circle{}
	}
	if out.Heat == nil {
		out.Heat = []HeatPoint{}
	}
	return out
}

// Build derives all three layers from one location list. Locations without a
// usable position are skipped in every layer, so the layers always line up.
// The result depends only on locs and table.
func Build(locs []models.Location, table quality.Table) Set {
	set := Set{
		Markers: make([]Marker, 0, len(locs)),
		Circles: make([]Circle, 0, len(locs)),
		Heat:    make([]HeatPoint, 0, len(locs)),
	}
	for _, loc := range locs {
		if !loc.HasPosition() {
			continue
		}
		lat, lon := *loc.Lat, *loc.Lon
		bucket, style := table.StyleFor(loc.TVOC)
		c := loc.Clone()

		set.Markers = append(set.Markers, Marker{
			ID:         loc.Key(),
			DeviceID:   loc.DeviceID,
			Name:       loc.Name,
			Lat:        lat,
			Lon:        lon,
			City:       loc.City,
			District:   loc.District,
			Bucket:     bucket,
			Color:      style.Color,
			Label:      style.Label,
			TVOC:       c.TVOC,
			ECO2:       c.ECO2,
			Temp:       c.Temp,
			Humidity:   c.Humidity,
			Pressure:   c.Pressure,
			LastUpdate: c.LastUpdate,
		})
		set.Circles = append(set.Circles, Circle{
			ID:     loc.Key(),
			Lat:    lat,
			Lon:    lon,
			Radius: style.Radius,
			Color:  style.Color,
			Bucket: bucket,
		})
		set.Heat = append(set.Heat, HeatPoint{Lat: lat, Lng: lon, Intensity: style.Intensity})
	}
	return set
}

func (m Marker) clone() Marker {
	loc := models.Location{
		TVOC: m.TVOC, ECO2: m.ECO2, Temp: m.Temp, Humidity: m.Humidity, Pressure: m.Pressure,
		LastUpdate: m.LastUpdate,
	}.Clone()
	m.TVOC, m.ECO2, m.Temp, m.Humidity, m.Pressure = loc.TVOC, loc.ECO2, loc.Temp, loc.Humidity, loc.Pressure
	m.LastUpdate = loc.LastUpdate
	return m
}
