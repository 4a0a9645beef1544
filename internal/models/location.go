package models

import "math"

// Location 地图上的一个测量点位（对应 /map/points 中的一项）
// 读数字段为 nil 表示"无数据"，不得以 0 代替
type Location struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Name       string     `json:"name"`
	Lat        *float64   `json:"lat"`
	Lon        *float64   `json:"lon"`
	City       string     `json:"city"`
	District   string     `json:"district"`
	TVOC       *float64   `json:"tvoc_ppb"`
	ECO2       *float64   `json:"eco2_ppm"`
	Temp       *float64   `json:"temperature"`
	Humidity   *float64   `json:"humidity"`
	Pressure   *float64   `json:"pressure"`
	Score      *float64   `json:"score"`
	Status     string     `json:"status,omitempty"`
	LastUpdate *Timestamp `json:"last_update"`
}

// HasPosition reports whether the location can be placed on the map.
func (l Location) HasPosition() bool {
	if l.Lat == nil || l.Lon == nil {
		return false
	}
	lat, lon := *l.Lat, *l.Lon
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Key 点位标识；后端 id 与 device_id 相同，缺省时退回 device_id
func (l Location) Key() string {
	if l.DeviceID != "" {
		return l.DeviceID
	}
	return l.ID
}

// Clone returns a copy that shares no pointers with l.
func (l Location) Clone() Location {
	out := l
	out.Lat = clonePtr(l.Lat)
	out.Lon = clonePtr(l.Lon)
	out.TVOC = clonePtr(l.TVOC)
	out.ECO2 = clonePtr(l.ECO2)
	out.Temp = clonePtr(l.Temp)
	out.Humidity = clonePtr(l.Humidity)
	out.Pressure = clonePtr(l.Pressure)
	out.Score = clonePtr(l.Score)
	if l.LastUpdate != nil {
		ts := *l.LastUpdate
		out.LastUpdate = &ts
	}
	return out
}

// Filter 城市/区县筛选；District 只在 City 非空时有意义
type Filter struct {
	City     string `json:"city"`
	District string `json:"district"`
}

// IsEmpty 无筛选条件（即全部点位）
func (f Filter) IsEmpty() bool {
	return f.City == "" && f.District == ""
}

// Float returns a pointer to v. Handy for building readings in tests and fixtures.
func Float(v float64) *float64 { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
