package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryPoint 单条历史读数（用于图表）
type HistoryPoint struct {
	TS   Timestamp `json:"ts"`
	TVOC *float64  `json:"tvoc_ppb"`
	ECO2 *float64  `json:"eco2_ppm"`
}

// AlertSnapshot /alerts/latest 响应
type AlertSnapshot struct {
	Found    bool       `json:"found"`
	DeviceID string     `json:"device_id,omitempty"`
	TS       *Timestamp `json:"ts,omitempty"`
	Score    *float64   `json:"score"`
	Status   string     `json:"status,omitempty"`
	TVOC     *float64   `json:"tvoc_ppb"`
	ECO2     *float64   `json:"eco2_ppm"`
}

// CloneHistory copies points so callers can hold the slice without sharing readings.
func CloneHistory(points []HistoryPoint) []HistoryPoint {
	if points == nil {
		return nil
	}
	out := make([]HistoryPoint, len(points))
	for i, p := range points {
		out[i] = HistoryPoint{TS: p.TS, TVOC: clonePtr(p.TVOC), ECO2: clonePtr(p.ECO2)}
	}
	return out
}

// Timestamp decodes both RFC 3339 and the zone-less ISO-8601 datetimes the
// upstream API emits. Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses s using RFC 3339 first and then the naive layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{t}, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
