// Package quality classifies TVOC readings into air-quality buckets and maps
// each bucket to its display style. The mappings are data, not logic: a Table
// is built once from configuration and only looked up afterwards.
package quality

import (
	"fmt"
	"math"
	"strings"
)

// Bucket 空气质量等级
type Bucket string

const (
	NoData   Bucket = "NO_DATA"
	Good     Bucket = "GOOD"
	Moderate Bucket = "MODERATE"
	Poor     Bucket = "POOR"
)

// Buckets lists every bucket in ascending severity.
var Buckets = []Bucket{NoData, Good, Moderate, Poor}

// Severity 严重程度：NO_DATA < GOOD < MODERATE < POOR
func (b Bucket) Severity() int {
	for i, c := range Buckets {
		if c == b {
			return i
		}
	}
	return -1
}

// Thresholds TVOC 分级上限（含边界）
type Thresholds struct {
	Good     float64 `json:"good"`
	Moderate float64 `json:"moderate"`
}

// DefaultThresholds 0-220 良好，220-660 中等，660 以上 差
var DefaultThresholds = Thresholds{Good: 220, Moderate: 660}

// Classify maps an optional TVOC value (ppb) to its bucket. A nil or NaN
// value is NO_DATA.
func (t Thresholds) Classify(tvoc *float64) Bucket {
	if tvoc == nil || math.IsNaN(*tvoc) {
		return NoData
	}
	v := *tvoc
	switch {
	case v <= t.Good:
		return Good
	case v <= t.Moderate:
		return Moderate
	default:
		return Poor
	}
}

// Style 单个等级的展示参数
type Style struct {
	Color     string  `json:"color"`
	Radius    float64 `json:"radius"`    // circle radius, metres
	Intensity float64 `json:"intensity"` // heatmap weight, 0..1
	Label     string  `json:"label"`
}

// Table 等级 -> 展示参数 的查找表
type Table struct {
	Thresholds Thresholds
	styles     map[Bucket]Style
}

var defaultStyles = map[Bucket]Style{
	NoData:   {Color: "#9E9E9E", Radius: 400, Intensity: 0.1, Label: "No data"},
	Good:     {Color: "#4CAF50", Radius: 800, Intensity: 0.35, Label: "Good"},
	Moderate: {Color: "#FF9800", Radius: 1200, Intensity: 0.7, Label: "Moderate"},
	Poor:     {Color: "#F44336", Radius: 1600, Intensity: 1.0, Label: "Poor"},
}

// DefaultTable returns the stock color/radius/intensity table.
func DefaultTable() Table {
	t, _ := NewTable(DefaultThresholds, nil)
	return t
}

// NewTable builds a table from thresholds and optional color overrides keyed
// by bucket. Empty overrides keep the default color.
func NewTable(th Thresholds, colors map[Bucket]string) (Table, error) {
	if th.Good >= th.Moderate {
		return Table{}, fmt.Errorf("good threshold %v must be below moderate threshold %v", th.Good, th.Moderate)
	}
	styles := make(map[Bucket]Style, len(defaultStyles))
	for b, s := range defaultStyles {
		if c := strings.TrimSpace(colors[b]); c != "" {
			s.Color = c
		}
		styles[b] = s
	}
	t := Table{Thresholds: th, styles: styles}
	if err := t.validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// radius and intensity must grow with severity
func (t Table) validate() error {
	for i := 1; i < len(Buckets); i++ {
		prev, cur := t.styles[Buckets[i-1]], t.styles[Buckets[i]]
		if cur.Radius <= prev.Radius || cur.Intensity <= prev.Intensity {
			return fmt.Errorf("style for %s must be more severe than %s", Buckets[i], Buckets[i-1])
		}
		if cur.Intensity > 1 {
			return fmt.Errorf("intensity for %s exceeds 1", Buckets[i])
		}
	}
	return nil
}

// Style returns the style of b; unknown buckets render as NO_DATA.
func (t Table) Style(b Bucket) Style {
	if s, ok := t.styles[b]; ok {
		return s
	}
	return t.styles[NoData]
}

// Classify 等价于 t.Thresholds.Classify
func (t Table) Classify(tvoc *float64) Bucket {
	return t.Thresholds.Classify(tvoc)
}

// StyleFor classifies tvoc and returns the bucket together with its style.
func (t Table) StyleFor(tvoc *float64) (Bucket, Style) {
	b := t.Classify(tvoc)
	return b, t.Style(b)
}
