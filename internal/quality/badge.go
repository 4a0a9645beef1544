package quality

import "strings"

// Badge 单设备视图状态徽标样式
type Badge string

const (
	BadgeOK   Badge = "ok"
	BadgeWarn Badge = "warn"
	BadgeHigh Badge = "high"
)

// BadgeFor maps the alert status reported by /alerts/latest to a badge and
// the text shown in it. An empty status reads as "OK".
func BadgeFor(status string) (Badge, string) {
	text := status
	if text == "" {
		text = "OK"
	}
	switch strings.ToUpper(text) {
	case "HIGH":
		return BadgeHigh, text
	case "WARN", "WARNING":
		return BadgeWarn, text
	default:
		return BadgeOK, text
	}
}
