// Package mqtt listens for "new measurement" announcements from the ingest
// side and refreshes whatever part of the dashboard shows that device.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"airq-dashboard/internal/models"

	"go.uber.org/zap"
)

// Announcement 新测量通知
type Announcement struct {
	DeviceID string            `json:"device_id"`
	TS       *models.Timestamp `json:"ts"`
}

// DeviceRefresher 单设备视图（*device.Monitor）
type DeviceRefresher interface {
	DeviceID() string
	Refresh(ctx context.Context) error
}

// SelectionRefresher 地图视图（*coordinator.Coordinator）
type SelectionRefresher interface {
	Selection() *models.Location
	RefreshSelectionHistory(ctx context.Context)
}

// Trigger 把通知转换为刷新；两个目标都可以为 nil
type Trigger struct {
	device    DeviceRefresher
	selection SelectionRefresher
	logger    *zap.Logger
}

// NewTrigger 创建触发器
func NewTrigger(device DeviceRefresher, selection SelectionRefresher, logger *zap.Logger) *Trigger {
	return &Trigger{device: device, selection: selection, logger: logger}
}

// Handler adapts Handle to the subscription callback, using ctx for every refresh.
func (t *Trigger) Handler(ctx context.Context) MessageHandler {
	return func(topic string, payload []byte) error {
		return t.Handle(ctx, topic, payload)
	}
}

// Handle parses one announcement (an object or an array of objects) and
// refreshes the device view and/or the selected location's history when the
// announced device is shown there. Each view is refreshed at most once per
// message.
func (t *Trigger) Handle(ctx context.Context, topic string, payload []byte) error {
	anns, err := ParseAnnouncements(payload)
	if err != nil {
		return fmt.Errorf("topic %s: %w", topic, err)
	}

	announced := make(map[string]bool, len(anns))
	for _, a := range anns {
		announced[a.DeviceID] = true
	}

	var errs []error
	if t.device != nil && announced[t.device.DeviceID()] {
		t.logger.Debug("New measurement for monitored device", zap.String("device_id", t.device.DeviceID()))
		if err := t.device.Refresh(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.selection != nil {
		if sel := t.selection.Selection(); sel != nil && announced[sel.Key()] {
			t.logger.Debug("New measurement for selected location", zap.String("device_id", sel.Key()))
			t.selection.RefreshSelectionHistory(ctx)
		}
	}
	return errors.Join(errs...)
}

// ParseAnnouncements decodes a payload. Entries without a device id are
// rejected.
func ParseAnnouncements(payload []byte) ([]Announcement, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	var anns []Announcement
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &anns); err != nil {
			return nil, fmt.Errorf("invalid announcement list: %w", err)
		}
	} else {
		var a Announcement
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("invalid announcement: %w", err)
		}
		anns = []Announcement{a}
	}

	for i := range anns {
		anns[i].DeviceID = strings.TrimSpace(anns[i].DeviceID)
		if anns[i].DeviceID == "" {
			return nil, fmt.Errorf("announcement %d: missing device_id", i)
		}
	}
	return anns, nil
}
