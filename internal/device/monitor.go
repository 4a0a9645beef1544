package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"airq-dashboard/internal/models"
	"airq-dashboard/internal/quality"

	"go.uber.org/zap"
)

// Source 单设备视图使用的远端接口（*airq.Client 实现）
type Source interface {
	LatestAlert(ctx context.Context, deviceID string) (*models.AlertSnapshot, error)
	History(ctx context.Context, deviceID string, limit int) ([]models.HistoryPoint, error)
}

// Sink 单设备面板的渲染端（view.Board 实现）
type Sink interface {
	ShowDevice(p Panel)
}

// Panel 单设备视图状态
type Panel struct {
	DeviceID   string                `json:"device_id"`
	Found      bool                  `json:"found"`
	Score      *float64              `json:"score"`
	TVOC       *float64              `json:"tvoc_ppb"`
	ECO2       *float64              `json:"eco2_ppm"`
	Status     string                `json:"status"`
	Badge      quality.Badge         `json:"badge"`
	Bucket     quality.Bucket        `json:"bucket"`
	LastUpdate time.Time             `json:"last_update"`
	Raw        string                `json:"raw"`
	Error      string                `json:"error,omitempty"`
	Chart      []models.HistoryPoint `json:"chart"`
}

// Clone returns a copy of p that shares no readings.
func (p Panel) Clone() Panel {
	out := p
	out.Chart = models.CloneHistory(p.Chart)
	out.Score = clonePtr(p.Score)
	out.TVOC = clonePtr(p.TVOC)
	out.ECO2 = clonePtr(p.ECO2)
	return out
}

// Options 监视器参数
type Options struct {
	DeviceID     string
	HistoryLimit int
	Thresholds   quality.Thresholds
}

// Monitor 单设备轮询：/alerts/latest + /history
type Monitor struct {
	source Source
	sink   Sink
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	panel   Panel
	seq     uint64
	applied uint64
}

// NewMonitor 创建单设备监视器
func NewMonitor(source Source, sink Sink, opts Options, logger *zap.Logger) *Monitor {
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = 120
	}
	badge, text := quality.BadgeFor("")
	return &Monitor{
		source: source,
		sink:   sink,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		panel: Panel{
			DeviceID: opts.DeviceID,
			Status:   text,
			Badge:    badge,
			Bucket:   quality.NoData,
			Chart:    []models.HistoryPoint{},
		},
	}
}

// DeviceID 被监视的设备
func (m *Monitor) DeviceID() string { return m.opts.DeviceID }

// Panel 当前面板副本
func (m *Monitor) Panel() Panel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panel.Clone()
}

// Refresh loads the latest alert and then the history chart. On failure the
// panel keeps its previous readings and shows the error text; the error is
// also returned. A refresh that finishes after a newer one has been applied
// is dropped.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.mu.Lock()
	m.seq++
	tag := m.seq
	m.mu.Unlock()

	alert, err := m.source.LatestAlert(ctx, m.opts.DeviceID)
	var history []models.HistoryPoint
	if err == nil {
		history, err = m.source.History(ctx, m.opts.DeviceID, m.opts.HistoryLimit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if tag <= m.applied {
		m.logger.Debug("Discarding stale device refresh",
			zap.String("device_id", m.opts.DeviceID),
			zap.Uint64("tag", tag),
			zap.Uint64("applied", m.applied),
		)
		return nil
	}
	m.applied = tag

	next := m.panel.Clone()
	if alert != nil {
		m.applyAlert(&next, alert)
	}
	if err != nil {
		next.Error = err.Error()
		next.Raw = fmt.Sprintf("Error: %s", err.Error())
	} else {
		next.Error = ""
		next.Chart = models.CloneHistory(history)
	}
	m.panel = next
	m.sink.ShowDevice(next.Clone())

	if err != nil {
		return fmt.Errorf("refresh device %s: %w", m.opts.DeviceID, err)
	}
	return nil
}

func (m *Monitor) applyAlert(p *Panel, alert *models.AlertSnapshot) {
	p.LastUpdate = m.now()
	p.Found = alert.Found
	p.Score = clonePtr(alert.Score)
	p.TVOC = clonePtr(alert.TVOC)
	p.ECO2 = clonePtr(alert.ECO2)
	p.Badge, p.Status = quality.BadgeFor(alert.Status)
	p.Bucket = m.opts.Thresholds.Classify(alert.TVOC)

	raw, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		p.Raw = ""
		return
	}
	p.Raw = string(raw)
}

// Run 立即刷新一次，然后按 interval 定时刷新，直到 ctx 结束
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Starting device polling",
		zap.String("device_id", m.opts.DeviceID),
		zap.Duration("interval", interval),
	)

	if err := m.Refresh(ctx); err != nil {
		m.logger.Error("Device refresh failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Error("Device refresh failed", zap.Error(err))
			}
		}
	}
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
