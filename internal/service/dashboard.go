// Package service wires the dashboard together: remote client, view state,
// pollers, live push and the HTTP surface.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"airq-dashboard/internal/airq"
	"airq-dashboard/internal/config"
	"airq-dashboard/internal/coordinator"
	"airq-dashboard/internal/device"
	httpapi "airq-dashboard/internal/http"
	"airq-dashboard/internal/models"
	"airq-dashboard/internal/mqtt"
	"airq-dashboard/internal/quality"
	"airq-dashboard/internal/store"
	"airq-dashboard/internal/view"
	"airq-dashboard/internal/websocket"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Dashboard 空气质量看板服务
type Dashboard struct {
	config *config.Config
	logger *zap.Logger

	client  *airq.Client
	board   *view.Board
	coord   *coordinator.Coordinator
	monitor *device.Monitor
	hub     *websocket.Hub
	handler http.Handler
	server  *Server

	redisClient *redis.Client
	mqttClient  *mqtt.Client
	trigger     *mqtt.Trigger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDashboard 创建服务；启用时连接 Redis 和 MQTT
func NewDashboard(cfg *config.Config, logger *zap.Logger) (*Dashboard, error) {
	table, err := quality.NewTable(
		quality.Thresholds{Good: cfg.Quality.Thresholds.Good, Moderate: cfg.Quality.Thresholds.Moderate},
		map[quality.Bucket]string{
			quality.Good:     cfg.Quality.Colors.Good,
			quality.Moderate: cfg.Quality.Colors.Moderate,
			quality.Poor:     cfg.Quality.Colors.Poor,
			quality.NoData:   cfg.Quality.Colors.NoData,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid quality table: %w", err)
	}

	client := airq.NewClient(airq.Options{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.Key,
		Timeout: cfg.APITimeout(),
	}, logger)

	board := view.NewBoard(view.MapView{
		CenterLat: cfg.Map.CenterLat,
		CenterLon: cfg.Map.CenterLon,
		Zoom:      cfg.Map.Zoom,
	}, logger)

	coord := coordinator.New(client, board, coordinator.Options{
		Table:        table,
		HistoryLimit: cfg.Map.HistoryLimit,
	}, logger)

	monitor := device.NewMonitor(client, board, device.Options{
		DeviceID:     cfg.Device.ID,
		HistoryLimit: cfg.Device.HistoryLimit,
		Thresholds:   table.Thresholds,
	}, logger)

	hub := websocket.NewHub(logger)
	board.AddPublisher(hub)

	d := &Dashboard{
		config:  cfg,
		logger:  logger,
		client:  client,
		board:   board,
		coord:   coord,
		monitor: monitor,
		hub:     hub,
	}

	// 初始化 Redis（快照转发给其它渲染端）
	if cfg.Redis.Enabled {
		d.redisClient = store.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := store.Ping(context.Background(), d.redisClient); err != nil {
			_ = d.redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		board.AddPublisher(store.NewSnapshotStore(d.redisClient, store.Options{
			KeyPrefix: cfg.Redis.KeyPrefix,
			Stream:    cfg.Redis.Stream,
			StreamLen: cfg.Redis.StreamLen,
			TTL:       cfg.SnapshotTTL(),
		}, logger))
	}

	// 初始化 MQTT（新测量通知）
	if cfg.MQTT.Enabled {
		mc, err := mqtt.NewClient(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		if err != nil {
			d.closeRedis()
			return nil, err
		}
		d.mqttClient = mc
	}
	d.trigger = mqtt.NewTrigger(monitor, coord, logger)

	d.handler = httpapi.NewRouter(httpapi.NewHandler(httpapi.Deps{
		Map:    coord,
		Device: monitor,
		Board:  board,
		WS:     hub.ServeWS,
	}, logger), logger)
	d.server = NewServer(ServerOptions{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout(),
		IdleTimeout:       cfg.HTTPIdleTimeout(),
	}, d.handler, logger)

	return d, nil
}

// Handler HTTP 路由（测试与嵌入使用）
func (d *Dashboard) Handler() http.Handler { return d.handler }

// Start runs the background loops, loads the initial dropdown and map data,
// subscribes to MQTT when enabled and then serves HTTP until Stop.
func (d *Dashboard) Start(ctx context.Context) error {
	d.logger.Info("Starting airq-dashboard",
		zap.String("api", d.config.API.BaseURL),
		zap.String("device_id", d.config.Device.ID),
		zap.Bool("redis_enabled", d.config.Redis.Enabled),
		zap.Bool("mqtt_enabled", d.config.MQTT.Enabled),
	)

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.startLoops(ctx)
	d.bootstrap(ctx)

	if d.mqttClient != nil {
		if err := d.mqttClient.Subscribe(d.config.MQTT.Topic, d.config.MQTT.QoS, d.trigger.Handler(ctx)); err != nil {
			return err
		}
	}

	return d.server.Start()
}

func (d *Dashboard) startLoops(ctx context.Context) {
	d.goLoop(func() { d.board.Run(ctx) })
	d.goLoop(func() { d.hub.Run(ctx) })
	d.goLoop(func() { d.monitor.Run(ctx, d.config.DevicePollInterval()) })
	d.goLoop(func() { d.startSelectionPolling(ctx, d.config.MapPollInterval()) })
}

func (d *Dashboard) goLoop(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// bootstrap 首次加载城市列表与全部点位；失败只记录，页面上显示错误
func (d *Dashboard) bootstrap(ctx context.Context) {
	if _, err := d.coord.LoadCities(ctx); err != nil {
		d.logger.Error("Failed to load cities on startup", zap.Error(err))
	}
	if _, err := d.coord.LoadLocations(ctx, models.Filter{}); err != nil {
		d.logger.Error("Failed to load locations on startup", zap.Error(err))
	}
}

// startSelectionPolling 定时刷新选中点位的历史曲线；无选中时不请求
func (d *Dashboard) startSelectionPolling(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("Starting selection history polling", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.coord.RefreshSelectionHistory(ctx)
		}
	}
}

// Stop 停止 HTTP 服务与后台任务，关闭外部连接
func (d *Dashboard) Stop(ctx context.Context) error {
	d.logger.Info("Stopping airq-dashboard")

	err := d.server.Stop(ctx)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("Background loops did not stop in time")
	}

	if d.mqttClient != nil {
		d.mqttClient.Disconnect()
	}
	d.closeRedis()

	d.logger.Info("airq-dashboard stopped")
	return err
}

func (d *Dashboard) closeRedis() {
	if d.redisClient == nil {
		return
	}
	if err := d.redisClient.Close(); err != nil {
		d.logger.Error("Error closing redis connection", zap.Error(err))
	}
}
