package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config airq-dashboard 配置（启动时加载，运行期只读）
type Config struct {
	HTTP struct {
		Addr                string `mapstructure:"addr"`
		ReadHeaderTimeoutMS int    `mapstructure:"read_header_timeout_ms"`
		IdleTimeoutMS       int    `mapstructure:"idle_timeout_ms"`
	} `mapstructure:"http"`

	// API 远端空气质量服务
	API struct {
		BaseURL   string `mapstructure:"base_url"`
		Key       string `mapstructure:"key"` // 可选，非空时作为 x-api-key 发送
		TimeoutMS int    `mapstructure:"timeout_ms"`
	} `mapstructure:"api"`

	// Device 单设备视图
	Device struct {
		ID           string `mapstructure:"id"`
		PollMS       int    `mapstructure:"poll_ms"`
		HistoryLimit int    `mapstructure:"history_limit"`
	} `mapstructure:"device"`

	// Map 多点位地图视图
	Map struct {
		CenterLat    float64 `mapstructure:"center_lat"`
		CenterLon    float64 `mapstructure:"center_lon"`
		Zoom         int     `mapstructure:"zoom"`
		PollMS       int     `mapstructure:"poll_ms"`
		HistoryLimit int     `mapstructure:"history_limit"`
	} `mapstructure:"map"`

	Quality QualityConfig `mapstructure:"quality"`

	Redis struct {
		Enabled   bool   `mapstructure:"enabled"`
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
		Stream    string `mapstructure:"stream"`
		StreamLen int64  `mapstructure:"stream_len"`
		TTLSec    int    `mapstructure:"ttl_sec"`
	} `mapstructure:"redis"`

	MQTT struct {
		Enabled  bool   `mapstructure:"enabled"`
		Broker   string `mapstructure:"broker"`
		ClientID string `mapstructure:"client_id"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Topic    string `mapstructure:"topic"`
		QoS      byte   `mapstructure:"qos"`
	} `mapstructure:"mqtt"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// QualityConfig 颜色表与阈值表（基于 TVOC ppb）
type QualityConfig struct {
	Colors struct {
		Good     string `mapstructure:"good"`
		Moderate string `mapstructure:"moderate"`
		Poor     string `mapstructure:"poor"`
		NoData   string `mapstructure:"no_data"`
	} `mapstructure:"colors"`
	Thresholds struct {
		Good     float64 `mapstructure:"good"`
		Moderate float64 `mapstructure:"moderate"`
	} `mapstructure:"thresholds"`
}

// EnvPrefix 环境变量前缀，例如 AIRQ_API_BASE_URL
const EnvPrefix = "AIRQ"

// Load 加载配置：默认值 < 配置文件（可选） < 环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.API.Key = strings.TrimSpace(cfg.API.Key)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout_ms", 5000)
	v.SetDefault("http.idle_timeout_ms", 60000)

	v.SetDefault("api.base_url", "http://127.0.0.1:8000")
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout_ms", 10000)

	v.SetDefault("device.id", "node-001")
	v.SetDefault("device.poll_ms", 5000)
	v.SetDefault("device.history_limit", 120)

	// Kayseri
	v.SetDefault("map.center_lat", 38.7312)
	v.SetDefault("map.center_lon", 35.4787)
	v.SetDefault("map.zoom", 7)
	v.SetDefault("map.poll_ms", 5000)
	v.SetDefault("map.history_limit", 120)

	v.SetDefault("quality.colors.good", "#4CAF50")
	v.SetDefault("quality.colors.moderate", "#FF9800")
	v.SetDefault("quality.colors.poor", "#F44336")
	v.SetDefault("quality.colors.no_data", "#9E9E9E")
	v.SetDefault("quality.thresholds.good", 220)
	v.SetDefault("quality.thresholds.moderate", 660)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "airq-dashboard")
	v.SetDefault("redis.stream", "airq-dashboard:changes")
	v.SetDefault("redis.stream_len", 1000)
	v.SetDefault("redis.ttl_sec", 60)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "airq-dashboard")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "airq/measurements")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate 校验加载后的配置
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if strings.TrimSpace(c.Device.ID) == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if c.Device.PollMS <= 0 {
		errs = append(errs, fmt.Errorf("device.poll_ms must be positive, got %d", c.Device.PollMS))
	}
	if c.Map.PollMS <= 0 {
		errs = append(errs, fmt.Errorf("map.poll_ms must be positive, got %d", c.Map.PollMS))
	}
	if c.Device.HistoryLimit < 1 || c.Map.HistoryLimit < 1 {
		errs = append(errs, errors.New("history_limit must be at least 1"))
	}
	if c.Quality.Thresholds.Good >= c.Quality.Thresholds.Moderate {
		errs = append(errs, fmt.Errorf("quality.thresholds.good (%v) must be below quality.thresholds.moderate (%v)",
			c.Quality.Thresholds.Good, c.Quality.Thresholds.Moderate))
	}
	return errors.Join(errs...)
}

// HTTPReadHeaderTimeout / HTTPIdleTimeout HTTP 服务超时
func (c *Config) HTTPReadHeaderTimeout() time.Duration {
	return time.Duration(c.HTTP.ReadHeaderTimeoutMS) * time.Millisecond
}

func (c *Config) HTTPIdleTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleTimeoutMS) * time.Millisecond
}

// APITimeout 请求超时
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutMS) * time.Millisecond
}

// DevicePollInterval 单设备视图轮询间隔
func (c *Config) DevicePollInterval() time.Duration {
	return time.Duration(c.Device.PollMS) * time.Millisecond
}

// MapPollInterval 地图视图选中点位历史刷新间隔
func (c *Config) MapPollInterval() time.Duration {
	return time.Duration(c.Map.PollMS) * time.Millisecond
}

// SnapshotTTL Redis 快照过期时间
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}
