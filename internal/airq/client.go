package airq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airq-dashboard/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FetchError 远端请求失败（非 2xx、网络错误或响应不是 JSON）
// Status 为 0 表示请求未得到 HTTP 响应
type FetchError struct {
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%d %s for %s: %v", e.Status, http.StatusText(e.Status), e.URL, e.Err)
	}
	return fmt.Sprintf("%d %s for %s", e.Status, http.StatusText(e.Status), e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a FetchError with status 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == 404
}

// Options 客户端参数
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client 远端空气质量 API 客户端
type Client struct {
	httpClient *resty.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient 创建客户端；不做重试，下一次轮询或用户操作即为恢复手段
func NewClient(opts Options, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		client.SetHeader("x-api-key", key)
	}
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		r.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})

	return &Client{
		httpClient: client,
		baseURL:    baseURL,
		logger:     logger,
	}
}

type historyResponse struct {
	DeviceID string                `json:"device_id"`
	Count    int                   `json:"count"`
	Items    []models.HistoryPoint `json:"items"`
}

type mapPointsResponse struct {
	Points []models.Location `json:"points"`
}

type citiesResponse struct {
	Cities []string `json:"cities"`
}

type districtsResponse struct {
	City      string   `json:"city"`
	Districts []string `json:"districts"`
}

// LatestAlert GET /alerts/latest?device_id=
func (c *Client) LatestAlert(ctx context.Context, deviceID string) (*models.AlertSnapshot, error) {
	var out models.AlertSnapshot
	if err := c.get(ctx, "/alerts/latest", map[string]string{"device_id": deviceID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History GET /history?device_id=&limit=
func (c *Client) History(ctx context.Context, deviceID string, limit int) ([]models.HistoryPoint, error) {
	var out historyResponse
	params := map[string]string{"device_id": deviceID, "limit": strconv.Itoa(limit)}
	if err := c.get(ctx, "/history", params, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		return []models.HistoryPoint{}, nil
	}
	return out.Items, nil
}

// MapPoints GET /map/points?city=&district=（空条件不发送）
func (c *Client) MapPoints(ctx context.Context, f models.Filter) ([]models.Location, error) {
	params := map[string]string{}
	if f.City != "" {
		params["city"] = f.City
		if f.District != "" {
			params["district"] = f.District
		}
	}
	var out mapPointsResponse
	if err := c.get(ctx, "/map/points", params, &out); err != nil {
		return nil, err
	}
	if out.Points == nil {
		return []models.Location{}, nil
	}
	return out.Points, nil
}

// Cities GET /locations/cities
func (c *Client) Cities(ctx context.Context) ([]string, error) {
	var out citiesResponse
	if err := c.get(ctx, "/locations/cities", nil, &out); err != nil {
		return nil, err
	}
	if out.Cities == nil {
		return []string{}, nil
	}
	return out.Cities, nil
}

// Districts GET /locations/districts?city=
func (c *Client) Districts(ctx context.Context, city string) ([]string, error) {
	var out districtsResponse
	if err := c.get(ctx, "/locations/districts", map[string]string{"city": city}, &out); err != nil {
		return nil, err
	}
	if out.Districts == nil {
		return []string{}, nil
	}
	return out.Districts, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	req := c.httpClient.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(path)
	url := c.requestURL(resp, path)
	if err != nil {
		c.logger.Warn("airq request failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return &FetchError{URL: url, Err: err}
	}

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		c.logger.Warn("airq request returned non-2xx",
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode()),
		)
		return &FetchError{Status: resp.StatusCode(), URL: url}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		c.logger.Warn("airq response is not valid JSON",
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode()),
			zap.Error(err),
		)
		return &FetchError{Status: resp.StatusCode(), URL: url, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.Debug("airq request ok",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()),
	)
	return nil
}

// requestURL returns the full URL actually requested when resty has built it,
// else base URL + path.
func (c *Client) requestURL(resp *resty.Response, path string) string {
	if resp != nil && resp.Request != nil && resp.Request.RawRequest != nil && resp.Request.RawRequest.URL != nil {
		return resp.Request.RawRequest.URL.String()
	}
	return c.baseURL + path
}
