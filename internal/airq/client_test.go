package airq

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"airq-dashboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorded struct {
	path   string
	query  map[string]string
	apiKey string
	hasKey bool
	reqID  string
	accept string
}

type callLog struct {
	mu    sync.Mutex
	calls []recorded
}

func (l *callLog) all() []recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recorded(nil), l.calls...)
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *callLog) {
	t.Helper()
	log := &callLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		_, hasKey := r.Header["X-Api-Key"]
		log.mu.Lock()
		log.calls = append(log.calls, recorded{
			path:   r.URL.Path,
			query:  q,
			apiKey: r.Header.Get("x-api-key"),
			hasKey: hasKey,
			reqID:  r.Header.Get("X-Request-ID"),
			accept: r.Header.Get("Accept"),
		})
		log.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestClient_MapPoints_FilterParams(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 200, `{"points":[{"id":"n1","device_id":"n1","name":"N1","lat":38.7,"lon":35.4,"city":"Kayseri","district":"Talas","tvoc_ppb":300}]}`)
	})
	c := NewClient(Options{BaseURL: srv.URL + "/"}, zap.NewNop())
	ctx := context.Background()

	points, err := c.MapPoints(ctx, models.Filter{City: "Kayseri", District: "Talas"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "n1", points[0].DeviceID)
	assert.Equal(t, 300.0, *points[0].TVOC)

	_, err = c.MapPoints(ctx, models.Filter{})
	require.NoError(t, err)

	// district without city is not sent
	_, err = c.MapPoints(ctx, models.Filter{District: "Talas"})
	require.NoError(t, err)

	got := calls.all()
	require.Len(t, got, 3)
	assert.Equal(t, "/map/points", got[0].path)
	assert.Equal(t, map[string]string{"city": "Kayseri", "district": "Talas"}, got[0].query)
	assert.Empty(t, got[1].query)
	assert.Empty(t, got[2].query)
}

func TestClient_HeadersAndAPIKey(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 200, `{"cities":["Ankara","Kayseri"]}`)
	})
	ctx := context.Background()

	withKey := NewClient(Options{BaseURL: srv.URL, APIKey: "  s3cret "}, zap.NewNop())
	cities, err := withKey.Cities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ankara", "Kayseri"}, cities)

	withoutKey := NewClient(Options{BaseURL: srv.URL, APIKey: "   "}, zap.NewNop())
	_, err = withoutKey.Cities(ctx)
	require.NoError(t, err)

	got := calls.all()
	require.Len(t, got, 2)
	assert.Equal(t, "s3cret", got[0].apiKey)
	assert.False(t, got[1].hasKey, "blank key must not be sent")
	assert.Equal(t, "application/json", got[0].accept)
	assert.NotEmpty(t, got[0].reqID)
	assert.NotEqual(t, got[0].reqID, got[1].reqID)
}

func TestClient_History(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 200, `{"device_id":"node-001","count":2,"items":[
			{"device_id":"node-001","ts":"2024-05-01T10:00:00","tvoc_ppb":100,"eco2_ppm":400},
			{"device_id":"node-001","ts":"2024-05-01T10:00:05","tvoc_ppb":null,"eco2_ppm":410}]}`)
	})
	c := NewClient(Options{BaseURL: srv.URL}, zap.NewNop())

	items, err := c.History(context.Background(), "node-001", 120)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[1].TVOC)
	assert.Equal(t, 410.0, *items[1].ECO2)
	assert.Equal(t, map[string]string{"device_id": "node-001", "limit": "120"}, calls.all()[0].query)
}

func TestClient_LatestAlert(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 200, `{"found":true,"device_id":"node-001","ts":"2024-05-01T10:00:00Z","score":71.5,"status":"WARN","tvoc_ppb":450,"eco2_ppm":800}`)
	})
	c := NewClient(Options{BaseURL: srv.URL}, zap.NewNop())

	alert, err := c.LatestAlert(context.Background(), "node-001")
	require.NoError(t, err)
	assert.True(t, alert.Found)
	assert.Equal(t, "WARN", alert.Status)
	assert.Equal(t, 71.5, *alert.Score)
}

func TestClient_EmptyCollectionsAreNotNil(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 200, `{}`)
	})
	c := NewClient(Options{BaseURL: srv.URL}, zap.NewNop())
	ctx := context.Background()

	points, err := c.MapPoints(ctx, models.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)

	districts, err := c.Districts(ctx, "Kayseri")
	require.NoError(t, err)
	assert.NotNil(t, districts)
}

func TestClient_Non2xxIsFetchError(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 404, `{"detail":"No districts found for city: Nowhere"}`)
	})
	c := NewClient(Options{BaseURL: srv.URL}, zap.NewNop())

	_, err := c.Districts(context.Background(), "Nowhere")
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 404, fe.Status)
	assert.True(t, strings.HasPrefix(fe.URL, srv.URL+"/locations/districts"), fe.URL)
	assert.Contains(t, fe.URL, "city=Nowhere")
	assert.Contains(t, err.Error(), "404 Not Found for ")
	assert.True(t, IsNotFound(err))
}

func TestClient_NonJSONIsFetchError(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>proxy error</html>"))
	})
	c := NewClient(Options{BaseURL: srv.URL}, zap.NewNop())

	_, err := c.Cities(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 200, fe.Status)
	assert.False(t, IsNotFound(err))
}

func TestClient_NetworkErrorHasZeroStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url}, zap.NewNop())
	_, err := c.Cities(context.Background())

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0, fe.Status)
	assert.Contains(t, fe.URL, "/locations/cities")
	assert.Contains(t, err.Error(), "request to ")
}

func TestClient_NoRetry(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 503, `{}`)
	})
	c := NewClient(Options{BaseURL: srv.URL}, zap.NewNop())

	_, err := c.Cities(context.Background())
	require.Error(t, err)
	assert.Len(t, calls.all(), 1)
}
