package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"airq-dashboard/internal/airq"
	"airq-dashboard/internal/layers"
	"airq-dashboard/internal/models"
	"airq-dashboard/internal/quality"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource 可控的远端数据源
type fakeSource struct {
	mu           sync.Mutex
	points       map[models.Filter][]models.Location
	pointsErr    error
	history      map[string][]models.HistoryPoint
	historyErr   map[string]error
	historyGate  map[string]chan struct{}
	pointsGate   chan struct{}
	districts    map[string][]string
	districtsErr error
	cities       []string
	citiesGate   chan struct{}
	started      chan string
	pointCalls   int
	historyCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		points:      map[models.Filter][]models.Location{},
		history:     map[string][]models.HistoryPoint{},
		historyErr:  map[string]error{},
		historyGate: map[string]chan struct{}{},
		districts:   map[string][]string{},
		started:     make(chan string, 16),
	}
}

func (f *fakeSource) MapPoints(ctx context.Context, filter models.Filter) ([]models.Location, error) {
	f.mu.Lock()
	f.pointCalls++
	gate := f.pointsGate
	pts, err := f.points[filter], f.pointsErr
	f.mu.Unlock()

	f.started <- "points"
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if pts == nil {
		return []models.Location{}, nil
	}
	return pts, nil
}

func (f *fakeSource) History(ctx context.Context, deviceID string, limit int) ([]models.HistoryPoint, error) {
	f.mu.Lock()
	f.historyCalls++
	gate := f.historyGate[deviceID]
	pts, err := f.history[deviceID], f.historyErr[deviceID]
	f.mu.Unlock()

	f.started <- deviceID
	if gate != nil {
		<-gate
	}
	return pts, err
}

func (f *fakeSource) Cities(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	cities, gate := f.cities, f.citiesGate
	f.mu.Unlock()

	if gate != nil {
		f.started <- "cities"
		<-gate
	}
	if cities == nil {
		cities = []string{"Ankara", "Kayseri"}
	}
	return cities, nil
}

func (f *fakeSource) Districts(ctx context.Context, city string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.districtsErr != nil {
		return nil, f.districtsErr
	}
	return f.districts[city], nil
}

func (f *fakeSource) counts() (points, history int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pointCalls, f.historyCalls
}

// fakeDisplay 记录渲染调用
type fakeDisplay struct {
	mu            sync.Mutex
	set           layers.Set
	replaceCalls  int
	attached      map[layers.Kind]bool
	detail        *models.Location
	historyDevice string
	history       []models.HistoryPoint
	notice        string
	errMsg        string
	cities        []string
	districtCity  string
	districts     []string
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{attached: map[layers.Kind]bool{}}
}

func (d *fakeDisplay) ReplaceLayers(set layers.Set) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set = set
	d.replaceCalls++
}

func (d *fakeDisplay) SetLayerAttached(kind layers.Kind, attached bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached[kind] = attached
}

func (d *fakeDisplay) ShowDetail(loc models.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detail = &loc
}

func (d *fakeDisplay) ShowHistory(deviceID string, points []models.HistoryPoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.historyDevice = deviceID
	d.history = points
}

func (d *fakeDisplay) ShowCities(cities []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cities = cities
}

func (d *fakeDisplay) ShowDistricts(city string, districts []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.districtCity, d.districts = city, districts
}

func (d *fakeDisplay) ShowNotice(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notice = msg
}

func (d *fakeDisplay) ShowError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errMsg = msg
}

// visible 当前挂载的图层内容
func (d *fakeDisplay) visible() map[layers.Kind]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[layers.Kind]any{}
	if d.attached[layers.Markers] {
		out[layers.Markers] = d.set.Markers
	}
	if d.attached[layers.Circles] {
		out[layers.Circles] = d.set.Circles
	}
	if d.attached[layers.Heatmap] {
		out[layers.Heatmap] = d.set.Heat
	}
	return out
}

func kayseriLocations() []models.Location {
	return []models.Location{
		{ID: "node-001", DeviceID: "node-001", Name: "Melikgazi", City: "Kayseri", District: "Melikgazi",
			Lat: models.Float(38.73), Lon: models.Float(35.48), TVOC: models.Float(150)},
		{ID: "node-002", DeviceID: "node-002", Name: "Talas", City: "Kayseri", District: "Talas",
			Lat: models.Float(38.69), Lon: models.Float(35.55), TVOC: models.Float(700)},
	}
}

func newTestCoordinator(src *fakeSource, disp *fakeDisplay) *Coordinator {
	return New(src, disp, Options{Table: quality.DefaultTable(), HistoryLimit: 50}, zap.NewNop())
}

func waitStarted(t *testing.T, src *fakeSource, want string) {
	t.Helper()
	select {
	case got := <-src.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch %q never started", want)
	}
}

func drainStarted(src *fakeSource) {
	for {
		select {
		case <-src.started:
		default:
			return
		}
	}
}

func TestSetFilter_CityChangeClearsDistrict(t *testing.T) {
	c := newTestCoordinator(newFakeSource(), newFakeDisplay())

	assert.False(t, c.SetFilter("", ""), "both empty is a no-op")
	assert.False(t, c.SetFilter("", "Talas"), "district without city is dropped")

	assert.True(t, c.SetFilter("Ankara", "X"))
	assert.Equal(t, models.Filter{City: "Ankara", District: "X"}, c.Filter(), "city and district set together")
	assert.False(t, c.SetFilter("Ankara", "X"))

	assert.True(t, c.SetFilter("Izmir", ""))
	assert.Equal(t, models.Filter{City: "Izmir"}, c.Filter(), "old district never survives a city change")

	assert.True(t, c.SetFilter("Izmir", "Konak"))
	assert.True(t, c.SetFilter("Ankara", ""))
	assert.Equal(t, "", c.Filter().District)

	assert.True(t, c.SetFilter("Ankara", "Cankaya"))
	assert.True(t, c.SetFilter("Ankara", ""), "clearing the district alone is a change")
	assert.Equal(t, models.Filter{City: "Ankara"}, c.Filter())

	assert.True(t, c.SetFilter("", "Cankaya"))
	assert.Equal(t, models.Filter{}, c.Filter())
}

func TestLoadLocations_RebuildsAllLayers(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	c := newTestCoordinator(src, disp)

	locs, err := c.LoadLocations(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Len(t, locs, 2)
	assert.Len(t, c.Locations(), 2)

	assert.Equal(t, 1, disp.replaceCalls)
	assert.Equal(t, layers.Build(kayseriLocations(), quality.DefaultTable()), disp.set)
	for _, k := range layers.Kinds {
		assert.True(t, disp.attached[k], "layer %s attached by default", k)
	}
	assert.Equal(t, "", disp.notice)
	assert.Equal(t, "", disp.errMsg)
}

func TestLoadLocations_EmptyKeepsLayersAndShowsNotice(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	_, err := c.LoadLocations(ctx, models.Filter{})
	require.NoError(t, err)
	before := disp.visible()

	require.True(t, c.SetFilter("Kayseri", ""))
	locs, err := c.LoadLocations(ctx, models.Filter{City: "Kayseri"})
	require.NoError(t, err, "empty result is a state, not an error")
	assert.Empty(t, locs)

	assert.Equal(t, NoDataNotice, disp.notice)
	assert.Equal(t, 1, disp.replaceCalls, "layers must not be rebuilt")
	assert.Equal(t, before, disp.visible())
	assert.Len(t, c.Locations(), 2)
}

func TestLoadLocations_FailureKeepsLayers(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	_, err := c.LoadLocations(ctx, models.Filter{})
	require.NoError(t, err)
	before := disp.visible()

	src.mu.Lock()
	src.pointsErr = &airq.FetchError{Status: 500, URL: "http://api/map/points"}
	src.mu.Unlock()
	_, err = c.LoadLocations(ctx, models.Filter{})
	require.Error(t, err)

	var fe *airq.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 500, fe.Status)
	assert.Equal(t, "http://api/map/points", fe.URL)
	assert.Contains(t, disp.errMsg, "500")
	assert.Equal(t, before, disp.visible())
	assert.Equal(t, 1, disp.replaceCalls)

	p, _ := src.counts()
	assert.Equal(t, 2, p, "no retries")
}

func TestLoadLocations_FilterChangeDiscardsInFlight(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	gate := make(chan struct{})
	src.pointsGate = gate
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.LoadLocations(ctx, models.Filter{})
		done <- err
	}()
	waitStarted(t, src, "points")

	require.True(t, c.SetFilter("Ankara", ""))
	close(gate)

	err := <-done
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 0, disp.replaceCalls)
	assert.Empty(t, c.Locations())
}

func TestLoadLocations_NewerLoadWins(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	gate := make(chan struct{})
	src.pointsGate = gate
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := c.LoadLocations(ctx, models.Filter{})
		first <- err
	}()
	waitStarted(t, src, "points")

	second := make(chan error, 1)
	go func() {
		_, err := c.LoadLocations(ctx, models.Filter{})
		second <- err
	}()
	waitStarted(t, src, "points")
	close(gate)

	errs := []error{<-first, <-second}
	assert.ErrorIs(t, errs[0], ErrSuperseded)
	assert.NoError(t, errs[1])
	assert.Equal(t, 1, disp.replaceCalls)
}

func TestSetLayerVisible_NoFetchAndRoundTrips(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	c := newTestCoordinator(src, disp)

	_, err := c.LoadLocations(context.Background(), models.Filter{})
	require.NoError(t, err)
	before := disp.visible()
	pointsBefore, historyBefore := src.counts()

	require.NoError(t, c.SetLayerVisible(layers.Heatmap, false))
	hidden := disp.visible()
	assert.NotContains(t, hidden, layers.Heatmap)
	assert.Equal(t, before[layers.Markers], hidden[layers.Markers], "other layers untouched")
	assert.Equal(t, before[layers.Circles], hidden[layers.Circles])
	assert.False(t, c.Visibility()[layers.Heatmap])

	require.NoError(t, c.SetLayerVisible(layers.Heatmap, true))
	assert.Equal(t, before, disp.visible())

	p, h := src.counts()
	assert.Equal(t, pointsBefore, p)
	assert.Equal(t, historyBefore, h)
	assert.Equal(t, 1, disp.replaceCalls)

	assert.Error(t, c.SetLayerVisible(layers.Kind("tiles"), true))
}

func TestRebuild_KeepsHiddenLayersHidden(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	c := newTestCoordinator(src, disp)

	require.NoError(t, c.SetLayerVisible(layers.Circles, false))
	_, err := c.LoadLocations(context.Background(), models.Filter{})
	require.NoError(t, err)

	assert.False(t, disp.attached[layers.Circles])
	assert.True(t, disp.attached[layers.Markers])
}

func TestRebuildLayers_Idempotent(t *testing.T) {
	disp := newFakeDisplay()
	c := newTestCoordinator(newFakeSource(), disp)

	c.RebuildLayers(kayseriLocations())
	first := disp.visible()
	c.RebuildLayers(kayseriLocations())
	assert.Equal(t, first, disp.visible())
	assert.Equal(t, 2, disp.replaceCalls)
}

func TestSelect_LastSelectWins(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	locs := kayseriLocations()
	a, b := locs[0], locs[1]
	src.history[a.DeviceID] = []models.HistoryPoint{{TVOC: models.Float(1)}}
	src.history[b.DeviceID] = []models.HistoryPoint{{TVOC: models.Float(2)}, {TVOC: models.Float(3)}}
	gateA := make(chan struct{})
	src.historyGate[a.DeviceID] = gateA
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	doneA := make(chan struct{})
	go func() {
		c.Select(ctx, a)
		close(doneA)
	}()
	waitStarted(t, src, a.DeviceID)

	c.Select(ctx, b)
	assert.Equal(t, b.DeviceID, disp.historyDevice)

	close(gateA)
	<-doneA

	assert.Equal(t, b.DeviceID, disp.historyDevice, "late history for A must be dropped")
	assert.Len(t, disp.history, 2)
	require.NotNil(t, disp.detail)
	assert.Equal(t, b.DeviceID, disp.detail.DeviceID)
	require.NotNil(t, c.Selection())
	assert.Equal(t, b.DeviceID, c.Selection().DeviceID)
}

func TestSelect_HistoryFailureKeepsChart(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	loc := kayseriLocations()[0]
	src.history[loc.DeviceID] = []models.HistoryPoint{{TVOC: models.Float(10)}}
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	c.Select(ctx, loc)
	require.Len(t, disp.history, 1)

	src.mu.Lock()
	src.historyErr[loc.DeviceID] = &airq.FetchError{Status: 502, URL: "http://api/history"}
	src.mu.Unlock()

	c.RefreshSelectionHistory(ctx)
	assert.Len(t, disp.history, 1, "chart keeps its previous state")
	assert.Contains(t, disp.errMsg, "history for node-001")

	src.mu.Lock()
	delete(src.historyErr, loc.DeviceID)
	src.mu.Unlock()

	c.RefreshSelectionHistory(ctx)
	assert.Empty(t, disp.errMsg, "next good history clears the error")
}

func TestRefreshSelectionHistory(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	loc := kayseriLocations()[1]
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	c.RefreshSelectionHistory(ctx)
	_, h := src.counts()
	assert.Equal(t, 0, h, "no selection means no fetch")

	c.Select(ctx, loc)
	src.mu.Lock()
	src.history[loc.DeviceID] = []models.HistoryPoint{{TVOC: models.Float(4)}, {TVOC: models.Float(5)}, {TVOC: models.Float(6)}}
	src.mu.Unlock()

	c.RefreshSelectionHistory(ctx)
	_, h = src.counts()
	assert.Equal(t, 2, h)
	assert.Len(t, disp.history, 3)
	assert.Equal(t, loc.DeviceID, disp.historyDevice)
}

func TestRefresh_OlderRefreshDoesNotOverwriteNewer(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	loc := kayseriLocations()[0]
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	src.history[loc.DeviceID] = []models.HistoryPoint{{TVOC: models.Float(1)}}
	c.Select(ctx, loc)
	drainStarted(src)

	gate := make(chan struct{})
	src.mu.Lock()
	src.historyGate[loc.DeviceID] = gate
	src.mu.Unlock()

	slow := make(chan struct{})
	go func() {
		c.RefreshSelectionHistory(ctx)
		close(slow)
	}()
	waitStarted(t, src, loc.DeviceID)

	src.mu.Lock()
	delete(src.historyGate, loc.DeviceID)
	src.history[loc.DeviceID] = []models.HistoryPoint{{TVOC: models.Float(1)}, {TVOC: models.Float(2)}}
	src.mu.Unlock()
	c.RefreshSelectionHistory(ctx)
	require.Len(t, disp.history, 2)

	close(gate)
	<-slow
	assert.Len(t, disp.history, 2, "older refresh finishing late is dropped")
}

func TestSelectByID(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.points[models.Filter{}] = kayseriLocations()
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	err := c.SelectByID(ctx, "node-002")
	assert.ErrorIs(t, err, ErrUnknownLocation)

	_, err = c.LoadLocations(ctx, models.Filter{})
	require.NoError(t, err)
	require.NoError(t, c.SelectByID(ctx, "node-002"))
	assert.Equal(t, "Talas", disp.detail.Name)
}

func TestLoadDistricts(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.districts["Kayseri"] = []string{"Melikgazi", "Talas"}
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	// not the filter city: returned but not displayed
	got, err := c.LoadDistricts(ctx, "Kayseri")
	require.NoError(t, err)
	assert.Equal(t, []string{"Melikgazi", "Talas"}, got)
	assert.Nil(t, disp.districts)

	c.SetFilter("Kayseri", "")
	_, err = c.LoadDistricts(ctx, "Kayseri")
	require.NoError(t, err)
	assert.Equal(t, "Kayseri", disp.districtCity)
	assert.Equal(t, []string{"Melikgazi", "Talas"}, disp.districts)
}

func TestLoadDistricts_NotFoundIsEmpty(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.districtsErr = &airq.FetchError{Status: 404, URL: "http://api/locations/districts?city=Nowhere"}
	c := newTestCoordinator(src, disp)
	c.SetFilter("Nowhere", "")

	got, err := c.LoadDistricts(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []string{}, disp.districts)
	assert.Contains(t, disp.notice, "No districts for Nowhere")
	assert.Equal(t, "", disp.errMsg)
}

func TestLoadDistricts_OtherErrors(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	src.districtsErr = &airq.FetchError{Status: 500, URL: "http://api/locations/districts"}
	c := newTestCoordinator(src, disp)
	c.SetFilter("Kayseri", "")

	_, err := c.LoadDistricts(context.Background(), "Kayseri")
	require.Error(t, err)
	assert.Contains(t, disp.errMsg, "500")
}

func TestLoadCities(t *testing.T) {
	disp := newFakeDisplay()
	c := newTestCoordinator(newFakeSource(), disp)

	cities, err := c.LoadCities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Ankara", "Kayseri"}, cities)
	assert.Equal(t, cities, disp.cities)
}

func TestLoadCities_OlderLoadDoesNotOverwriteNewer(t *testing.T) {
	src := newFakeSource()
	disp := newFakeDisplay()
	c := newTestCoordinator(src, disp)
	ctx := context.Background()

	gate := make(chan struct{})
	src.mu.Lock()
	src.cities = []string{"Ankara"}
	src.citiesGate = gate
	src.mu.Unlock()

	slow := make(chan []string, 1)
	go func() {
		cities, err := c.LoadCities(ctx)
		assert.NoError(t, err)
		slow <- cities
	}()
	waitStarted(t, src, "cities")

	src.mu.Lock()
	src.cities = []string{"Ankara", "Izmir", "Kayseri"}
	src.citiesGate = nil
	src.mu.Unlock()
	_, err := c.LoadCities(ctx)
	require.NoError(t, err)

	close(gate)
	assert.Equal(t, []string{"Ankara"}, <-slow, "caller still gets its own result")
	assert.Equal(t, []string{"Ankara", "Izmir", "Kayseri"}, disp.cities)
}
