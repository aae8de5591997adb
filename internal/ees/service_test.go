package ees_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
	"github.com/Orine99/ees-education-dashboard/internal/store"
)

const pageBody = `{
	"paging":{"totalResults":120},
	"results":[
		{"timePeriod":{"code":"AY","period":"2022/2023"},"locations":{"LA":"Camden"},"values":{"ind-1":"12.5"}},
		{"timePeriod":{"code":"AY","period":"2022/2023"},"locations":{"LA":"Camden"},"values":{"ind-1":"c"}}
	]
}`

const serviceMetaBody = `{
	"indicators":[{"id":"ind-1","label":"Enrolments"}],
	"timePeriods":[
		{"code":"AY","period":"2019/2020"},
		{"code":"AY","period":"2020/2021"},
		{"code":"AY","period":"2021/2022"}
	],
	"locations":[{"code":"E09000007","level":"LA"}]
}`

type fakeUpstream struct {
	queryCalls atomic.Int32
	metaCalls  atomic.Int32

	mu       sync.Mutex
	queries  []ees.QueryRequest
	gate     chan struct{}
	queryFn  func(call int32) ([]byte, error)
	metaBody []byte
}

func (f *fakeUpstream) Meta(_ context.Context, _ ees.MetaRequest) ([]byte, error) {
	f.metaCalls.Add(1)
	if f.metaBody != nil {
		return f.metaBody, nil
	}
	return []byte(serviceMetaBody), nil
}

func (f *fakeUpstream) Query(_ context.Context, _, _ string, body ees.QueryRequest) ([]byte, error) {
	n := f.queryCalls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, body)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.queryFn != nil {
		return f.queryFn(n)
	}
	return []byte(pageBody), nil
}

func (f *fakeUpstream) lastQuery() ees.QueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func newTestService(t *testing.T, up ees.Upstream, clock clockwork.Clock) *ees.Service {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewFakeClock()
	}
	pages, err := store.NewMemoryStore[ees.QueryResponse](store.Options{Name: "pages", TTL: 5 * time.Minute, Capacity: 50, RetainPerGroup: 4, Clock: clock})
	require.NoError(t, err)
	trends, err := store.NewMemoryStore[ees.QueryResponse](store.Options{Name: "trends", TTL: 5 * time.Minute, Capacity: 10, Clock: clock})
	require.NoError(t, err)
	meta, err := store.NewMemoryStore[*ees.Metadata](store.Options{Name: "meta", TTL: time.Hour, Capacity: 4, Clock: clock})
	require.NoError(t, err)

	svc, err := ees.NewService(ees.ServiceConfig{
		Upstream:     up,
		Pages:        pages,
		Trends:       trends,
		Meta:         meta,
		TrendPeriods: 2,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc
}

func rowWindow(start, end int) ees.RowWindowRequest {
	return ees.RowWindowRequest{
		DataSetID: "ds-1",
		Selection: ees.Selection{
			Indicator:  ees.Indicator{ID: "ind-1"},
			TimePeriod: ees.TimePeriod{Code: "AY", Period: "2022/2023"},
			Location:   ees.Location{Level: "LA", Code: "E09000007"},
		},
		StartRow: start,
		EndRow:   end,
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := ees.NewService(ees.ServiceConfig{})
	assert.Error(t, err)
}

func TestGetRows(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)

	res, err := svc.GetRows(context.Background(), rowWindow(100, 150))
	require.NoError(t, err)

	assert.Equal(t, 120, res.Total)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, ees.NumberValue(12.5), res.Rows[0].Value)
	assert.Equal(t, "Camden", res.Rows[0].Location)
	assert.Equal(t, ees.TextValue("c"), res.Rows[1].Value)

	q := up.lastQuery()
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, 50, q.PageSize)
}

func TestGetRowsIsCached(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)
	ctx := context.Background()

	first, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	second, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), up.queryCalls.Load())

	next, err := svc.GetRows(ctx, rowWindow(50, 100))
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.queryCalls.Load())
	assert.Equal(t, first.Total, next.Total)
}

func TestGetRowsConcurrentRequestsShareOneCall(t *testing.T) {
	up := &fakeUpstream{gate: make(chan struct{})}
	svc := newTestService(t, up, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]ees.PageResult, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.GetRows(context.Background(), rowWindow(0, 50))
		}()
	}

	require.Eventually(t, func() bool { return up.queryCalls.Load() == 1 }, time.Second, time.Millisecond)
	close(up.gate)
	wg.Wait()

	assert.Equal(t, int32(1), up.queryCalls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestGetRowsMissingParametersSkipUpstream(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)

	tests := []struct {
		name   string
		mutate func(*ees.RowWindowRequest)
	}{
		{"data set", func(r *ees.RowWindowRequest) { r.DataSetID = "" }},
		{"indicator", func(r *ees.RowWindowRequest) { r.Selection.Indicator.ID = "" }},
		{"time period", func(r *ees.RowWindowRequest) { r.Selection.TimePeriod = ees.TimePeriod{} }},
		{"location", func(r *ees.RowWindowRequest) { r.Selection.Location = ees.Location{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := rowWindow(0, 50)
			tt.mutate(&req)
			_, err := svc.GetRows(context.Background(), req)
			assert.ErrorIs(t, err, ees.ErrMissingParameter)
		})
	}

	_, err := svc.GetRows(context.Background(), rowWindow(50, 50))
	assert.ErrorIs(t, err, ees.ErrInvalidParameter)

	assert.Equal(t, int32(0), up.queryCalls.Load())
}

func TestGetRowsUpstreamErrorIsNotCached(t *testing.T) {
	up := &fakeUpstream{queryFn: func(call int32) ([]byte, error) {
		if call == 1 {
			return nil, &ees.UpstreamError{Op: "query", Status: 503, Body: "busy"}
		}
		return []byte(pageBody), nil
	}}
	svc := newTestService(t, up, nil)
	ctx := context.Background()

	_, err := svc.GetRows(ctx, rowWindow(0, 50))
	var ue *ees.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 503, ue.StatusCode())
	assert.ErrorIs(t, err, ees.ErrUpstreamHTTP)

	res, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.Equal(t, 120, res.Total)
	assert.Equal(t, int32(2), up.queryCalls.Load())
}

func TestGetRowsMalformedResponseDegrades(t *testing.T) {
	up := &fakeUpstream{queryFn: func(int32) ([]byte, error) {
		return []byte(`{"results":"nope"}`), nil
	}}
	svc := newTestService(t, up, nil)
	ctx := context.Background()

	res, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.NotNil(t, res.Rows)
	assert.Equal(t, 0, res.Total)

	_, err = svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.queryCalls.Load())
}

func TestGetRowsRefetchesAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	up := &fakeUpstream{}
	svc := newTestService(t, up, clock)
	ctx := context.Background()

	_, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	_, err = svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.queryCalls.Load())

	clock.Advance(2 * time.Minute)
	_, err = svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.queryCalls.Load())
}

func TestGetRowsServesResidentPageWhileCircuitOpen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	up := &fakeUpstream{queryFn: func(call int32) ([]byte, error) {
		if call == 1 {
			return []byte(pageBody), nil
		}
		return nil, fmt.Errorf("%w: upstream rejected", ees.ErrCircuitOpen)
	}}
	svc := newTestService(t, up, clock)
	ctx := context.Background()

	res, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.False(t, res.StaleData)

	clock.Advance(6 * time.Minute)
	res, err = svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)
	assert.True(t, res.StaleData)
	assert.Equal(t, 120, res.Total)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int32(2), up.queryCalls.Load())

	_, err = svc.GetRows(ctx, rowWindow(50, 100))
	assert.ErrorIs(t, err, ees.ErrCircuitOpen)
}

func TestGetRowsSortIsPartOfFingerprint(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)
	ctx := context.Background()

	_, err := svc.GetRows(ctx, rowWindow(0, 50))
	require.NoError(t, err)

	sorted := rowWindow(0, 50)
	sorted.Sort = ees.ParseSort("value", "desc")
	_, err = svc.GetRows(ctx, sorted)
	require.NoError(t, err)

	assert.Equal(t, int32(2), up.queryCalls.Load())
	assert.Equal(t, []ees.Sort{{Field: "value", Direction: ees.SortDesc}}, up.lastQuery().Sorts)
}

func TestPrefetchStopsAtTotal(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)
	ctx := context.Background()

	require.NoError(t, svc.Prefetch(ctx, rowWindow(0, 50), 5))
	// Pages 1, 2 and 3 cover 120 rows.
	assert.Equal(t, int32(3), up.queryCalls.Load())

	_, err := svc.GetRows(ctx, rowWindow(100, 150))
	require.NoError(t, err)
	assert.Equal(t, int32(3), up.queryCalls.Load())
}

func TestGetTrendUsesLatestMetadataPeriods(t *testing.T) {
	up := &fakeUpstream{queryFn: func(int32) ([]byte, error) {
		return []byte(`{"results":[
			{"timePeriod":{"code":"AY","period":"2021/2022","label":"2021/22"},"values":{"ind-1":"7"}}
		]}`), nil
	}}
	svc := newTestService(t, up, nil)

	points, err := svc.GetTrend(context.Background(), ees.TrendRequest{
		DataSetID: "ds-1",
		Indicator: ees.Indicator{ID: "ind-1"},
		Location:  ees.Location{Level: "LA", Code: "E09000007"},
	})
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.Equal(t, "2020/2021", points[0].Period)
	assert.Nil(t, points[0].Value)
	assert.Equal(t, "2021/22", points[1].Period)
	require.NotNil(t, points[1].Value)
	assert.Equal(t, 7.0, *points[1].Value)

	q := up.lastQuery()
	require.Len(t, q.Criteria.And, 2)
	require.NotNil(t, q.Criteria.And[1].TimePeriods)
	assert.Len(t, q.Criteria.And[1].TimePeriods.In, 2)
	assert.Equal(t, ees.DefaultTrendPageSize, q.PageSize)
	assert.Equal(t, int32(1), up.metaCalls.Load())
}

func TestGetTrendCapsExplicitPeriods(t *testing.T) {
	up := &fakeUpstream{queryFn: func(int32) ([]byte, error) { return []byte(`{"results":[]}`), nil }}
	svc := newTestService(t, up, nil)

	points, err := svc.GetTrend(context.Background(), ees.TrendRequest{
		DataSetID: "ds-1",
		Indicator: ees.Indicator{ID: "ind-1"},
		Location:  ees.Location{Level: "LA", Code: "E09000007"},
		TimePeriods: []ees.TimePeriod{
			{Code: "CY", Period: "2020"},
			{Code: "CY", Period: "2021"},
			{Code: "CY", Period: "2022"},
		},
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2021", points[0].Period)
	assert.Equal(t, "2022", points[1].Period)
	assert.Equal(t, 2, ees.MissingPoints(points))
	assert.Equal(t, int32(0), up.metaCalls.Load())
}

func TestGetTrendWithoutPeriods(t *testing.T) {
	up := &fakeUpstream{metaBody: []byte(`{"timePeriods":[]}`)}
	svc := newTestService(t, up, nil)

	points, err := svc.GetTrend(context.Background(), ees.TrendRequest{
		DataSetID: "ds-1",
		Indicator: ees.Indicator{ID: "ind-1"},
		Location:  ees.Location{Level: "LA", Code: "E09000007"},
	})
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Equal(t, int32(0), up.queryCalls.Load())
}

func TestGetTrendMissingParameters(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)

	_, err := svc.GetTrend(context.Background(), ees.TrendRequest{DataSetID: "ds-1", Indicator: ees.Indicator{ID: "ind-1"}})
	assert.ErrorIs(t, err, ees.ErrMissingParameter)
	assert.Equal(t, int32(0), up.queryCalls.Load())
	assert.Equal(t, int32(0), up.metaCalls.Load())
}

func TestLoadMetadataIsCached(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)
	ctx := context.Background()

	md, err := svc.LoadMetadata(ctx, "ds-1")
	require.NoError(t, err)
	assert.Len(t, md.TimePeriods, 3)

	_, err = svc.LoadMetadata(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.metaCalls.Load())

	_, err = svc.LoadMetadata(ctx, " ")
	assert.ErrorIs(t, err, ees.ErrMissingParameter)
}

func TestLoadMetadataMalformedDegrades(t *testing.T) {
	up := &fakeUpstream{metaBody: []byte(`[]`)}
	svc := newTestService(t, up, nil)

	md, err := svc.LoadMetadata(context.Background(), "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "ds-1", md.DataSetID)
	assert.Empty(t, md.Indicators)
	assert.Empty(t, md.Locations)
}

func TestWarmMetadata(t *testing.T) {
	up := &fakeUpstream{}
	svc := newTestService(t, up, nil)

	require.NoError(t, svc.WarmMetadata(context.Background(), []string{"ds-1", "ds-2"}))
	assert.Equal(t, int32(2), up.metaCalls.Load())
}
