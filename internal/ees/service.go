package ees

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Upstream Upstream
	Pages    Cache[QueryResponse]
	Trends   Cache[QueryResponse]
	Meta     Cache[*Metadata]

	DataSetVersion string
	TrendPeriods   int
	TrendPageSize  int
	FetchLimit     int
	Logger         zerolog.Logger
}

// Validate checks required dependencies and fills defaults.
func (c *ServiceConfig) Validate() error {
	if c.Upstream == nil {
		return errors.New("upstream is required")
	}
	if c.Pages == nil || c.Trends == nil || c.Meta == nil {
		return errors.New("pages, trends and meta caches are required")
	}
	if c.TrendPeriods <= 0 {
		c.TrendPeriods = 10
	}
	if c.TrendPageSize <= 0 {
		c.TrendPageSize = DefaultTrendPageSize
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 4
	}
	return nil
}

// Service answers row-window, trend and metadata requests through the caches.
type Service struct {
	upstream Upstream
	pages    Cache[QueryResponse]
	trends   Cache[QueryResponse]
	meta     Cache[*Metadata]

	version       string
	trendPeriods  int
	trendPageSize int
	fetchLimit    int
	log           zerolog.Logger
}

// NewService creates a new Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		upstream:      cfg.Upstream,
		pages:         cfg.Pages,
		trends:        cfg.Trends,
		meta:          cfg.Meta,
		version:       cfg.DataSetVersion,
		trendPeriods:  cfg.TrendPeriods,
		trendPageSize: cfg.TrendPageSize,
		fetchLimit:    cfg.FetchLimit,
		log:           cfg.Logger,
	}, nil
}

// RowWindowRequest asks for rows [StartRow, EndRow) of a filtered table.
type RowWindowRequest struct {
	DataSetID string
	Selection Selection
	StartRow  int
	EndRow    int
	Sort      *Sort
}

// WindowSize is the number of rows requested.
func (r RowWindowRequest) WindowSize() int {
	return r.EndRow - r.StartRow
}

// Page is the one-based upstream page holding the window.
func (r RowWindowRequest) Page() int {
	return PageForWindow(r.StartRow, r.WindowSize())
}

// Fingerprint identifies the page window of the request.
func (r RowWindowRequest) Fingerprint() Fingerprint {
	return NewFingerprint(r.DataSetID, r.Selection, r.Page(), r.WindowSize(), r.Sort)
}

// GetRows returns the normalized rows of one window and the total size of
// the filtered set. Identical concurrent requests share one upstream call.
func (s *Service) GetRows(ctx context.Context, req RowWindowRequest) (PageResult, error) {
	if err := validateSelection(req.DataSetID, req.Selection); err != nil {
		return PageResult{}, err
	}
	if req.StartRow < 0 {
		return PageResult{}, invalid("startRow", "must be >= 0")
	}
	if req.WindowSize() <= 0 {
		return PageResult{}, invalid("endRow", "must be greater than startRow")
	}

	body, err := BuildPageQuery(PageQueryParams{
		DataSetID: req.DataSetID,
		Selection: req.Selection,
		Page:      req.Page(),
		PageSize:  req.WindowSize(),
		Sort:      req.Sort,
	})
	if err != nil {
		return PageResult{}, err
	}

	fp := req.Fingerprint()
	resp, err := s.pages.Get(ctx, fp.Key(), fp.SelectionKey(), func(ctx context.Context) (QueryResponse, error) {
		return s.query(ctx, req.DataSetID, body)
	})
	if errors.Is(err, ErrMalformedResponse) {
		s.log.Warn().Err(err).Str("dataset_id", req.DataSetID).Int("page", fp.Page).Msg("degrading malformed page to empty result")
		return PageResult{Rows: []NormalizedRow{}, Total: 0}, nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		if r, ok := s.pages.(staleReader[QueryResponse]); ok {
			if resident, _, perr := r.Peek(fp.Key()); perr == nil {
				s.log.Warn().Err(err).Str("dataset_id", req.DataSetID).Int("page", fp.Page).Msg("upstream unavailable, serving resident page")
				res := NormalizePage(resident, req.Selection)
				res.StaleData = true
				return res, nil
			}
		}
	}
	if err != nil {
		return PageResult{}, err
	}
	return NormalizePage(resp, req.Selection), nil
}

// Prefetch warms the n windows following req through the page cache.
// It stops at the end of the filtered set.
func (s *Service) Prefetch(ctx context.Context, req RowWindowRequest, n int) error {
	size := req.WindowSize()
	if n <= 0 || size <= 0 {
		return nil
	}
	first, err := s.GetRows(ctx, req)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i := 1; i <= n; i++ {
		start := req.StartRow + i*size
		if start >= first.Total {
			break
		}
		next := req
		next.StartRow = start
		next.EndRow = start + size
		g.Go(func() error {
			if _, err := s.GetRows(gctx, next); err != nil {
				s.log.Warn().Err(err).Int("start_row", next.StartRow).Msg("prefetch failed")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// TrendRequest asks for one indicator at one location over several periods.
// An empty TimePeriods uses the latest periods from metadata.
type TrendRequest struct {
	DataSetID   string
	Indicator   Indicator
	Location    Location
	TimePeriods []TimePeriod
}

// GetTrend returns one point per requested period in the order requested.
func (s *Service) GetTrend(ctx context.Context, req TrendRequest) ([]TrendPoint, error) {
	if strings.TrimSpace(req.DataSetID) == "" {
		return nil, missing("dataSetId")
	}
	if req.Indicator.ID == "" {
		return nil, missing("indicator.id")
	}
	if req.Location.Level == "" || req.Location.Code == "" {
		return nil, missing("location")
	}

	periods := req.TimePeriods
	if len(periods) == 0 {
		md, err := s.LoadMetadata(ctx, req.DataSetID)
		if err != nil {
			return nil, err
		}
		periods = md.LatestTimePeriods(s.trendPeriods)
	} else if len(periods) > s.trendPeriods {
		periods = periods[len(periods)-s.trendPeriods:]
	}
	if len(periods) == 0 {
		return []TrendPoint{}, nil
	}

	body, err := BuildTrendQuery(TrendQueryParams{
		DataSetID:   req.DataSetID,
		Indicator:   req.Indicator,
		Location:    req.Location,
		TimePeriods: periods,
		PageSize:    s.trendPageSize,
	})
	if err != nil {
		return nil, err
	}

	key, group := trendKey(req.DataSetID, req.Indicator, req.Location, periods)
	resp, err := s.trends.Get(ctx, key, group, func(ctx context.Context) (QueryResponse, error) {
		return s.query(ctx, req.DataSetID, body)
	})
	if errors.Is(err, ErrMalformedResponse) {
		s.log.Warn().Err(err).Str("dataset_id", req.DataSetID).Msg("degrading malformed trend to empty series")
		resp, err = QueryResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return AggregateTrend(resp.Records, req.Indicator, periods), nil
}

// LoadMetadata returns the flattened metadata of a data set.
func (s *Service) LoadMetadata(ctx context.Context, dataSetID string) (*Metadata, error) {
	if strings.TrimSpace(dataSetID) == "" {
		return nil, missing("dataSetId")
	}
	key := "meta\x1f" + dataSetID + "\x1f" + s.version
	md, err := s.meta.Get(ctx, key, key, func(ctx context.Context) (*Metadata, error) {
		raw, err := s.upstream.Meta(ctx, MetaRequest{DataSetID: dataSetID, Types: MetaTypes, Version: s.version})
		if err != nil {
			return nil, err
		}
		return ParseMetadata(dataSetID, raw)
	})
	if errors.Is(err, ErrMalformedResponse) {
		s.log.Warn().Err(err).Str("dataset_id", dataSetID).Msg("degrading malformed metadata to empty")
		return &Metadata{
			DataSetID:   dataSetID,
			Indicators:  []Indicator{},
			TimePeriods: []TimePeriod{},
			Locations:   []LocationOption{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return md, nil
}

// WarmMetadata loads metadata for every data set concurrently.
func (s *Service) WarmMetadata(ctx context.Context, dataSetIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for _, id := range dataSetIDs {
		g.Go(func() error {
			md, err := s.LoadMetadata(gctx, id)
			if err != nil {
				return fmt.Errorf("warm metadata %s: %w", id, err)
			}
			s.log.Info().
				Str("dataset_id", id).
				Int("indicators", len(md.Indicators)).
				Int("time_periods", len(md.TimePeriods)).
				Int("locations", len(md.Locations)).
				Msg("metadata loaded")
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) query(ctx context.Context, dataSetID string, body QueryRequest) (QueryResponse, error) {
	raw, err := s.upstream.Query(ctx, dataSetID, s.version, body)
	if err != nil {
		return QueryResponse{}, err
	}
	return ParseQueryResponse(raw)
}

func trendKey(dataSetID string, ind Indicator, loc Location, periods []TimePeriod) (key, group string) {
	group = strings.Join([]string{"trend", dataSetID, ind.ID, loc.Level, loc.Code}, "\x1f")
	parts := make([]string, 0, len(periods))
	for _, tp := range periods {
		parts = append(parts, tp.Key())
	}
	return group + "\x1f" + strings.Join(parts, ","), group
}
