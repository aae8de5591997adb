package httpapi

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
	"github.com/Orine99/ees-education-dashboard/internal/store"
)

var validate = validator.New()

// Proxy forwards requests to the statistics API without interpreting them.
type Proxy interface {
	ForwardMeta(ctx context.Context, req ees.MetaRequest) (*ees.RawResponse, error)
	ForwardQuery(ctx context.Context, dataSetID, version string, body []byte) (*ees.RawResponse, error)
}

// StatsSource reports cache statistics.
type StatsSource interface {
	Stats() store.Stats
}

// Dependencies are the collaborators RegisterRoutes wires into handlers.
type Dependencies struct {
	Service         *ees.Service
	Proxy           Proxy
	Sessions        *ees.SessionRegistry
	Caches          []StatsSource
	Schools         *Schools
	WindowSize      int
	PrefetchWindows int
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	if deps.WindowSize <= 0 {
		deps.WindowSize = 50
	}

	proxy := app.Group("/api/ees")
	proxy.Get("/meta", deps.proxyMeta)
	proxy.Post("/query", deps.proxyQuery)

	if deps.Schools != nil {
		app.Get("/api/schools", deps.Schools.handle)
	}

	v1 := app.Group("/api/v1")
	v1.Get("/datasets/:dataSetId/meta", deps.getMeta)
	v1.Post("/datasets/:dataSetId/rows", deps.getRows)
	v1.Post("/datasets/:dataSetId/trend", deps.getTrend)
	v1.Get("/cache/stats", deps.cacheStats)
}

func requireDataSetID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Query("dataSetId"))
	if id == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "missing required query param: dataSetId")
	}
	return id, nil
}

func passThrough(c *fiber.Ctx, resp *ees.RawResponse) error {
	ct := resp.ContentType
	if ct == "" {
		ct = fiber.MIMEApplicationJSON
	}
	c.Set(fiber.HeaderContentType, ct)
	return c.Status(resp.Status).Send(resp.Body)
}

func (d Dependencies) proxyMeta(c *fiber.Ctx) error {
	dataSetID, err := requireDataSetID(c)
	if err != nil {
		return err
	}

	var types []string
	for _, t := range c.Context().QueryArgs().PeekMulti("types") {
		types = append(types, string(t))
	}

	resp, err := d.Proxy.ForwardMeta(c.UserContext(), ees.MetaRequest{
		DataSetID: dataSetID,
		Types:     types,
		Version:   c.Query("dataSetVersion"),
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return passThrough(c, resp)
}

func (d Dependencies) proxyQuery(c *fiber.Ctx) error {
	dataSetID, err := requireDataSetID(c)
	if err != nil {
		return err
	}

	body := c.Body()
	if !gjson.ValidBytes(body) {
		return fiber.NewError(fiber.StatusBadRequest, "request body must be valid JSON")
	}

	resp, err := d.Proxy.ForwardQuery(c.UserContext(), dataSetID, c.Query("dataSetVersion"), body)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return passThrough(c, resp)
}

func (d Dependencies) getMeta(c *fiber.Ctx) error {
	md, err := d.Service.LoadMetadata(c.UserContext(), c.Params("dataSetId"))
	if err != nil {
		return err
	}
	return c.JSON(newMetaResponse(md))
}

// metaResponse is flattened metadata with the keys and labels pickers show.
type metaResponse struct {
	DataSetID   string             `json:"dataSetId"`
	Indicators  []ees.Indicator    `json:"indicators"`
	TimePeriods []timePeriodOption `json:"timePeriods"`
	Locations   []locationOption   `json:"locations"`
	Filters     any                `json:"filters,omitempty"`
}

type timePeriodOption struct {
	ees.TimePeriod
	OptionLabel string `json:"optionLabel"`
}

type locationOption struct {
	ees.LocationOption
	PickerKey string `json:"key"`
}

func newMetaResponse(md *ees.Metadata) metaResponse {
	out := metaResponse{
		DataSetID:   md.DataSetID,
		Indicators:  md.Indicators,
		TimePeriods: make([]timePeriodOption, 0, len(md.TimePeriods)),
		Locations:   make([]locationOption, 0, len(md.Locations)),
		Filters:     md.Filters,
	}
	for _, tp := range md.TimePeriods {
		out.TimePeriods = append(out.TimePeriods, timePeriodOption{TimePeriod: tp, OptionLabel: tp.OptionLabel()})
	}
	for _, loc := range md.Locations {
		out.Locations = append(out.Locations, locationOption{LocationOption: loc, PickerKey: loc.Key()})
	}
	return out
}

// sortModel is one entry of a grid sort model.
type sortModel struct {
	ColID string `json:"colId" validate:"required"`
	Sort  string `json:"sort" validate:"oneof=asc desc"`
}

// rowsRequest is the body of the row-window endpoint. EndRow defaults to
// StartRow plus the configured window size.
type rowsRequest struct {
	SessionID  string         `json:"sessionId"`
	Indicator  ees.Indicator  `json:"indicator"`
	TimePeriod ees.TimePeriod `json:"timePeriod"`
	Location   ees.Location   `json:"location"`
	StartRow   int            `json:"startRow" validate:"gte=0"`
	EndRow     int            `json:"endRow" validate:"gtfield=StartRow"`
	SortModel  []sortModel    `json:"sortModel" validate:"max=1,dive"`
	Prefetch   *int           `json:"prefetch" validate:"omitempty,gte=0,lte=5"`
}

func (r *rowsRequest) bind(c *fiber.Ctx, windowSize int) error {
	if err := c.BodyParser(r); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if r.EndRow == 0 {
		r.EndRow = r.StartRow + windowSize
	}
	if err := validate.Struct(r); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func (r rowsRequest) sort() *ees.Sort {
	if len(r.SortModel) == 0 {
		return nil
	}
	return ees.ParseSort(r.SortModel[0].ColID, r.SortModel[0].Sort)
}

func (d Dependencies) getRows(c *fiber.Ctx) error {
	var req rowsRequest
	if err := req.bind(c, d.WindowSize); err != nil {
		return err
	}

	ctx := c.UserContext()
	log := zerolog.Ctx(ctx)

	rw := ees.RowWindowRequest{
		DataSetID: c.Params("dataSetId"),
		Selection: ees.Selection{
			Indicator:  req.Indicator,
			TimePeriod: req.TimePeriod,
			Location:   req.Location,
		},
		StartRow: req.StartRow,
		EndRow:   req.EndRow,
		Sort:     req.sort(),
	}

	sess := d.Sessions.Resolve(req.SessionID)
	if !sess.ObserveWindow(rw.WindowSize()) {
		log.Warn().
			Str("session_id", sess.ID).
			Int("window_size", rw.WindowSize()).
			Int("session_window_size", sess.WindowSize()).
			Msg("window size changed within session")
	}
	ticket := sess.Begin("rows:" + strconv.Itoa(rw.StartRow))

	res, err := d.Service.GetRows(ctx, rw)
	if err != nil {
		return err
	}
	current := sess.Commit(ticket)

	prefetch := d.PrefetchWindows
	if req.Prefetch != nil {
		prefetch = *req.Prefetch
	}
	if prefetch > 0 && current {
		bg := context.WithoutCancel(ctx)
		go func() {
			if err := d.Service.Prefetch(bg, rw, prefetch); err != nil {
				zerolog.Ctx(bg).Debug().Err(err).Msg("prefetch incomplete")
			}
		}()
	}

	return c.JSON(fiber.Map{
		"rows":      res.Rows,
		"total":     res.Total,
		"page":      rw.Page(),
		"sessionId": sess.ID,
		"stale":     !current,
		"staleData": res.StaleData,
	})
}

type trendRequest struct {
	SessionID   string           `json:"sessionId"`
	Indicator   ees.Indicator    `json:"indicator"`
	Location    ees.Location     `json:"location"`
	TimePeriods []ees.TimePeriod `json:"timePeriods" validate:"dive"`
}

func (d Dependencies) getTrend(c *fiber.Ctx) error {
	var req trendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sess := d.Sessions.Resolve(req.SessionID)
	ticket := sess.Begin("trend")

	points, err := d.Service.GetTrend(c.UserContext(), ees.TrendRequest{
		DataSetID:   c.Params("dataSetId"),
		Indicator:   req.Indicator,
		Location:    req.Location,
		TimePeriods: req.TimePeriods,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"points":    points,
		"missing":   ees.MissingPoints(points),
		"sessionId": sess.ID,
		"stale":     !sess.Commit(ticket),
	})
}

func (d Dependencies) cacheStats(c *fiber.Ctx) error {
	stats := make([]store.Stats, 0, len(d.Caches))
	for _, s := range d.Caches {
		stats = append(stats, s.Stats())
	}
	return c.JSON(fiber.Map{
		"caches":   stats,
		"sessions": d.Sessions.Len(),
	})
}
