package ees

import (
	"net/url"
	"strings"
)

// MetaTypes are the metadata sections requested when loading a data set.
var MetaTypes = []string{"Filters", "Indicators", "Locations", "TimePeriods"}

// QueryRequest is the body of a data-set query.
type QueryRequest struct {
	Indicators []string `json:"indicators"`
	Criteria   Criteria `json:"criteria"`
	Page       int      `json:"page,omitempty"`
	PageSize   int      `json:"pageSize,omitempty"`
	Sorts      []Sort   `json:"sorts,omitempty"`
	Debug      bool     `json:"debug"`
}

// Criteria is a conjunction of filter clauses.
type Criteria struct {
	And []Clause `json:"and"`
}

// Clause filters on exactly one of its fields.
type Clause struct {
	TimePeriods *TimePeriodFilter `json:"timePeriods,omitempty"`
	Locations   *LocationFilter   `json:"locations,omitempty"`
}

type TimePeriodFilter struct {
	Eq *PeriodRef  `json:"eq,omitempty"`
	In []PeriodRef `json:"in,omitempty"`
}

type PeriodRef struct {
	Code   string `json:"code"`
	Period string `json:"period"`
}

type LocationFilter struct {
	Eq *LocationRef `json:"eq,omitempty"`
}

type LocationRef struct {
	Level string `json:"level"`
	Code  string `json:"code"`
}

// PageQueryParams describes one page of a filtered table.
type PageQueryParams struct {
	DataSetID string
	Selection Selection
	Page      int
	PageSize  int
	Sort      *Sort
}

// TrendQueryParams describes the multi-period query behind a trend chart.
type TrendQueryParams struct {
	DataSetID   string
	Indicator   Indicator
	Location    Location
	TimePeriods []TimePeriod
	PageSize    int
}

// DefaultTrendPageSize is large enough to return every row of a trend in one page.
const DefaultTrendPageSize = 2000

// PageForWindow maps a zero-based window start row to a one-based page.
func PageForWindow(startRow, windowSize int) int {
	if windowSize <= 0 || startRow < 0 {
		return 1
	}
	return startRow/windowSize + 1
}

// BuildPageQuery builds the body for a single filtered, sorted page.
func BuildPageQuery(p PageQueryParams) (QueryRequest, error) {
	if err := validateSelection(p.DataSetID, p.Selection); err != nil {
		return QueryRequest{}, err
	}
	if p.Page < 1 {
		return QueryRequest{}, invalid("page", "must be >= 1")
	}
	if p.PageSize < 1 {
		return QueryRequest{}, invalid("pageSize", "must be >= 1")
	}

	tp := p.Selection.TimePeriod
	loc := p.Selection.Location
	req := QueryRequest{
		Indicators: []string{p.Selection.Indicator.ID},
		Criteria: Criteria{And: []Clause{
			{TimePeriods: &TimePeriodFilter{Eq: &PeriodRef{Code: tp.Code, Period: tp.Period}}},
			{Locations: &LocationFilter{Eq: &LocationRef{Level: loc.Level, Code: loc.Code}}},
		}},
		Page:     p.Page,
		PageSize: p.PageSize,
		Debug:    true,
	}
	if p.Sort != nil && p.Sort.Field != "" {
		req.Sorts = []Sort{*p.Sort}
	}
	return req, nil
}

// BuildTrendQuery builds the body for one indicator at one location across
// several time periods, returned in a single large page.
func BuildTrendQuery(p TrendQueryParams) (QueryRequest, error) {
	if strings.TrimSpace(p.DataSetID) == "" {
		return QueryRequest{}, missing("dataSetId")
	}
	if p.Indicator.ID == "" {
		return QueryRequest{}, missing("indicator.id")
	}
	if p.Location.Level == "" || p.Location.Code == "" {
		return QueryRequest{}, missing("location")
	}
	if len(p.TimePeriods) == 0 {
		return QueryRequest{}, missing("timePeriods")
	}

	periods := make([]PeriodRef, 0, len(p.TimePeriods))
	for _, tp := range p.TimePeriods {
		periods = append(periods, PeriodRef{Code: tp.Code, Period: tp.Period})
	}
	size := p.PageSize
	if size <= 0 {
		size = DefaultTrendPageSize
	}

	return QueryRequest{
		Indicators: []string{p.Indicator.ID},
		Criteria: Criteria{And: []Clause{
			{Locations: &LocationFilter{Eq: &LocationRef{Level: p.Location.Level, Code: p.Location.Code}}},
			{TimePeriods: &TimePeriodFilter{In: periods}},
		}},
		Page:     1,
		PageSize: size,
		Debug:    true,
	}, nil
}

// QueryURL is the upstream endpoint for a data-set query.
func QueryURL(base, dataSetID, version string) string {
	u := strings.TrimRight(base, "/") + "/data-sets/" + url.PathEscape(dataSetID) + "/query"
	if version != "" {
		u += "?" + url.Values{"dataSetVersion": {version}}.Encode()
	}
	return u
}

// MetaURL is the upstream endpoint for data-set metadata. Each type is sent
// as a repeated "types" parameter.
func MetaURL(base, dataSetID string, types []string, version string) string {
	u := strings.TrimRight(base, "/") + "/data-sets/" + url.PathEscape(dataSetID) + "/meta"
	q := url.Values{}
	for _, t := range types {
		q.Add("types", t)
	}
	if version != "" {
		q.Set("dataSetVersion", version)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func validateSelection(dataSetID string, sel Selection) error {
	switch {
	case strings.TrimSpace(dataSetID) == "":
		return missing("dataSetId")
	case sel.Indicator.ID == "":
		return missing("indicator.id")
	case sel.TimePeriod.Code == "" || sel.TimePeriod.Period == "":
		return missing("timePeriod")
	case sel.Location.Level == "" || sel.Location.Code == "":
		return missing("location")
	}
	return nil
}
