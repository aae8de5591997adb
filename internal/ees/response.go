package ees

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// RawKind tags the JSON type of a raw upstream value.
type RawKind int

const (
	RawAbsent RawKind = iota
	RawNull
	RawNumber
	RawText
	RawOther
)

// RawValue is a value as it appeared in an upstream record, before any
// numeric coercion.
type RawValue struct {
	Kind   RawKind
	Number float64
	Text   string
}

// Present reports whether the value exists and is not JSON null.
func (r RawValue) Present() bool {
	return r.Kind != RawAbsent && r.Kind != RawNull
}

// Entry is one key of a record's value mapping.
type Entry struct {
	Key string
	Raw RawValue
}

// Record is one upstream result row. Values keep the document order of the
// upstream mapping.
type Record struct {
	Values          []Entry
	Locations       map[string]string
	LocationLabel   *string
	TimePeriodLabel *string
	TimePeriod      *string
	TimePeriodCode  *string
	Raw             map[string]any
}

// Lookup returns the value stored under key, or an absent value.
func (r Record) Lookup(key string) RawValue {
	for _, e := range r.Values {
		if e.Key == key {
			return e.Raw
		}
	}
	return RawValue{}
}

// First returns the first value in document order, or an absent value.
func (r Record) First() RawValue {
	if len(r.Values) == 0 {
		return RawValue{}
	}
	return r.Values[0].Raw
}

// QueryResponse is the parsed body of a data-set query.
type QueryResponse struct {
	Records []Record
	Total   int
}

// ParseQueryResponse reads result rows from "results" (falling back to
// "data") and the total from "paging.totalResults" (falling back to "total",
// then to the number of rows).
func ParseQueryResponse(body []byte) (QueryResponse, error) {
	if !gjson.ValidBytes(body) {
		return QueryResponse{}, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return QueryResponse{}, fmt.Errorf("%w: expected object, got %s", ErrMalformedResponse, root.Type)
	}

	results := firstPresent(root, "results", "data")
	var resp QueryResponse
	switch {
	case !results.Exists():
	case results.IsArray():
		results.ForEach(func(_, item gjson.Result) bool {
			resp.Records = append(resp.Records, parseRecord(item))
			return true
		})
	default:
		return QueryResponse{}, fmt.Errorf("%w: results is %s", ErrMalformedResponse, results.Type)
	}

	total := firstPresent(root, "paging.totalResults", "total")
	if total.Exists() {
		resp.Total = int(total.Int())
	} else {
		resp.Total = len(resp.Records)
	}
	return resp, nil
}

func parseRecord(item gjson.Result) Record {
	var rec Record
	if !item.IsObject() {
		return rec
	}
	if m, ok := item.Value().(map[string]any); ok {
		rec.Raw = m
	}

	if values := item.Get("values"); values.IsObject() {
		values.ForEach(func(k, v gjson.Result) bool {
			rec.Values = append(rec.Values, Entry{Key: k.String(), Raw: rawFromJSON(v)})
			return true
		})
	}

	if locs := item.Get("locations"); locs.IsObject() {
		rec.Locations = make(map[string]string)
		locs.ForEach(func(k, v gjson.Result) bool {
			if v.Type != gjson.Null {
				rec.Locations[k.String()] = v.String()
			}
			return true
		})
	}

	rec.LocationLabel = optionalString(item.Get("location.label"))
	rec.TimePeriodLabel = optionalString(item.Get("timePeriod.label"))
	rec.TimePeriod = optionalString(item.Get("timePeriod.period"))
	rec.TimePeriodCode = optionalString(item.Get("timePeriod.code"))
	return rec
}

func rawFromJSON(v gjson.Result) RawValue {
	switch v.Type {
	case gjson.Null:
		return RawValue{Kind: RawNull}
	case gjson.Number:
		return RawValue{Kind: RawNumber, Number: v.Num}
	case gjson.String:
		return RawValue{Kind: RawText, Text: v.Str}
	default:
		return RawValue{Kind: RawOther, Text: v.Raw}
	}
}

// firstPresent returns the first path whose value exists and is not null.
func firstPresent(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := root.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func optionalString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := r.String()
	return &s
}
