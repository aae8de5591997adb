package ees

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// UnknownLevel is the level reported for grouped locations whose group has
// no level code.
const UnknownLevel = "UNKNOWN"

// LocationOption is one selectable location from data-set metadata.
// Level and LevelLabel are nil when the upstream did not provide them.
type LocationOption struct {
	ID         string  `json:"id,omitempty"`
	Code       string  `json:"code"`
	Label      string  `json:"label,omitempty"`
	OldCode    string  `json:"oldCode,omitempty"`
	Level      *string `json:"level,omitempty"`
	LevelLabel *string `json:"levelLabel,omitempty"`
}

// LevelCode returns the option's level, or UnknownLevel.
func (o LocationOption) LevelCode() string {
	if o.Level == nil || *o.Level == "" {
		return UnknownLevel
	}
	return *o.Level
}

// Key is the "<level>|<code>" identity used by location pickers.
func (o LocationOption) Key() string {
	return o.LevelCode() + "|" + o.Code
}

// Location converts the option into a query selection. The label
// defaults to the code.
func (o LocationOption) Location() Location {
	label := o.Label
	if label == "" {
		label = o.Code
	}
	return Location{
		Level:   o.LevelCode(),
		Code:    o.Code,
		ID:      o.ID,
		Label:   label,
		OldCode: o.OldCode,
	}
}

// Metadata is the flattened metadata of one data set.
type Metadata struct {
	DataSetID   string           `json:"dataSetId"`
	Indicators  []Indicator      `json:"indicators"`
	TimePeriods []TimePeriod     `json:"timePeriods"`
	Locations   []LocationOption `json:"locations"`
	Filters     any              `json:"filters,omitempty"`
}

// ParseMetadata reads a metadata response body.
func ParseMetadata(dataSetID string, body []byte) (*Metadata, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedResponse, root.Type)
	}

	md := &Metadata{
		DataSetID:   dataSetID,
		Indicators:  []Indicator{},
		TimePeriods: []TimePeriod{},
		Locations:   FlattenLocations(root.Get("locations")),
	}
	if f := root.Get("filters"); f.Exists() {
		md.Filters = f.Value()
	}

	root.Get("indicators").ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		ind := Indicator{
			ID:     v.Get("id").String(),
			Column: v.Get("column").String(),
			Label:  v.Get("label").String(),
		}
		if dp := v.Get("decimalPlaces"); dp.Type == gjson.Number {
			n := int(dp.Int())
			ind.DecimalPlaces = &n
		}
		md.Indicators = append(md.Indicators, ind)
		return true
	})

	root.Get("timePeriods").ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		md.TimePeriods = append(md.TimePeriods, TimePeriod{
			Code:   v.Get("code").String(),
			Period: v.Get("period").String(),
			Label:  v.Get("label").String(),
		})
		return true
	})

	return md, nil
}

// locationShape is one of the layouts the upstream uses for locations.
type locationShape interface {
	flatten() []LocationOption
}

// groupedLocations is an array of {level:{code,label}, options:[...]}.
type groupedLocations struct{ groups gjson.Result }

// flatLocations is an array of options, returned as-is.
type flatLocations struct{ items gjson.Result }

// mappedLocations is an object whose values are arrays of options.
type mappedLocations struct{ object gjson.Result }

func detectLocationShape(raw gjson.Result) locationShape {
	switch {
	case raw.IsArray():
		first := raw.Get("0")
		if truthy(first.Get("level.code")) && first.Get("options").IsArray() {
			return groupedLocations{groups: raw}
		}
		return flatLocations{items: raw}
	case raw.IsObject():
		return mappedLocations{object: raw}
	default:
		return nil
	}
}

// FlattenLocations normalizes any of the upstream location layouts into a
// single list. Grouped options get their group's level (UnknownLevel when
// absent) and level label ("" when absent); flat and mapped options keep
// whatever level fields they carry.
func FlattenLocations(raw gjson.Result) []LocationOption {
	shape := detectLocationShape(raw)
	if shape == nil {
		return []LocationOption{}
	}
	return shape.flatten()
}

func (g groupedLocations) flatten() []LocationOption {
	out := []LocationOption{}
	g.groups.ForEach(func(_, group gjson.Result) bool {
		level := UnknownLevel
		if c := group.Get("level.code"); c.Exists() && c.Type != gjson.Null {
			level = c.String()
		}
		levelLabel := ""
		if l := group.Get("level.label"); l.Exists() && l.Type != gjson.Null {
			levelLabel = l.String()
		}
		group.Get("options").ForEach(func(_, opt gjson.Result) bool {
			if !opt.IsObject() {
				return true
			}
			o := parseLocationOption(opt)
			o.Level = &level
			o.LevelLabel = &levelLabel
			out = append(out, o)
			return true
		})
		return true
	})
	return out
}

func (f flatLocations) flatten() []LocationOption {
	out := []LocationOption{}
	f.items.ForEach(func(_, opt gjson.Result) bool {
		if opt.IsObject() {
			out = append(out, parseLocationOption(opt))
		}
		return true
	})
	return out
}

func (m mappedLocations) flatten() []LocationOption {
	out := []LocationOption{}
	m.object.ForEach(func(_, v gjson.Result) bool {
		if !v.IsArray() {
			return true
		}
		v.ForEach(func(_, opt gjson.Result) bool {
			if opt.IsObject() {
				out = append(out, parseLocationOption(opt))
			}
			return true
		})
		return true
	})
	return out
}

func parseLocationOption(v gjson.Result) LocationOption {
	o := LocationOption{
		ID:      v.Get("id").String(),
		Code:    v.Get("code").String(),
		Label:   v.Get("label").String(),
		OldCode: v.Get("oldCode").String(),
	}
	if lv := v.Get("level"); lv.Exists() && lv.Type != gjson.Null {
		s := lv.String()
		if lv.IsObject() {
			s = lv.Get("code").String()
		}
		o.Level = &s
	}
	if ll := v.Get("levelLabel"); ll.Exists() && ll.Type != gjson.Null {
		s := ll.String()
		o.LevelLabel = &s
	}
	return o
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

// FindIndicator returns the indicator with the given id. The label
// defaults to the id and decimal places to 0.
func (m *Metadata) FindIndicator(id string) (Indicator, bool) {
	for _, ind := range m.Indicators {
		if ind.ID != id {
			continue
		}
		if ind.Label == "" {
			ind.Label = ind.ID
		}
		if ind.DecimalPlaces == nil {
			zero := 0
			ind.DecimalPlaces = &zero
		}
		return ind, true
	}
	return Indicator{}, false
}

// FindTimePeriod returns the period matching code and period.
func (m *Metadata) FindTimePeriod(code, period string) (TimePeriod, bool) {
	for _, tp := range m.TimePeriods {
		if tp.Code == code && tp.Period == period {
			return tp, true
		}
	}
	return TimePeriod{}, false
}

// FindLocation returns the location option at level with code.
func (m *Metadata) FindLocation(level, code string) (Location, bool) {
	for _, o := range m.Locations {
		if o.Code == code && o.LevelCode() == level {
			return o.Location(), true
		}
	}
	return Location{}, false
}

// LatestTimePeriods returns the last n periods in metadata order.
func (m *Metadata) LatestTimePeriods(n int) []TimePeriod {
	if n <= 0 || len(m.TimePeriods) == 0 {
		return nil
	}
	if n > len(m.TimePeriods) {
		n = len(m.TimePeriods)
	}
	out := make([]TimePeriod, n)
	copy(out, m.TimePeriods[len(m.TimePeriods)-n:])
	return out
}
