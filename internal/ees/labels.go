package ees

// LocationLevelLA is the local-authority level, used as a label fallback
// when a record has no entry for the selected level.
const LocationLevelLA = "LA"

// LocationLabel picks the display label for a record's location: the
// record's entry for the selected level, then its LA entry, then its own
// location label, then the selected location's label, then its code.
func LocationLabel(rec Record, sel Location) string {
	if v, ok := rec.Locations[sel.Level]; ok {
		return v
	}
	if v, ok := rec.Locations[LocationLevelLA]; ok {
		return v
	}
	if rec.LocationLabel != nil {
		return *rec.LocationLabel
	}
	if sel.Label != "" {
		return sel.Label
	}
	return sel.Code
}

// TimePeriodLabel picks the display label for a record's period: the
// record's label, then its period, then the selected period's label, then
// its period string.
func TimePeriodLabel(rec Record, sel TimePeriod) string {
	if rec.TimePeriodLabel != nil {
		return *rec.TimePeriodLabel
	}
	if rec.TimePeriod != nil {
		return *rec.TimePeriod
	}
	if sel.Label != "" {
		return sel.Label
	}
	return sel.Period
}
