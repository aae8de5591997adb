package ees

// AggregateTrend turns the records of a trend query into one point per
// requested period, in the order requested. A period with no matching
// record, or whose value cannot be read as a number, gets a nil value.
func AggregateTrend(records []Record, ind Indicator, periods []TimePeriod) []TrendPoint {
	points := make([]TrendPoint, 0, len(periods))
	for _, tp := range periods {
		rec, ok := findPeriodRecord(records, tp)
		if !ok {
			label := tp.Label
			if label == "" {
				label = tp.Period
			}
			points = append(points, TrendPoint{Period: label, Value: nil})
			continue
		}
		points = append(points, TrendPoint{
			Period: TimePeriodLabel(rec, tp),
			Value:  ExtractTrendValue(rec, ind),
		})
	}
	return points
}

// findPeriodRecord returns the first record for tp. A record matches on its
// period string, and on its code when it has one.
func findPeriodRecord(records []Record, tp TimePeriod) (Record, bool) {
	for _, rec := range records {
		if rec.TimePeriod == nil || *rec.TimePeriod != tp.Period {
			continue
		}
		if rec.TimePeriodCode != nil && *rec.TimePeriodCode != "" && *rec.TimePeriodCode != tp.Code {
			continue
		}
		return rec, true
	}
	return Record{}, false
}

// MissingPoints counts points without a value.
func MissingPoints(points []TrendPoint) int {
	n := 0
	for _, p := range points {
		if p.Value == nil {
			n++
		}
	}
	return n
}
