package weather

// MergeSeries combines a fine (hourly) and a coarse (3-hourly) series for
// the same location. Every fine record is kept; coarse records are added only
// beyond the last fine timestamp, so the coarse product extends the horizon
// without overriding the fine window. The result is sorted by time with no
// duplicate instants.
func MergeSeries(fine, coarse Series) Series {
	merged := make(Series, 0, len(fine)+len(coarse))
	merged = append(merged, fine...)

	latest, ok := fine.Latest()
	for _, p := range coarse {
		if !ok || p.Time.After(latest) {
			merged = append(merged, p)
		}
	}

	merged.SortByTime()

	// A stable sort keeps fine records ahead of anything sharing their instant.
	out := merged[:0]
	for i, p := range merged {
		if i > 0 && p.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, p)
	}
	return out
}
