package candle

import "sort"

// Merge collapses candles gathered from several chunks into one series.
// The first occurrence of each timestamp wins; the survivors are sorted
// ascending. Merge(Merge(x)) == Merge(x).
func Merge(all []Candle) []Candle {
	if len(all) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(all))
	unique := make([]Candle, 0, len(all))
	for _, c := range all {
		key := c.Time.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Time.Before(unique[j].Time)
	})
	return unique
}
