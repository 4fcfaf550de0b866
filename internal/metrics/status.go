package metrics

import (
	"sort"
	"strconv"
)

// StatusBucket is the aggregated count for one outcome status code.
type StatusBucket struct {
	Code  string `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
	Count int64  `json:"count" yaml:"count"`
}

// FlattenStatusCounts converts a code->count map into rows sorted by
// descending count, then by code for stability.
func FlattenStatusCounts(counts map[int]int64) []StatusBucket {
	if len(counts) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(counts))
	for code, count := range counts {
		rows = append(rows, StatusBucket{Code: strconv.Itoa(code), Label: StatusText(code), Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Code < rows[j].Code
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
