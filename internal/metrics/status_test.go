package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenStatusCounts(t *testing.T) {
	tests := []struct {
		name   string
		counts map[int]int64
		want   []StatusBucket
	}{
		{
			name:   "nil counts",
			counts: nil,
			want:   nil,
		},
		{
			name:   "single code",
			counts: map[int]int64{StatusAckTimeout: 3},
			want: []StatusBucket{
				{Code: "504", Label: "ack timeout", Count: 3},
			},
		},
		{
			name: "sorted by count desc then code",
			counts: map[int]int64{
				StatusTransportError: 5,
				StatusBadRequest:     5,
				StatusAckTimeout:     9,
			},
			want: []StatusBucket{
				{Code: "504", Label: "ack timeout", Count: 9},
				{Code: "400", Label: "rejected", Count: 5},
				{Code: "500", Label: "transport error", Count: 5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenStatusCounts(tt.counts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenStatusCounts() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
