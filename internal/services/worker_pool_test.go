package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkVessels(t *testing.T) {
	vessels := []string{"9700001", "9700002", "9700003", "9700004", "9700005"}

	tests := []struct {
		name    string
		vessels []string
		size    int
		want    [][]string
	}{
		{name: "empty roster", vessels: nil, size: 3, want: nil},
		{name: "non-positive size", vessels: vessels, size: 0, want: [][]string{vessels}},
		{name: "size covers roster", vessels: vessels, size: 10, want: [][]string{vessels}},
		{
			name:    "uneven split",
			vessels: vessels,
			size:    2,
			want: [][]string{
				{"9700001", "9700002"},
				{"9700003", "9700004"},
				{"9700005"},
			},
		},
		{
			name:    "exact split",
			vessels: vessels[:4],
			size:    2,
			want: [][]string{
				{"9700001", "9700002"},
				{"9700003", "9700004"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkVessels(tt.vessels, tt.size))
		})
	}
}
