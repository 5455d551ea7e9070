package world

import (
	"testing"
	"time"
)

func TestAcceptTimestamp(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	skew := 5 * time.Second

	cases := []struct {
		name   string
		stored int64
		client int64
		want   bool
	}{
		{"newer wins", 900_000, 950_000, true},
		{"equal wins", 900_000, 900_000, true},
		{"older loses", 900_000, 899_999, false},
		{"future within skew wins", 900_000, 1_004_000, true},
		{"far future clamps to the skew ceiling", 900_000, 9_000_000_000, true},
		{"clamped value still loses to a newer stamp", 1_006_000, 9_000_000_000, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := acceptTimestamp(c.stored, c.client, now, skew); got != c.want {
				t.Errorf("acceptTimestamp(%d, %d) = %v, want %v", c.stored, c.client, got, c.want)
			}
		})
	}
}
