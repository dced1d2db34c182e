package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

func TestReservationOverlaps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		t0       time.Time
		t1       time.Time
		expected bool
	}{
		{
			name:     "fully inside window",
			start:    base.Add(1 * time.Hour),
			end:      base.Add(2 * time.Hour),
			t0:       base,
			t1:       base.Add(3 * time.Hour),
			expected: true,
		},
		{
			name:     "fully contains window",
			start:    base,
			end:      base.Add(10 * time.Hour),
			t0:       base.Add(1 * time.Hour),
			t1:       base.Add(2 * time.Hour),
			expected: true,
		},
		{
			name:     "ends exactly at window start is not an overlap",
			start:    base,
			end:      base.Add(1 * time.Hour),
			t0:       base.Add(1 * time.Hour),
			t1:       base.Add(2 * time.Hour),
			expected: false,
		},
		{
			name:     "starts exactly at window end is not an overlap",
			start:    base.Add(2 * time.Hour),
			end:      base.Add(3 * time.Hour),
			t0:       base.Add(1 * time.Hour),
			t1:       base.Add(2 * time.Hour),
			expected: false,
		},
		{
			name:     "entirely before window",
			start:    base,
			end:      base.Add(1 * time.Hour),
			t0:       base.Add(2 * time.Hour),
			t1:       base.Add(3 * time.Hour),
			expected: false,
		},
		{
			name:     "entirely after window",
			start:    base.Add(5 * time.Hour),
			end:      base.Add(6 * time.Hour),
			t0:       base,
			t1:       base.Add(1 * time.Hour),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &types.Reservation{StartDate: tt.start, EndDate: tt.end}
			assert.Equal(t, tt.expected, r.Overlaps(tt.t0, tt.t1))
		})
	}
}

func TestReservationActive(t *testing.T) {
	tests := []struct {
		name     string
		status   types.ReservationStatus
		expected bool
	}{
		{"reserved counts as active", types.ReservationReserved, true},
		{"started counts as active", types.ReservationStarted, true},
		{"stopped does not count", types.ReservationStopped, false},
		{"error does not count", types.ReservationError, false},
		{"restart does not count", types.ReservationRestart, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &types.Reservation{Status: tt.status}
			assert.Equal(t, tt.expected, r.Active())
		})
	}
}
