package followup

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func date(y, m, d int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: d}
}

func TestAgeInYears_SameDayIsZero(t *testing.T) {
	for _, d := range []civil.Date{date(2000, 1, 1), date(1988, 2, 29), date(2024, 12, 31)} {
		if got := AgeInYears(d, d); got != 0 {
			t.Errorf("AgeInYears(%s, %s) = %d, want 0", d, d, got)
		}
	}
}

func TestAgeInYears_Birthday(t *testing.T) {
	tests := []struct {
		birth, ref civil.Date
		want       int
	}{
		{date(2000, 3, 10), date(2024, 3, 9), 23},
		{date(2000, 3, 10), date(2024, 3, 10), 24},
		{date(2000, 3, 10), date(2024, 2, 28), 23},
		{date(2000, 3, 10), date(2024, 4, 1), 24},
		{date(1960, 12, 31), date(2025, 1, 1), 64},
		{date(2000, 2, 29), date(2023, 2, 28), 22},
		{date(2000, 2, 29), date(2023, 3, 1), 23},
	}
	for _, tt := range tests {
		if got := AgeInYears(tt.birth, tt.ref); got != tt.want {
			t.Errorf("AgeInYears(%s, %s) = %d, want %d", tt.birth, tt.ref, got, tt.want)
		}
	}
}

func TestElapsedMonths(t *testing.T) {
	tests := []struct {
		start, end civil.Date
		want       int
	}{
		{date(2023, 1, 15), date(2023, 6, 1), 5},
		{date(2023, 6, 1), date(2023, 1, 15), -5},
		{date(2022, 11, 30), date(2023, 1, 1), 2},
		{date(2023, 1, 31), date(2023, 2, 1), 1},
		{date(2023, 5, 1), date(2023, 5, 31), 0},
		{date(2020, 1, 1), date(2024, 1, 1), 48},
	}
	for _, tt := range tests {
		if got := ElapsedMonths(tt.start, tt.end); got != tt.want {
			t.Errorf("ElapsedMonths(%s, %s) = %d, want %d", tt.start, tt.end, got, tt.want)
		}
	}
}
