package services

import (
	"errors"
	"testing"

	"conti/internal/core"
)

func TestWeeklyAdvancer_Next(t *testing.T) {
	tests := []struct {
		name string
		due  core.Date
		want core.Date
	}{
		{"mid month", core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 8)},
		{"crosses month", core.NewDate(2024, 1, 29), core.NewDate(2024, 2, 5)},
		{"crosses year", core.NewDate(2023, 12, 28), core.NewDate(2024, 1, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeeklyAdvancer{}.Next(tt.due)
			if !got.Equal(tt.want) {
				t.Errorf("WeeklyAdvancer.Next(%s) = %s, want %s", tt.due, got, tt.want)
			}
		})
	}
}

func TestMonthlyAdvancer_Next(t *testing.T) {
	tests := []struct {
		name string
		due  core.Date
		want core.Date
	}{
		{"same day next month", core.NewDate(2024, 1, 15), core.NewDate(2024, 2, 15)},
		{"31st into leap february", core.NewDate(2024, 1, 31), core.NewDate(2024, 2, 29)},
		{"31st into february", core.NewDate(2023, 1, 31), core.NewDate(2023, 2, 28)},
		{"31st into 30 day month", core.NewDate(2024, 3, 31), core.NewDate(2024, 4, 30)},
		{"december rolls the year", core.NewDate(2024, 12, 10), core.NewDate(2025, 1, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MonthlyAdvancer{}.Next(tt.due)
			if !got.Equal(tt.want) {
				t.Errorf("MonthlyAdvancer.Next(%s) = %s, want %s", tt.due, got, tt.want)
			}
		})
	}
}

func TestYearlyAdvancer_Next(t *testing.T) {
	tests := []struct {
		name string
		due  core.Date
		want core.Date
	}{
		{"plain date", core.NewDate(2024, 6, 1), core.NewDate(2025, 6, 1)},
		{"leap day into common year", core.NewDate(2024, 2, 29), core.NewDate(2025, 2, 28)},
		{"feb 28 stays", core.NewDate(2023, 2, 28), core.NewDate(2024, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := YearlyAdvancer{}.Next(tt.due)
			if !got.Equal(tt.want) {
				t.Errorf("YearlyAdvancer.Next(%s) = %s, want %s", tt.due, got, tt.want)
			}
		})
	}
}

func TestGetPeriodAdvancer(t *testing.T) {
	for _, f := range []core.Frequency{core.Weekly, core.Monthly, core.Yearly} {
		if _, err := GetPeriodAdvancer(f); err != nil {
			t.Errorf("GetPeriodAdvancer(%s) error = %v", f, err)
		}
	}

	_, err := GetPeriodAdvancer("fortnightly")
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("GetPeriodAdvancer(fortnightly) error = %v, want validation error", err)
	}
}

// Every frequency a rule can be stored with has an advancer.
func TestEveryValidFrequencyHasAdvancer(t *testing.T) {
	for _, f := range []core.Frequency{core.Weekly, core.Monthly, core.Yearly} {
		if !f.Valid() {
			t.Fatalf("%s should be valid", f)
		}
		if _, err := GetPeriodAdvancer(f); err != nil {
			t.Errorf("GetPeriodAdvancer(%s) error = %v", f, err)
		}
	}
	if len(advancers) != 3 {
		t.Errorf("advancers has %d entries, want 3", len(advancers))
	}
}

// Advancing never moves a date backwards and never stays put.
func TestAdvancersStrictlyIncrease(t *testing.T) {
	start := core.NewDate(2023, 1, 1)
	for _, f := range []core.Frequency{core.Weekly, core.Monthly, core.Yearly} {
		a, _ := GetPeriodAdvancer(f)
		for d := start; d.Before(core.NewDate(2025, 1, 1)); d = d.AddDays(1) {
			if next := a.Next(d); !next.After(d) {
				t.Fatalf("%s: Next(%s) = %s", f, d, next)
			}
		}
	}
}
