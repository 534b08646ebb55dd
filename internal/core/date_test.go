package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name   string
		from   Date
		months int
		want   Date
	}{
		{"plain", NewDate(2024, 3, 15), 1, NewDate(2024, 4, 15)},
		{"31st into leap february", NewDate(2024, 1, 31), 1, NewDate(2024, 2, 29)},
		{"31st into non-leap february", NewDate(2023, 1, 31), 1, NewDate(2023, 2, 28)},
		{"31st into 30-day month", NewDate(2024, 3, 31), 1, NewDate(2024, 4, 30)},
		{"december rolls year", NewDate(2024, 12, 31), 1, NewDate(2025, 1, 31)},
		{"leap day plus a year", NewDate(2024, 2, 29), 12, NewDate(2025, 2, 28)},
		{"leap day plus four years", NewDate(2024, 2, 29), 48, NewDate(2028, 2, 29)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.from.AddMonthsClamped(tt.months)
			if !got.Equal(tt.want) {
				t.Errorf("AddMonthsClamped(%s, %d) = %s, want %s", tt.from, tt.months, got, tt.want)
			}
		})
	}
}

func TestDateOfDropsTime(t *testing.T) {
	got := DateOf(time.Date(2024, 5, 6, 23, 59, 0, 0, time.FixedZone("X", 3600)))
	if !got.Equal(NewDate(2024, 5, 6)) {
		t.Fatalf("DateOf = %s, want 2024-05-06", got)
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2024, 1, 8))
	if err != nil || string(b) != `"2024-01-08"` {
		t.Fatalf("marshal: %s (err=%v)", b, err)
	}

	var d Date
	if err := json.Unmarshal([]byte(`"2024-02-29"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d.Equal(NewDate(2024, 2, 29)) {
		t.Fatalf("unmarshal = %s", d)
	}
	if err := json.Unmarshal([]byte(`"2023-02-29"`), &d); err == nil {
		t.Fatalf("expected error for impossible date")
	}
}
