package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestNextAfter(t *testing.T) {
	t.Parallel()

	utc := time.UTC
	at := func(y int, m time.Month, d, h, mi int) time.Time { return time.Date(y, m, d, h, mi, 0, 0, utc) }

	tests := []struct {
		name string
		r    Recurrence
		a    Anchor
		now  time.Time
		want *time.Time
	}{
		{"daily later today", Daily, Anchor{TimeOfDay: "11:00"}, at(2026, 5, 6, 10, 0), ptr(at(2026, 5, 6, 11, 0))},
		{"daily passed rolls to tomorrow", Daily, Anchor{TimeOfDay: "09:00"}, at(2026, 5, 6, 10, 0), ptr(at(2026, 5, 7, 9, 0))},
		{"daily at slot is strictly after", Daily, Anchor{TimeOfDay: "09:00"}, at(2026, 5, 6, 9, 0), ptr(at(2026, 5, 7, 9, 0))},
		{"daily month end", Daily, Anchor{TimeOfDay: "9:30"}, at(2026, 1, 31, 12, 0), ptr(at(2026, 2, 1, 9, 30))},
		// 2026-05-06 is a Wednesday
		{"weekly later this week", Weekly, Anchor{TimeOfDay: "08:00", Weekday: time.Friday}, at(2026, 5, 6, 10, 0), ptr(at(2026, 5, 8, 8, 0))},
		{"weekly same day passed", Weekly, Anchor{TimeOfDay: "08:00", Weekday: time.Wednesday}, at(2026, 5, 6, 10, 0), ptr(at(2026, 5, 13, 8, 0))},
		{"weekly sunday wraps", Weekly, Anchor{TimeOfDay: "00:00", Weekday: time.Sunday}, at(2026, 5, 9, 23, 59), ptr(at(2026, 5, 10, 0, 0))},
		{"monthly this month", Monthly, Anchor{TimeOfDay: "09:00", DayOfMonth: 15}, at(2026, 5, 6, 10, 0), ptr(at(2026, 5, 15, 9, 0))},
		{"monthly 31st clamps to april 30", Monthly, Anchor{TimeOfDay: "09:00", DayOfMonth: 31}, at(2026, 3, 31, 9, 0), ptr(at(2026, 4, 30, 9, 0))},
		{"monthly 31st clamps to february", Monthly, Anchor{TimeOfDay: "09:00", DayOfMonth: 31}, at(2026, 1, 31, 10, 0), ptr(at(2026, 2, 28, 9, 0))},
		{"monthly leap february", Monthly, Anchor{TimeOfDay: "09:00", DayOfMonth: 30}, at(2028, 2, 1, 0, 0), ptr(at(2028, 2, 29, 9, 0))},
		{"monthly year rollover", Monthly, Anchor{TimeOfDay: "09:00", DayOfMonth: 15}, at(2026, 12, 20, 0, 0), ptr(at(2027, 1, 15, 9, 0))},
		{"once future", Once, Anchor{At: at(2026, 6, 1, 12, 0)}, at(2026, 5, 6, 10, 0), ptr(at(2026, 6, 1, 12, 0))},
		{"once past", Once, Anchor{At: at(2026, 5, 1, 12, 0)}, at(2026, 5, 6, 10, 0), nil},
		{"once now is past", Once, Anchor{At: at(2026, 5, 6, 10, 0)}, at(2026, 5, 6, 10, 0), nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextAfter(tt.r, tt.a, tt.now, utc)
			if err != nil {
				t.Fatalf("NextAfter() error = %v", err)
			}
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil || !got.Equal(*tt.want):
				t.Fatalf("NextAfter() = %v, want %v", got, tt.want)
			}
			if got != nil && !got.After(tt.now) {
				t.Fatalf("NextAfter() = %v is not after %v", got, tt.now)
			}
		})
	}
}

func TestNextAfterAcrossDST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// clocks spring forward on 2026-03-08
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, ny)
	got, err := NextAfter(Daily, Anchor{TimeOfDay: "09:00"}, now, ny)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}
	if l := got.In(ny); l.Day() != 8 || l.Hour() != 9 || l.Minute() != 0 {
		t.Fatalf("NextAfter() = %v, want 2026-03-08 09:00 local", l)
	}
	if d := got.Sub(now); d != 22*time.Hour {
		t.Fatalf("gap = %v, want 22h across the DST shift", d)
	}
}

func TestValidateRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    Recurrence
		a    Anchor
		ok   bool
	}{
		{"once without at", Once, Anchor{}, false},
		{"daily ok", Daily, Anchor{TimeOfDay: "23:59"}, true},
		{"daily bad hour", Daily, Anchor{TimeOfDay: "24:00"}, false},
		{"daily bad format", Daily, Anchor{TimeOfDay: "9am"}, false},
		{"daily single digit minute", Daily, Anchor{TimeOfDay: "9:5"}, false},
		{"weekly bad weekday", Weekly, Anchor{TimeOfDay: "09:00", Weekday: 7}, false},
		{"monthly missing day", Monthly, Anchor{TimeOfDay: "09:00"}, false},
		{"monthly 31", Monthly, Anchor{TimeOfDay: "09:00", DayOfMonth: 31}, true},
		{"unknown recurrence", Recurrence("hourly"), Anchor{TimeOfDay: "09:00"}, false},
	}
	for _, tt := range tests {
		err := ValidateRule(tt.r, tt.a)
		if (err == nil) != tt.ok {
			t.Fatalf("%s: ValidateRule() = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: error %v does not wrap ErrInvalid", tt.name, err)
		}
	}
}

func ptr[T any](v T) *T { return &v }
