package billing

import "testing"

func TestProrate(t *testing.T) {
	tests := []struct {
		name        string
		oldPrice    int64
		newPrice    int64
		cycleDays   int
		elapsedDays int
		want        int64
	}{
		// 2900 -> 9900 at day 10 of 30: 7000 * 20 / 30 = 4666.67 -> 4667.
		{name: "upgrade mid cycle", oldPrice: 2900, newPrice: 9900, cycleDays: 30, elapsedDays: 10, want: 4667},
		{name: "downgrade mid cycle", oldPrice: 9900, newPrice: 2900, cycleDays: 30, elapsedDays: 10, want: -4667},
		{name: "same plan is zero", oldPrice: 2900, newPrice: 2900, cycleDays: 30, elapsedDays: 13, want: 0},
		{name: "day zero full delta", oldPrice: 2900, newPrice: 9900, cycleDays: 30, elapsedDays: 0, want: 7000},
		{name: "last day is zero", oldPrice: 2900, newPrice: 9900, cycleDays: 30, elapsedDays: 30, want: 0},
		{name: "upgrade from free", oldPrice: 0, newPrice: 2900, cycleDays: 30, elapsedDays: 15, want: 1450},
		// 100 * 1 / 3 = 33.33 -> 33; half-up only fires at >= .5.
		{name: "rounds down below half", oldPrice: 0, newPrice: 100, cycleDays: 3, elapsedDays: 2, want: 33},
		// 100 * 1 / 2 = 50 exactly.
		{name: "exact half cycle", oldPrice: 0, newPrice: 100, cycleDays: 2, elapsedDays: 1, want: 50},
		// -7000 * 15 / 30 = -3500; negative rounds away from zero.
		{name: "credit half cycle", oldPrice: 9900, newPrice: 2900, cycleDays: 30, elapsedDays: 15, want: -3500},
	}

	for _, tt := range tests {
		got, err := Prorate(tt.oldPrice, tt.newPrice, tt.cycleDays, tt.elapsedDays, "USD")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got.AmountCents != tt.want {
			t.Fatalf("%s: Prorate = %d, want %d", tt.name, got.AmountCents, tt.want)
		}
		if got.Currency != "USD" {
			t.Fatalf("%s: currency = %q, want USD", tt.name, got.Currency)
		}
	}
}

func TestProrate_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		oldPrice    int64
		newPrice    int64
		cycleDays   int
		elapsedDays int
	}{
		{name: "zero cycle", oldPrice: 100, newPrice: 200, cycleDays: 0, elapsedDays: 0},
		{name: "negative cycle", oldPrice: 100, newPrice: 200, cycleDays: -30, elapsedDays: 0},
		{name: "negative elapsed", oldPrice: 100, newPrice: 200, cycleDays: 30, elapsedDays: -1},
		{name: "elapsed beyond cycle", oldPrice: 100, newPrice: 200, cycleDays: 30, elapsedDays: 31},
		{name: "negative price", oldPrice: -100, newPrice: 200, cycleDays: 30, elapsedDays: 0},
	}

	for _, tt := range tests {
		_, err := Prorate(tt.oldPrice, tt.newPrice, tt.cycleDays, tt.elapsedDays, "USD")
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if KindOf(err) != ErrKindValidation {
			t.Fatalf("%s: kind = %q, want validation", tt.name, KindOf(err))
		}
	}
}

func TestRoundHalfUpDiv(t *testing.T) {
	tests := []struct {
		num, den, want int64
	}{
		{7, 2, 4},
		{-7, 2, -4},
		{6, 2, 3},
		{1, 3, 0},
		{2, 3, 1},
		{-1, 3, 0},
		{-2, 3, -1},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := roundHalfUpDiv(tt.num, tt.den); got != tt.want {
			t.Fatalf("roundHalfUpDiv(%d, %d) = %d, want %d", tt.num, tt.den, got, tt.want)
		}
	}
}
