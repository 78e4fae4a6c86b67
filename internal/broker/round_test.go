package broker

import "testing"

func TestRoundVolume(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.005, 0.01},
		{0.125, 0.13},
		{10000.0 / 1000 * 0.05, 0.5},
		{1.234, 1.23},
		{0, 0},
	}
	for _, tt := range tests {
		if got := RoundVolume(tt.in); got != tt.want {
			t.Errorf("RoundVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRoundPriceAndPoints(t *testing.T) {
	if got := RoundPrice(1.1000012, 5); got != 1.1 {
		t.Errorf("RoundPrice = %v, want 1.1", got)
	}
	if got := Points(12, 5); got != 0.00012 {
		t.Errorf("Points(12, 5) = %v, want 0.00012", got)
	}
	if got := Points(40, 3); got != 0.04 {
		t.Errorf("Points(40, 3) = %v, want 0.04", got)
	}
	m := SymbolMeta{Digits: 3}
	if got := RoundPrice(m.Point(), 3); got != 0.001 {
		t.Errorf("Point() = %v, want 0.001", got)
	}
}

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"Buy", "buy", " BUY "} {
		if d, err := ParseDirection(s); err != nil || d != Buy {
			t.Errorf("ParseDirection(%q) = %v, %v", s, d, err)
		}
	}
	if _, err := ParseDirection("long"); err == nil {
		t.Error("Expected error for unknown direction")
	}
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("Opposite is wrong")
	}
}
