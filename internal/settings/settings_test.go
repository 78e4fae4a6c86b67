package settings

import "testing"

func TestParseTradeMode(t *testing.T) {
	tests := []struct {
		in      string
		want    TradeMode
		wantErr bool
	}{
		{"1", SingleDirection, false},
		{"hedging", Hedging, false},
		{" ALL_SIGNALS ", AllSignals, false},
		{"4", SmartHedging, false},
		{"5", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTradeMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTradeMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTradeMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistryCreatesFromDefaults(t *testing.T) {
	r := NewRegistry(DefaultSymbolConfig(), map[string]SymbolConfig{
		"XAUUSD": {Commission: 25, R1: 5},
	})

	eur := r.Get("EURUSD")
	if eur.Commission != 10 || eur.R1 != 12 || eur.R2 != 13 || eur.R3 != 15 {
		t.Errorf("EURUSD should carry defaults, got %+v", eur)
	}
	if eur.TP1Percent != 50 || eur.TP2Percent != 50 {
		t.Errorf("Expected TP1/TP2 50%%, got %v/%v", eur.TP1Percent, eur.TP2Percent)
	}

	xau := r.Get("XAUUSD")
	if xau.Commission != 25 || xau.R1 != 5 {
		t.Errorf("XAUUSD override lost, got %+v", xau)
	}

	if got := r.Symbols(); len(got) != 2 || got[0] != "EURUSD" || got[1] != "XAUUSD" {
		t.Errorf("unexpected symbols %v", got)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry(DefaultSymbolConfig(), nil)
	c := r.Get("EURUSD")
	c.Commission = 99
	if r.Get("EURUSD").Commission != 10 {
		t.Error("mutating a returned config must not change the registry")
	}
}

func TestRegistryUpdateResetsLatches(t *testing.T) {
	r := NewRegistry(DefaultSymbolConfig(), nil)
	r.Mutate("EURUSD", func(c *SymbolConfig) {
		c.BuyTradeExecuted = true
		c.SellTradeExecuted = true
	})

	price := 1.2
	got, err := r.Update("EURUSD", Patch{BuyPrice: &price})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.BuyPrice != 1.2 {
		t.Errorf("Expected buy price 1.2, got %v", got.BuyPrice)
	}
	if got.BuyTradeExecuted || got.SellTradeExecuted {
		t.Error("Expected both latches re-armed after update")
	}
	if got.Commission != 10 {
		t.Errorf("untouched fields must be kept, commission = %v", got.Commission)
	}
}

func TestPatchValidate(t *testing.T) {
	neg := -1.0
	over := 150.0
	zero := 0.0
	tests := []struct {
		name    string
		patch   Patch
		wantErr bool
	}{
		{"empty", Patch{}, false},
		{"negative commission", Patch{Commission: &neg}, true},
		{"tp1 above 100", Patch{TP1Percent: &over}, true},
		{"zero martingale", Patch{Martingale: &zero}, true},
		{"zero sl adjust", Patch{SLAdjust: &zero}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.patch.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
