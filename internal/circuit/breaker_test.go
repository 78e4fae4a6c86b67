package circuit

import "testing"

func TestDailyTargetTrips(t *testing.T) {
	dt := NewDailyTarget(Config{Enabled: true, TargetPercent: 2}, 10000)

	var reasons []string
	dt.OnTrip(func(reason string) { reasons = append(reasons, reason) })

	if dt.Check(10199) {
		t.Fatal("Expected no trip below 10200")
	}
	if got := dt.RequiredProfit(10150); got != 50 {
		t.Errorf("Expected 50 required, got %v", got)
	}
	if !dt.Check(10200) {
		t.Fatal("Expected trip at the target")
	}
	if dt.Check(10300) {
		t.Error("Expected only the first crossing to report a trip")
	}
	if ok, _ := dt.CanTrade(); ok {
		t.Error("Expected trading halted after the trip")
	}
	if len(reasons) != 1 {
		t.Errorf("Expected one trip callback, got %d", len(reasons))
	}
}

func TestDailyTargetDisabledOrUnset(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		prev float64
	}{
		{"disabled", Config{Enabled: false, TargetPercent: 1}, 10000},
		{"zero target", Config{Enabled: true}, 10000},
		{"no anchor", Config{Enabled: true, TargetPercent: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDailyTarget(tt.cfg, tt.prev)
			if dt.Check(1e9) {
				t.Error("Expected no trip")
			}
		})
	}
}

func TestDailyTargetRollover(t *testing.T) {
	dt := NewDailyTarget(Config{Enabled: true, TargetPercent: 1}, 10000)
	resets := 0
	dt.OnReset(func() { resets++ })
	dt.Check(10100)

	if dt.Rollover(10500, false) {
		t.Error("Expected the anchor held while positions are open")
	}
	if dt.PrevBalance() != 10000 {
		t.Errorf("Expected anchor 10000, got %v", dt.PrevBalance())
	}
	if ok, _ := dt.CanTrade(); !ok {
		t.Error("Expected rollover to resume trading")
	}
	if resets != 1 {
		t.Errorf("Expected one reset callback, got %d", resets)
	}

	if !dt.Rollover(10500, true) || dt.PrevBalance() != 10500 {
		t.Errorf("Expected anchor raised to 10500, got %v", dt.PrevBalance())
	}
	if dt.Rollover(9000, true) {
		t.Error("Expected a lower balance to leave the anchor alone")
	}
	if resets != 1 {
		t.Errorf("Expected no reset callback when already closed, got %d", resets)
	}
}
