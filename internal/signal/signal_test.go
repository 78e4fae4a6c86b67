package signal

import (
	"errors"
	"testing"

	"trade-engine/internal/broker"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Signal
		wantErr error
	}{
		{
			name: "trade",
			raw:  "Trade|EURUSD,0.05,Sell",
			want: Signal{Action: ActionTrade, Symbol: "EURUSD", LotBase: 0.05, Direction: broker.Sell},
		},
		{
			name: "close with spaces",
			raw:  " Close| GBPJPY ,100, Buy ",
			want: Signal{Action: ActionClose, Symbol: "GBPJPY", LotBase: 100, Direction: broker.Buy},
		},
		{name: "missing separator", raw: "Trade EURUSD,0.05,Sell", wantErr: ErrMissingSeparator},
		{name: "two fields", raw: "Trade|EURUSD,0.05", wantErr: ErrFieldCount},
		{name: "four fields", raw: "Trade|EURUSD,0.05,Sell,x", wantErr: ErrFieldCount},
		{name: "non numeric lot", raw: "Trade|EURUSD,abc,Sell", wantErr: ErrBadLot},
		{name: "negative lot", raw: "Trade|EURUSD,-1,Sell", wantErr: ErrBadLot},
		{name: "unknown action", raw: "Open|EURUSD,0.05,Sell", wantErr: ErrUnknownAction},
		{name: "unknown direction", raw: "Trade|EURUSD,0.05,Long", wantErr: ErrUnknownDirection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.Action != tt.want.Action || got.Symbol != tt.want.Symbol || got.LotBase != tt.want.LotBase || got.Direction != tt.want.Direction {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
			if got.Raw != tt.raw {
				t.Errorf("Expected raw payload kept, got %q", got.Raw)
			}
		})
	}
}
