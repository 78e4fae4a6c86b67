package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trade-engine/internal/settings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// PivotLevels are the latest swing high and low published by the pivot feed
type PivotLevels struct {
	High float64 `json:"last_pivot_high_value"`
	Low  float64 `json:"last_pivot_low_value"`
}

// PivotSource yields the current pivot levels
type PivotSource interface {
	Fetch(ctx context.Context) (PivotLevels, error)
}

// HTTPPivotSource polls a JSON endpoint for pivot levels
type HTTPPivotSource struct {
	url    string
	client *http.Client
}

// NewHTTPPivotSource creates a pivot poller with a request timeout
func NewHTTPPivotSource(url string, timeout time.Duration) *HTTPPivotSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPivotSource{url: url, client: &http.Client{Timeout: timeout}}
}

// Fetch reads the levels. Values may arrive as numbers or numeric strings.
func (s *HTTPPivotSource) Fetch(ctx context.Context) (PivotLevels, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return PivotLevels{}, fmt.Errorf("build pivot request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return PivotLevels{}, fmt.Errorf("fetch pivot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return PivotLevels{}, fmt.Errorf("pivot feed returned %d", resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return PivotLevels{}, fmt.Errorf("decode pivot: %w", err)
	}
	high, err := cast.ToFloat64E(raw["last_pivot_high_value"])
	if err != nil {
		return PivotLevels{}, fmt.Errorf("pivot high: %w", err)
	}
	low, err := cast.ToFloat64E(raw["last_pivot_low_value"])
	if err != nil {
		return PivotLevels{}, fmt.Errorf("pivot low: %w", err)
	}
	return PivotLevels{High: high, Low: low}, nil
}

// updatePivot polls the feed at most once per pivot interval. A new high
// re-arms the sell latch and a new low the buy latch of every symbol that
// trades off the pivot.
func (e *Engine) updatePivot(ctx context.Context, now time.Time, log zerolog.Logger) {
	if e.pivot == nil || now.Before(e.nextPivot) {
		return
	}
	e.nextPivot = now.Add(e.opts.PivotInterval)

	lv, err := e.pivot.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Pivot update failed")
		return
	}
	e.applyPivot(lv, log)
}

func (e *Engine) applyPivot(lv PivotLevels, log zerolog.Logger) {
	var highChanged, lowChanged bool
	e.updateRuntime(func(rt *settings.Runtime) {
		if lv.High != rt.PivotHigh {
			rt.PivotHigh = lv.High
			highChanged = true
		}
		if lv.Low != rt.PivotLow {
			rt.PivotLow = lv.Low
			lowChanged = true
		}
	})
	if !highChanged && !lowChanged {
		return
	}

	log.Info().Float64("high", lv.High).Float64("low", lv.Low).Bool("high_changed", highChanged).Bool("low_changed", lowChanged).Msg("Pivot levels changed")
	for sym, cfg := range e.settings.Snapshot() {
		if !cfg.UsePivot {
			continue
		}
		e.settings.Mutate(sym, func(c *settings.SymbolConfig) {
			if highChanged {
				c.SellTradeExecuted = false
			}
			if lowChanged {
				c.BuyTradeExecuted = false
			}
		})
	}
}
