package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BridgeBroker talks to an HTTP sidecar that fronts the trading terminal.
//
//	GET  /positions?symbol=   -> []Position
//	GET  /positions/{ticket}  -> Position (404 when closed)
//	GET  /orders              -> []Order
//	GET  /account             -> Account
//	GET  /tick/{symbol}       -> Tick
//	GET  /symbol/{symbol}     -> SymbolMeta
//	POST /order               OrderRequest -> OrderResult
type BridgeBroker struct {
	base   string
	apiKey string
	hc     *http.Client
}

// NewBridgeBroker creates a bridge client. An empty base falls back to the
// sidecar's default local address.
func NewBridgeBroker(base, apiKey string, timeout time.Duration) *BridgeBroker {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BridgeBroker{
		base:   base,
		apiKey: apiKey,
		hc:     &http.Client{Timeout: timeout},
	}
}

func (bb *BridgeBroker) Positions(ctx context.Context, symbol string) ([]Position, error) {
	u := bb.base + "/positions"
	if symbol != "" {
		u += "?symbol=" + url.QueryEscape(symbol)
	}
	var out []Position
	if err := bb.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return out, nil
}

func (bb *BridgeBroker) Position(ctx context.Context, ticket int64) (*Position, error) {
	var out Position
	err := bb.get(ctx, bb.base+"/positions/"+strconv.FormatInt(ticket, 10), &out)
	if errors.Is(err, errNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("position %d: %w", ticket, err)
	}
	return &out, nil
}

func (bb *BridgeBroker) Orders(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := bb.get(ctx, bb.base+"/orders", &out); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	return out, nil
}

func (bb *BridgeBroker) Account(ctx context.Context) (*Account, error) {
	var out Account
	if err := bb.get(ctx, bb.base+"/account", &out); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &out, nil
}

func (bb *BridgeBroker) Tick(ctx context.Context, symbol string) (*Tick, error) {
	var out Tick
	err := bb.get(ctx, bb.base+"/tick/"+url.PathEscape(symbol), &out)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoTick, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("tick %s: %w", symbol, err)
	}
	return &out, nil
}

func (bb *BridgeBroker) SymbolMeta(ctx context.Context, symbol string) (*SymbolMeta, error) {
	var out SymbolMeta
	err := bb.get(ctx, bb.base+"/symbol/"+url.PathEscape(symbol), &out)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("symbol %s: %w", symbol, err)
	}
	return &out, nil
}

// Submit posts one request. Transport failures come back as errors; broker
// refusals come back as a result with Success=false.
func (bb *BridgeBroker) Submit(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, bb.base+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("newrequest order: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID)
	bb.decorate(httpReq)

	res, err := bb.hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("order %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	var out OrderResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode order result: %w", err)
	}
	if res.StatusCode >= 300 && out.Reason == "" {
		out.Success = false
		out.Reason = fmt.Sprintf("bridge status %d", res.StatusCode)
	}
	return &out, nil
}

var errNotFound = errors.New("not found")

func (bb *BridgeBroker) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("newrequest: %w (url=%s)", err, u)
	}
	bb.decorate(req)

	res, err := bb.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (bb *BridgeBroker) decorate(req *http.Request) {
	req.Header.Set("User-Agent", "trade-engine/bridge")
	if bb.apiKey != "" {
		req.Header.Set("X-API-Key", bb.apiKey)
	}
}
