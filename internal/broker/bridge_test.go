package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBridgeBrokerReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/positions":
			json.NewEncoder(w).Encode([]Position{{Ticket: 7, Symbol: r.URL.Query().Get("symbol"), Direction: Buy, Volume: 0.5}})
		case "/positions/7":
			json.NewEncoder(w).Encode(Position{Ticket: 7, Symbol: "EURUSD"})
		case "/account":
			json.NewEncoder(w).Encode(Account{Balance: 1000, Equity: 1010})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bb := NewBridgeBroker(srv.URL, "k", time.Second)
	ctx := context.Background()

	positions, err := bb.Positions(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "EURUSD" {
		t.Errorf("unexpected positions %+v", positions)
	}

	if _, err := bb.Position(ctx, 7); err != nil {
		t.Errorf("Position(7): %v", err)
	}
	if _, err := bb.Position(ctx, 8); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("Expected ErrPositionNotFound, got %v", err)
	}
	if _, err := bb.Tick(ctx, "XAUUSD"); !errors.Is(err, ErrNoTick) {
		t.Errorf("Expected ErrNoTick, got %v", err)
	}

	acct, err := bb.Account(ctx)
	if err != nil || acct.Equity != 1010 {
		t.Errorf("Account = %+v, %v", acct, err)
	}
}

func TestBridgeBrokerSubmit(t *testing.T) {
	var got OrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		if got.Volume > 5 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(OrderResult{Success: false, Reason: "volume too large"})
			return
		}
		json.NewEncoder(w).Encode(OrderResult{Success: true, Ticket: 42})
	}))
	defer srv.Close()

	bb := NewBridgeBroker(srv.URL, "", time.Second)
	ctx := context.Background()

	res, err := bb.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Sell, Volume: 0.5})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Success || res.Ticket != 42 {
		t.Errorf("unexpected result %+v", res)
	}
	if got.ID == "" {
		t.Error("Expected a correlation id to be assigned")
	}

	res, err = bb.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Sell, Volume: 50})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Success || res.Reason != "volume too large" {
		t.Errorf("Expected refusal, got %+v", res)
	}
}

func TestBridgeBrokerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "terminal offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	bb := NewBridgeBroker(srv.URL, "", time.Second)
	if _, err := bb.Submit(context.Background(), OrderRequest{Kind: RequestCancel, Ticket: 1}); err == nil {
		t.Error("Expected transport error on 502")
	}
}
