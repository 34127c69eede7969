package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL:    url,
		Timeout:    2 * time.Second,
		APIKeys:    []string{"k1"},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
}

func TestGetQuote_SendsSlippage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("slippageBps") != "1500" || q.Get("amount") != "1000000" || q.Get("inputMint") != "Mint" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("x-api-key") != "k1" {
			t.Errorf("missing api key header")
		}
		json.NewEncoder(w).Encode(QuoteResponse{InAmount: "1000000", OutAmount: "420", SlippageBps: 1500})
	}))
	defer ts.Close()

	quote, err := newTestClient(ts.URL).GetQuote(context.Background(), "Mint", SOLMint, 1_000_000, 1500)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if quote.InAmountRaw() != 1_000_000 || quote.OutAmountRaw() != 420 {
		t.Errorf("unexpected amounts %+v", quote)
	}
}

func TestGetQuote_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(QuoteResponse{InAmount: "1", OutAmount: "2"})
	}))
	defer ts.Close()

	if _, err := newTestClient(ts.URL).GetQuote(context.Background(), "A", "B", 1, 1000); err != nil {
		t.Fatalf("GetQuote failed after retries: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestGetQuote_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"Could not find any route"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).GetQuote(context.Background(), "A", "B", 1, 1000)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", hits.Load())
	}
}

func TestGetSwapTransaction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/swap" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req swapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.UserPublicKey != "User" || req.QuoteResponse == nil || req.QuoteResponse.OutAmount != "9" {
			t.Errorf("unexpected swap request %+v", req)
		}
		if req.PrioritizationFeeLamports.PriorityLevelWithMaxLamports.MaxLamports != 1_000_000 {
			t.Errorf("expected default priority cap")
		}
		json.NewEncoder(w).Encode(SwapResponse{SwapTransaction: "AQID"})
	}))
	defer ts.Close()

	tx, err := newTestClient(ts.URL).GetSwapTransaction(context.Background(), &QuoteResponse{OutAmount: "9"}, "User")
	if err != nil {
		t.Fatalf("GetSwapTransaction failed: %v", err)
	}
	if tx != "AQID" {
		t.Errorf("expected AQID, got %s", tx)
	}
}
