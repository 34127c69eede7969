package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func rpcServer(t *testing.T, method string, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Method != method {
			t.Errorf("expected method %s, got %s", method, req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}))
}

func TestGetBalance(t *testing.T) {
	ts := rpcServer(t, "getBalance", `{"context":{"slot":1},"value":1500000000}`)
	defer ts.Close()

	client := NewRPCClient(ts.URL, "", time.Second)
	bal, err := client.GetBalance(context.Background(), "Owner")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal != 1_500_000_000 {
		t.Errorf("expected 1500000000 lamports, got %d", bal)
	}
}

func TestTokenBalance_FiltersByMint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Method != "getTokenAccountsByOwner" {
			t.Errorf("expected method getTokenAccountsByOwner, got %s", req.Method)
		}
		if len(req.Params) < 3 {
			t.Fatalf("expected 3 params, got %d", len(req.Params))
		}
		filter, ok := req.Params[1].(map[string]interface{})
		if !ok || filter["mint"] != "MintA" {
			t.Errorf("expected mint filter MintA, got %v", req.Params[1])
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[
			{"pubkey":"Acc1","account":{"data":{"parsed":{"info":{"mint":"MintA","tokenAmount":{"amount":"1000","decimals":6}}}}}},
			{"pubkey":"Acc2","account":{"data":{"parsed":{"info":{"mint":"MintA","tokenAmount":{"amount":"250","decimals":6}}}}}},
			{"pubkey":"Acc3","account":{"data":{"parsed":{"info":{"mint":"MintA","tokenAmount":{"amount":"bogus","decimals":6}}}}}}
		]}}`)
	}))
	defer ts.Close()

	client := NewRPCClient(ts.URL, "", time.Second)
	total, err := client.TokenBalance(context.Background(), "Owner", "MintA")
	if err != nil {
		t.Fatalf("TokenBalance failed: %v", err)
	}
	if total != 1250 {
		t.Errorf("expected 1250, got %d", total)
	}
}

func TestGetTokenAccountsByOwner_BothPrograms(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		filter, _ := req.Params[1].(map[string]interface{})
		mint := "MintLegacy"
		if filter["programId"] == Token2022ProgramID {
			mint = "Mint2022"
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[
			{"pubkey":"Acc","account":{"data":{"parsed":{"info":{"mint":%q,"tokenAmount":{"amount":"7","decimals":9}}}}}}
		]}}`, mint)
	}))
	defer ts.Close()

	client := NewRPCClient(ts.URL, "", time.Second)
	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "Owner", "")
	if err != nil {
		t.Fatalf("GetTokenAccountsByOwner failed: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Mint != "MintLegacy" || accounts[1].Mint != "Mint2022" {
		t.Errorf("unexpected accounts: %+v", accounts)
	}
}

func TestSendTransaction_ProgramErrorSkipsFallback(t *testing.T) {
	var fallbackHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Transaction simulation failed","data":{"logs":["Program log: custom program error: 0x1788"]}}}`)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"sig"}`)
	}))
	defer fallback.Close()

	client := NewRPCClient(primary.URL, fallback.URL, time.Second)
	_, err := client.SendTransaction(context.Background(), "AQ==", false)
	if err == nil {
		t.Fatal("expected program error")
	}
	if !IsSlippage(err) {
		t.Errorf("expected slippage class error, got %v", err)
	}
	if fallbackHits.Load() != 0 {
		t.Errorf("program error must not hit fallback")
	}
}

func TestCall_FallsBackOnHTTPFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer primary.Close()
	fallback := rpcServer(t, "sendTransaction", `"5igSig"`)
	defer fallback.Close()

	client := NewRPCClient(primary.URL, fallback.URL, time.Second)
	sig, err := client.SendTransaction(context.Background(), "AQ==", false)
	if err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}
	if sig != "5igSig" {
		t.Errorf("expected fallback signature, got %s", sig)
	}
}

func TestCheckTransaction(t *testing.T) {
	ts := rpcServer(t, "getSignatureStatuses",
		`{"value":[{"slot":42,"confirmations":null,"err":{"InstructionError":[2,{"Custom":6024}]},"confirmationStatus":"finalized"}]}`)
	defer ts.Close()

	client := NewRPCClient(ts.URL, "", time.Second)
	res, err := client.CheckTransaction(context.Background(), "sig")
	if err != nil {
		t.Fatalf("CheckTransaction failed: %v", err)
	}
	if res.Status != "FAILED" || res.Slot != 42 {
		t.Errorf("unexpected result: %+v", res)
	}
}
