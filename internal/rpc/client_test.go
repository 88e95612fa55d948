package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}

	// Test Error() method
	errStr := err.Error()
	if errStr != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q, want %q", errStr, "RPC error -32000: nonce too low")
	}

	// Test isRPCError
	if !isRPCError(err) {
		t.Error("isRPCError should return true for *RPCError")
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "502 Bad Gateway",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestIsRetryableHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantBool bool
	}{
		{
			name:     "retryable HTTP error",
			err:      &HTTPStatusError{StatusCode: 429},
			wantBool: true,
		},
		{
			name:     "non-retryable HTTP error",
			err:      &HTTPStatusError{StatusCode: 400},
			wantBool: false,
		},
		{
			name:     "RPC error",
			err:      &RPCError{Code: -32000, Message: "test"},
			wantBool: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableHTTPError(tt.err); got != tt.wantBool {
				t.Errorf("isRetryableHTTPError() = %v, want %v", got, tt.wantBool)
			}
		})
	}
}

func TestGetRetryDelay(t *testing.T) {
	defaultBackoff := 100 * time.Millisecond

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
	}{
		{
			name:      "HTTP error with Retry-After",
			err:       &HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second},
			wantDelay: 2 * time.Second,
		},
		{
			name:      "HTTP error without Retry-After",
			err:       &HTTPStatusError{StatusCode: 503},
			wantDelay: defaultBackoff,
		},
		{
			name:      "RPC error uses default",
			err:       &RPCError{Code: -32000, Message: "test"},
			wantDelay: defaultBackoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getRetryDelay(tt.err, defaultBackoff); got != tt.wantDelay {
				t.Errorf("getRetryDelay() = %v, want %v", got, tt.wantDelay)
			}
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	url := "http://localhost:8545"
	cfg := DefaultClientConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 10*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 250*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 250ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 2*time.Second {
		t.Errorf("MaxBackoff = %v, want 2s", cfg.MaxBackoff)
	}
}

// rpcServer answers each JSON-RPC method with a canned result.
// A handler returning a non-zero status writes that status instead.
type rpcServer struct {
	calls   atomic.Int32
	results map[string]string
	status  func(n int32) int
	errs    map[string]*JSONRPCError
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)
	if s.status != nil {
		if code := s.status(n); code != 0 {
			w.WriteHeader(code)
			return
		}
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if e, ok := s.errs[req.Method]; ok {
		resp.Error = e
	} else if res, ok := s.results[req.Method]; ok {
		resp.Result = json.RawMessage(res)
	} else {
		resp.Error = &JSONRPCError{Code: -32601, Message: "method not found"}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, srv *rpcServer) *HTTPClient {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := DefaultClientConfig(ts.URL)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return NewHTTPClient(cfg)
}

func TestCallRetriesOnServiceUnavailable(t *testing.T) {
	srv := &rpcServer{
		results: map[string]string{"eth_gasPrice": `"0x3b9aca00"`},
		status: func(n int32) int {
			if n < 3 {
				return http.StatusServiceUnavailable
			}
			return 0
		},
	}
	c := newTestClient(t, srv)

	got, err := c.GetGasPrice(context.Background())
	if err != nil {
		t.Fatalf("GetGasPrice() error = %v", err)
	}
	if got != 1_000_000_000 {
		t.Errorf("GetGasPrice() = %d, want 1000000000", got)
	}
	if n := srv.calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestCallDoesNotRetryRPCError(t *testing.T) {
	srv := &rpcServer{
		errs: map[string]*JSONRPCError{"eth_getBalance": {Code: -32000, Message: "header not found"}},
	}
	c := newTestClient(t, srv)

	_, err := c.GetBalance(context.Background(), "0x0000000000000000000000000000000000000001")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("GetBalance() error = %v, want *RPCError", err)
	}
	if n := srv.calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestSendRawTransactionSingleAttempt(t *testing.T) {
	srv := &rpcServer{
		status: func(int32) int { return http.StatusBadGateway },
	}
	c := newTestClient(t, srv)

	_, err := c.SendRawTransaction(context.Background(), []byte{0x02, 0x01})
	if err == nil {
		t.Fatal("SendRawTransaction() error = nil, want error")
	}
	if n := srv.calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want exactly 1", n)
	}
}

func TestSendRawTransactionReturnsHash(t *testing.T) {
	want := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000def")
	srv := &rpcServer{
		results: map[string]string{"eth_sendRawTransaction": `"` + want.Hex() + `"`},
	}
	c := newTestClient(t, srv)

	got, err := c.SendRawTransaction(context.Background(), []byte{0x02})
	if err != nil {
		t.Fatalf("SendRawTransaction() error = %v", err)
	}
	if got != want {
		t.Errorf("SendRawTransaction() = %s, want %s", got, want)
	}
}

func TestReadMethods(t *testing.T) {
	srv := &rpcServer{
		results: map[string]string{
			"eth_getBalance":          `"0xde0b6b3a7640000"`,
			"eth_getTransactionCount": `"0x2a"`,
			"eth_chainId":             `"0x28c58"`,
			"eth_getBlockByNumber":    `{"number":"0x10","baseFeePerGas":"0x7"}`,
			"eth_call":                `"0x000000000000000000000000000000000000000000000000000000000000002a"`,
		},
	}
	c := newTestClient(t, srv)
	ctx := context.Background()

	bal, err := c.GetBalance(ctx, "0x0000000000000000000000000000000000000001")
	if err != nil || bal.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Errorf("GetBalance() = %v, %v; want 1e18", bal, err)
	}

	nonce, err := c.GetNonce(ctx, "0x0000000000000000000000000000000000000001")
	if err != nil || nonce != 42 {
		t.Errorf("GetNonce() = %d, %v; want 42", nonce, err)
	}

	id, err := c.ChainID(ctx)
	if err != nil || id.Int64() != 167000 {
		t.Errorf("ChainID() = %v, %v; want 167000", id, err)
	}

	baseFee, err := c.GetBaseFee(ctx)
	if err != nil || baseFee != 7 {
		t.Errorf("GetBaseFee() = %d, %v; want 7", baseFee, err)
	}

	out, err := c.EthCall(ctx, common.HexToAddress("0x01"), []byte{0x70, 0xa0, 0x82, 0x31})
	if err != nil {
		t.Fatalf("EthCall() error = %v", err)
	}
	if len(out) != 32 || out[31] != 0x2a {
		t.Errorf("EthCall() = %x, want 32 bytes ending in 2a", out)
	}
}

func TestGetTransactionReceipt(t *testing.T) {
	tests := []struct {
		name        string
		result      string
		wantNil     bool
		wantSuccess bool
		wantBlock   uint64
	}{
		{name: "pending", result: `null`, wantNil: true},
		{name: "success", result: `{"transactionHash":"0x01","status":"0x1","gasUsed":"0x5208","blockNumber":"0x64"}`, wantSuccess: true, wantBlock: 100},
		{name: "reverted", result: `{"transactionHash":"0x01","status":"0x0","gasUsed":"0x5208","blockNumber":"0x65"}`, wantBlock: 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &rpcServer{results: map[string]string{"eth_getTransactionReceipt": tt.result}}
			c := newTestClient(t, srv)

			r, err := c.GetTransactionReceipt(context.Background(), "0x01")
			if err != nil {
				t.Fatalf("GetTransactionReceipt() error = %v", err)
			}
			if tt.wantNil {
				if r != nil {
					t.Errorf("GetTransactionReceipt() = %+v, want nil", r)
				}
				return
			}
			if r.Succeeded() != tt.wantSuccess {
				t.Errorf("Succeeded() = %v, want %v", r.Succeeded(), tt.wantSuccess)
			}
			if r.BlockNumber != tt.wantBlock {
				t.Errorf("BlockNumber = %d, want %d", r.BlockNumber, tt.wantBlock)
			}
		})
	}
}
