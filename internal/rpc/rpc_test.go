package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/service"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/internal/txbuilder"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
	"github.com/klingon-exchange/utxoforge/pkg/logging"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// newMempool serves the mempool.space endpoints used by the service. When
// reject is set every broadcast is refused with that message.
func newMempool(t *testing.T, reject string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"txid":"%064x","vout":0,"value":30000,"status":{"confirmed":true,"block_height":90}},
			{"txid":"%064x","vout":1,"value":20000,"status":{"confirmed":false}}
		]`, 0xaa, 0xbb)
	})
	mux.HandleFunc("GET /blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "100")
	})
	mux.HandleFunc("GET /v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"fastestFee":20,"halfHourFee":10,"hourFee":5,"economyFee":2,"minimumFee":1}`)
	})
	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		if reject != "" {
			http.Error(w, reject, http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		raw, err := hex.DecodeString(string(body))
		if err != nil {
			http.Error(w, "bad hex", http.StatusBadRequest)
			return
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			http.Error(w, "bad tx", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, tx.TxHash().String())
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, reject string) *Server {
	t.Helper()

	chains := chain.DefaultRegistry()
	params, err := chains.Get(chain.Testnet)
	if err != nil {
		t.Fatal(err)
	}

	mempool := newMempool(t, reject)
	backends := backend.NewRegistry()
	backends.Register(chain.Testnet, backend.NewMempoolBackend(mempool.URL, params.ChainConfig()))

	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc, err := service.New(&service.Config{
		Chains:         chains,
		Backends:       backends,
		Store:          store,
		Logger:         logging.Nop(),
		DefaultNetwork: chain.Testnet,
		DefaultFeeRate: 3,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	s := NewServer(svc)
	s.log = logging.Nop()
	s.wsHub.log = logging.Nop()
	return s
}

type rpcResult struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     interface{}     `json:"id"`
}

func call(t *testing.T, s *Server, method string, params interface{}) *rpcResult {
	t.Helper()

	req := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return post(t, s, body)
}

func post(t *testing.T, s *Server, body []byte) *rpcResult {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp rpcResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return &resp
}

func TestErrorConstants(t *testing.T) {
	if ParseError != -32700 {
		t.Errorf("ParseError = %d, want -32700", ParseError)
	}
	if InvalidRequest != -32600 {
		t.Errorf("InvalidRequest = %d, want -32600", InvalidRequest)
	}
	if MethodNotFound != -32601 {
		t.Errorf("MethodNotFound = %d, want -32601", MethodNotFound)
	}
	if InvalidParams != -32602 {
		t.Errorf("InvalidParams = %d, want -32602", InvalidParams)
	}
	if InternalError != -32603 {
		t.Errorf("InternalError = %d, want -32603", InternalError)
	}
}

func TestProtocolErrors(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, ParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"network_list","id":1}`, InvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"node_info","id":1}`, MethodNotFound},
		{"batch", `[{"jsonrpc":"2.0","method":"network_list","id":1}]`, ParseError},
		{"missing params", `{"jsonrpc":"2.0","method":"account_derive","id":1}`, InvalidParams},
		{"malformed params", `{"jsonrpc":"2.0","method":"utxo_list","params":[1,2],"id":1}`, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, s, []byte(tt.body))
			if resp.Error == nil {
				t.Fatalf("expected error, got result %s", resp.Result)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", resp.Error.Code, tt.code, resp.Error.Message)
			}
		})
	}
}

func TestHTTPMethodCheck(t *testing.T) {
	s := newTestServer(t, "")

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAccountDerive(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "account_derive", map[string]string{
		"secret":       testMnemonic,
		"network":      "mainnet",
		"address_type": "p2wpkh",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var info service.AccountInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		t.Fatal(err)
	}
	if info.Address != "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu" {
		t.Errorf("Address = %s", info.Address)
	}
	if info.AddressType != wallet.AddressSegwitV0 {
		t.Errorf("AddressType = %s, want p2wpkh", info.AddressType)
	}
	if strings.Contains(string(resp.Result), "private") {
		t.Error("derive result must not contain private key material")
	}

	for _, params := range []map[string]string{
		{"secret": "not a mnemonic"},
		{"secret": testMnemonic, "network": "dogecoin"},
		{"network": "mainnet"},
	} {
		resp := call(t, s, "account_derive", params)
		if resp.Error == nil || resp.Error.Code != InvalidParams {
			t.Errorf("params %v: error = %+v, want InvalidParams", params, resp.Error)
		}
	}
}

func TestUTXOList(t *testing.T) {
	s := newTestServer(t, "")

	info := call(t, s, "account_derive", map[string]string{"secret": testMnemonic})
	var acct service.AccountInfo
	if err := json.Unmarshal(info.Result, &acct); err != nil {
		t.Fatal(err)
	}

	resp := call(t, s, "utxo_list", map[string]string{"address": acct.Address})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var res UTXOListResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.UTXOs) != 2 {
		t.Fatalf("len(UTXOs) = %d, want 2", len(res.UTXOs))
	}
	if res.Total != 50000 || res.TotalBTC != "0.0005" {
		t.Errorf("Total = %d (%s), want 50000 (0.0005)", res.Total, res.TotalBTC)
	}

	resp = call(t, s, "utxo_list", map[string]string{"address": "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("mainnet address on testnet: error = %+v, want InvalidParams", resp.Error)
	}
}

func TestTxMergeAndHistory(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "tx_merge", map[string]interface{}{
		"secret":    testMnemonic,
		"broadcast": true,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var res service.BuildResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Tx == nil || res.Tx.Kind != txbuilder.KindMerge {
		t.Fatalf("unexpected tx: %+v", res.Tx)
	}
	if res.Tx.InputCount != 2 || res.Tx.OutputCount != 1 {
		t.Errorf("inputs/outputs = %d/%d, want 2/1", res.Tx.InputCount, res.Tx.OutputCount)
	}
	if res.Tx.Fee != txbuilder.CalcFee(res.Tx.VirtualSize, 10) {
		t.Errorf("Fee = %d, want the half-hour estimate applied", res.Tx.Fee)
	}
	if res.Broadcast == nil || res.Broadcast.TxID != res.Tx.TxID {
		t.Fatalf("broadcast = %+v, want txid %s", res.Broadcast, res.Tx.TxID)
	}

	resp = call(t, s, "tx_history", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var history struct {
		Broadcasts []storage.Broadcast `json:"broadcasts"`
		Count      int                 `json:"count"`
	}
	if err := json.Unmarshal(resp.Result, &history); err != nil {
		t.Fatal(err)
	}
	if history.Count != 1 || history.Broadcasts[0].TxID != res.Tx.TxID {
		t.Errorf("history = %+v", history)
	}
	if history.Broadcasts[0].Status != storage.BroadcastStatusSent {
		t.Errorf("Status = %s, want %s", history.Broadcasts[0].Status, storage.BroadcastStatusSent)
	}
}

func TestTxSplitBroadcastRejected(t *testing.T) {
	s := newTestServer(t, "txn-mempool-conflict")

	derived := call(t, s, "account_derive", map[string]string{"secret": testMnemonic, "address_type": "p2wpkh"})
	var recipient service.AccountInfo
	if err := json.Unmarshal(derived.Result, &recipient); err != nil {
		t.Fatal(err)
	}

	resp := call(t, s, "tx_split", map[string]interface{}{
		"secret":    testMnemonic,
		"outpoints": []string{fmt.Sprintf("%064x:0", 0xaa)},
		"outputs": []map[string]interface{}{
			{"address": recipient.Address, "value": 10000},
		},
		"fee_rate":  2,
		"broadcast": true,
	})
	if resp.Error == nil {
		t.Fatal("expected broadcast error")
	}
	if resp.Error.Code != BroadcastFailed {
		t.Fatalf("code = %d, want %d (%s)", resp.Error.Code, BroadcastFailed, resp.Error.Message)
	}
	if !strings.Contains(resp.Error.Message, "txn-mempool-conflict") {
		t.Errorf("message = %q", resp.Error.Message)
	}

	data, err := json.Marshal(resp.Error.Data)
	if err != nil {
		t.Fatal(err)
	}
	var res service.BuildResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Tx == nil || res.Tx.RawHex == "" {
		t.Error("rejected broadcast should still return the signed transaction")
	}
	if res.Tx != nil && res.Tx.OutputCount != 2 {
		t.Errorf("OutputCount = %d, want 2", res.Tx.OutputCount)
	}
}

func TestTxSplitRequiresOutputs(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "tx_split", map[string]interface{}{"secret": testMnemonic})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("error = %+v, want InvalidParams", resp.Error)
	}
}

func TestTxBroadcastInvalidHex(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "tx_broadcast", map[string]string{"hex": "zz"})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("error = %+v, want InvalidParams", resp.Error)
	}
}

func TestFeeEstimate(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "fee_estimate", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var fees backend.FeeEstimate
	if err := json.Unmarshal(resp.Result, &fees); err != nil {
		t.Fatal(err)
	}
	if fees.HalfHourFee != 10 {
		t.Errorf("HalfHourFee = %d, want 10", fees.HalfHourFee)
	}

	resp = call(t, s, "fee_estimate", map[string]string{"network": "signet"})
	if resp.Error == nil || resp.Error.Code != InternalError {
		t.Errorf("network without backend: error = %+v, want InternalError", resp.Error)
	}
}

func TestNetworkList(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "network_list", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var res NetworkListResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Version != Version {
		t.Errorf("Version = %s", res.Version)
	}
	if len(res.Networks) != 6 {
		t.Errorf("len(Networks) = %d, want 6", len(res.Networks))
	}
	if len(res.EVMNetworks) == 0 {
		t.Error("expected evm networks")
	}
	for _, n := range res.Networks {
		if n.ID == chain.Testnet && n.Backend != backend.TypeMempool {
			t.Errorf("testnet backend = %s, want mempool", n.Backend)
		}
	}
}

func TestEVMEncodeCallData(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "evm_encodeCallData", map[string]interface{}{
		"abi":    `[{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]}]`,
		"method": "approve",
		"params": []map[string]string{
			{"type": "address", "value": "0x000000000000000000000000000000000000dEaD"},
			{"type": "uint256", "value": "1", "unit": "ether"},
		},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var res map[string]string
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res["data"], "0x095ea7b3") {
		t.Errorf("data = %s, want approve selector", res["data"])
	}
	if !strings.HasSuffix(res["data"], "0de0b6b3a7640000") {
		t.Errorf("data = %s, want 1 ether encoded", res["data"])
	}

	resp = call(t, s, "evm_encodeCallData", map[string]interface{}{
		"abi":    `[{"type":"function","name":"approve","inputs":[],"outputs":[]}]`,
		"method": "transfer",
	})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("unknown method: error = %+v, want InvalidParams", resp.Error)
	}
}

func TestEVMTransferWithoutEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	resp := call(t, s, "evm_transfer", map[string]string{
		"network":     "ETH",
		"private_key": "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"to":          "0x000000000000000000000000000000000000dEaD",
		"amount":      "0.1",
	})
	if resp.Error == nil || resp.Error.Code != InternalError {
		t.Errorf("error = %+v, want InternalError", resp.Error)
	}

	resp = call(t, s, "evm_batchTransfer", map[string]string{"network": "ETH", "mode": "sideways"})
	if resp.Error == nil || resp.Error.Code != InvalidParams {
		t.Errorf("bad mode: error = %+v, want InvalidParams", resp.Error)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"params", invalidParams("x is required"), InvalidParams},
		{"unknown network", fmt.Errorf("lookup: %w", chain.ErrUnknownNetwork), InvalidParams},
		{"insufficient funds", txbuilder.ErrInsufficientFunds, InvalidParams},
		{"dust", txbuilder.ErrDustOutput, InvalidParams},
		{"bad mnemonic", wallet.ErrInvalidMnemonic, InvalidParams},
		{"evm address", evm.ErrInvalidAddress, InvalidParams},
		{"broadcast", &service.BroadcastError{Network: chain.Testnet, Err: backend.ErrBroadcastFailed}, BroadcastFailed},
		{"signing", txbuilder.ErrSigning, InternalError},
		{"no backend", service.ErrNoBackend, InternalError},
		{"other", errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("errorCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWSSubscription(t *testing.T) {
	sub := WSSubscription{
		Action: "subscribe",
		Events: []string{string(EventTxBroadcast)},
	}

	data, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("failed to marshal WSSubscription: %v", err)
	}

	var parsed WSSubscription
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal WSSubscription: %v", err)
	}
	if parsed.Action != "subscribe" || len(parsed.Events) != 1 {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestWebSocketEvents(t *testing.T) {
	s := newTestServer(t, "")
	hub := s.WSHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Emit(service.EventTxBroadcast, map[string]string{"txid": "abc"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var event struct {
		Type EventType         `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("bad event %q: %v", msg, err)
	}
	if event.Type != EventTxBroadcast || event.Data["txid"] != "abc" {
		t.Errorf("event = %+v", event)
	}
}
