package backend

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// electrumProtocol is the protocol version negotiated with server.version.
const electrumProtocol = "1.4"

// ElectrumBackend implements Backend using the Electrum protocol.
// Supports both TCP and TLS connections. Servers are tried in order until
// one answers server.version.
type ElectrumBackend struct {
	servers   []string // host:port
	useTLS    bool
	net       *chaincfg.Params
	timeout   time.Duration
	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	server    string
	connected bool
	requestID uint64
}

// NewElectrumBackend creates a new Electrum backend.
// Servers should be in format "host:port" (e.g., "electrum.blockstream.info:50002")
func NewElectrumBackend(servers []string, useTLS bool, net *chaincfg.Params) *ElectrumBackend {
	return &ElectrumBackend{
		servers: servers,
		useTLS:  useTLS,
		net:     net,
		timeout: DefaultTimeout,
	}
}

// Type returns TypeElectrum.
func (e *ElectrumBackend) Type() Type {
	return TypeElectrum
}

// Endpoint returns the connected server, or the configured list.
func (e *ElectrumBackend) Endpoint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != "" {
		return e.server
	}
	return strings.Join(e.servers, ",")
}

// Connect establishes connection to an Electrum server.
func (e *ElectrumBackend) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected {
		return nil
	}

	var lastErr error
	for _, server := range e.servers {
		dialer := &net.Dialer{Timeout: e.timeout}

		var conn net.Conn
		var err error
		if e.useTLS {
			conn, err = (&tls.Dialer{
				NetDialer: dialer,
				Config:    &tls.Config{MinVersion: tls.VersionTLS12},
			}).DialContext(ctx, "tcp", server)
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", server)
		}
		if err != nil {
			lastErr = err
			continue
		}

		e.conn = conn
		e.reader = bufio.NewReader(conn)

		var version []string
		if err := e.callLocked("server.version", []interface{}{"utxoforge", electrumProtocol}, &version); err != nil {
			conn.Close()
			e.conn = nil
			lastErr = err
			continue
		}

		e.server = server
		e.connected = true
		return nil
	}

	return fmt.Errorf("%w: %v", ErrNotConnected, lastErr)
}

// Close closes the connection.
func (e *ElectrumBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	return nil
}

// IsConnected returns true if connected.
func (e *ElectrumBackend) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// GetAddressUTXOs returns unspent outputs for an address. Electrum indexes by
// script hash, so the address's script is known up front and set on every
// output.
func (e *ElectrumBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	script, err := scriptForAddress(address, e.net)
	if err != nil {
		return nil, err
	}
	scriptHash, err := electrumScriptHash(script)
	if err != nil {
		return nil, err
	}

	var result []struct {
		TxHash string `json:"tx_hash"`
		TxPos  uint32 `json:"tx_pos"`
		Value  uint64 `json:"value"`
		Height int64  `json:"height"`
	}
	if err := e.call(ctx, "blockchain.scripthash.listunspent", []interface{}{scriptHash}, &result); err != nil {
		return nil, err
	}

	tip, err := e.GetBlockHeight(ctx)
	if err != nil {
		tip = 0
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		var confirmations int64
		if u.Height > 0 {
			if tip > 0 {
				confirmations = tip - u.Height + 1
			} else {
				confirmations = 1
			}
		}
		utxos[i] = UTXO{
			TxID:          u.TxHash,
			Vout:          u.TxPos,
			Amount:        u.Value,
			ScriptPubKey:  script,
			Confirmations: confirmations,
			BlockHeight:   u.Height,
		}
	}
	return utxos, nil
}

// BroadcastTransaction broadcasts a raw transaction.
func (e *ElectrumBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	var txID string
	if err := e.call(ctx, "blockchain.transaction.broadcast", []interface{}{rawTxHex}, &txID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return txID, nil
}

// GetBlockHeight returns the current block height.
func (e *ElectrumBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var header struct {
		Height int64 `json:"height"`
	}
	if err := e.call(ctx, "blockchain.headers.subscribe", []interface{}{}, &header); err != nil {
		return 0, err
	}
	return header.Height, nil
}

// GetFeeEstimates queries blockchain.estimatefee for 1, 3, 6 and 144 block
// targets. Targets the server cannot estimate are left at zero.
func (e *ElectrumBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	estimate := func(blocks int) uint64 {
		var btcPerKB float64
		if err := e.call(ctx, "blockchain.estimatefee", []interface{}{blocks}, &btcPerKB); err != nil || btcPerKB <= 0 {
			return 0
		}
		return uint64(btcPerKB * 1e8 / 1000) // BTC/kB to sat/vB
	}

	return &FeeEstimate{
		FastestFee:  estimate(1),
		HalfHourFee: estimate(3),
		HourFee:     estimate(6),
		EconomyFee:  estimate(144),
		MinimumFee:  1,
	}, nil
}

// call makes an Electrum JSON-RPC call and decodes the result.
func (e *ElectrumBackend) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected || e.conn == nil {
		return ErrNotConnected
	}
	return e.callLocked(method, params, result)
}

// callLocked performs a request on the current connection. e.mu must be held.
func (e *ElectrumBackend) callLocked(method string, params []interface{}, result interface{}) error {
	e.requestID++
	data, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      e.requestID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	e.conn.SetDeadline(time.Now().Add(e.timeout))

	// Requests and responses are newline delimited.
	if _, err := e.conn.Write(append(data, '\n')); err != nil {
		e.connected = false
		return err
	}
	line, err := e.reader.ReadBytes('\n')
	if err != nil {
		e.connected = false
		return err
	}

	var response struct {
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if response.Error != nil {
		return fmt.Errorf("electrum error %d: %s", response.Error.Code, response.Error.Message)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, method, err)
	}
	return nil
}

// electrumScriptHash converts a hex scriptPubKey to Electrum's script hash:
// SHA256 of the script, byte-reversed, hex encoded.
func electrumScriptHash(scriptHex string) (string, error) {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(script)
	for i, j := 0, len(hash)-1; i < j; i, j = i+1, j-1 {
		hash[i], hash[j] = hash[j], hash[i]
	}
	return hex.EncodeToString(hash[:]), nil
}

// Ensure ElectrumBackend implements Backend
var _ Backend = (*ElectrumBackend)(nil)
