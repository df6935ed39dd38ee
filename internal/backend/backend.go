// Package backend provides blockchain API clients for fetching UTXOs, fee
// estimates and broadcasting transactions.
// This package never sees private keys - all signing happens in txbuilder.
package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/klingon-exchange/utxoforge/internal/chain"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrAddressNotFound    = errors.New("address not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrUnexpectedResponse = errors.New("unexpected backend response")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool  Type = "mempool"  // mempool.space API
	TypeEsplora  Type = "esplora"  // blockstream.info API
	TypeUnisat   Type = "unisat"   // unisat open-api indexer
	TypeElectrum Type = "electrum" // Electrum protocol
)

// DefaultTimeout applies when a Config leaves Timeout unset.
const DefaultTimeout = 30 * time.Second

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"`        // satoshis
	ScriptPubKey  string `json:"scriptpubkey"` // hex encoded
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height,omitempty"`
}

// Outpoint returns the "txid:vout" key of the output.
func (u UTXO) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

// FeeEstimate contains fee estimation for different confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	EconomyFee  uint64 `json:"economy_fee"`   // sat/vB for low priority
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}

// UTXOSource lists the spendable outputs of an address.
type UTXOSource interface {
	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
}

// Broadcaster submits a serialized transaction and returns its txid.
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)
}

// FeeEstimator reports current network fee rates.
type FeeEstimator interface {
	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)
}

// Backend is a full chain data provider for one network.
type Backend interface {
	UTXOSource
	Broadcaster
	FeeEstimator

	// Type returns the backend type (mempool, esplora, etc.)
	Type() Type

	// Endpoint describes where requests go, for logs and error context.
	Endpoint() string

	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Config contains backend configuration for one network.
type Config struct {
	Type Type   `yaml:"type"`
	URL  string `yaml:"url,omitempty"`

	// APIKey is sent as a bearer token (unisat).
	APIKey string `yaml:"api_key,omitempty"`

	// BroadcastURL is the mempool-compatible API used for broadcasting by
	// backends that cannot broadcast themselves (unisat).
	BroadcastURL string `yaml:"broadcast_url,omitempty"`

	// For Electrum
	Servers []string `yaml:"servers,omitempty"`
	UseTLS  bool     `yaml:"tls,omitempty"`

	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// DefaultConfig returns the mempool.space configuration for a network.
func DefaultConfig(params *chain.Params) *Config {
	return &Config{
		Type: TypeMempool,
		URL:  mempoolAPI(params.MempoolURL),
	}
}

func mempoolAPI(base string) string {
	return strings.TrimSuffix(base, "/") + "/api"
}

// NewFromConfig creates a backend for the given network. Empty URLs fall back
// to the network's public endpoints.
func NewFromConfig(cfg *Config, params *chain.Params) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig(params)
	}
	net := params.ChainConfig()

	switch cfg.Type {
	case TypeMempool, "":
		url := cfg.URL
		if url == "" {
			url = mempoolAPI(params.MempoolURL)
		}
		b := NewMempoolBackend(url, net)
		b.httpClient.Timeout = cfg.timeout()
		return b, nil

	case TypeEsplora:
		if cfg.URL == "" {
			return nil, fmt.Errorf("esplora backend for %s: url is required", params.ID)
		}
		b := NewEsploraBackend(cfg.URL, net)
		b.httpClient.Timeout = cfg.timeout()
		return b, nil

	case TypeUnisat:
		url := cfg.URL
		if url == "" {
			url = params.UnisatURL
		}
		broadcastURL := cfg.BroadcastURL
		if broadcastURL == "" {
			broadcastURL = mempoolAPI(params.MempoolURL)
		}
		b := NewUnisatBackend(url, cfg.APIKey, broadcastURL, net)
		b.httpClient.Timeout = cfg.timeout()
		b.broadcaster.httpClient.Timeout = cfg.timeout()
		return b, nil

	case TypeElectrum:
		if len(cfg.Servers) == 0 {
			return nil, fmt.Errorf("electrum backend for %s: no servers configured", params.ID)
		}
		b := NewElectrumBackend(cfg.Servers, cfg.UseTLS, net)
		b.timeout = cfg.timeout()
		return b, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
}

// scriptForAddress returns the hex scriptPubKey paying to address.
func scriptForAddress(address string, net *chaincfg.Params) (string, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return "", fmt.Errorf("decode address %q: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", fmt.Errorf("script for %q: %w", address, err)
	}
	return hex.EncodeToString(script), nil
}

// fillScripts sets ScriptPubKey on utxos that came back without one. APIs
// that list by address only return outputs paying to that address.
func fillScripts(utxos []UTXO, address string, net *chaincfg.Params) error {
	if net == nil {
		return nil
	}
	var script string
	for i := range utxos {
		if utxos[i].ScriptPubKey != "" {
			continue
		}
		if script == "" {
			s, err := scriptForAddress(address, net)
			if err != nil {
				return err
			}
			script = s
		}
		utxos[i].ScriptPubKey = script
	}
	return nil
}

// Registry holds backend instances by network.
type Registry struct {
	backends map[chain.NetworkID]Backend
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[chain.NetworkID]Backend),
	}
}

// NewDefaultRegistry creates a backend for every network in chains. Networks
// with an entry in overrides use it instead of the public mempool endpoint.
func NewDefaultRegistry(chains *chain.Registry, overrides map[chain.NetworkID]*Config) (*Registry, error) {
	r := NewRegistry()
	for _, params := range chains.List() {
		cfg := overrides[params.ID]
		b, err := NewFromConfig(cfg, params)
		if err != nil {
			return nil, err
		}
		r.Register(params.ID, b)
	}
	return r, nil
}

// Register adds a backend to the registry.
func (r *Registry) Register(network chain.NetworkID, backend Backend) {
	r.backends[network] = backend
}

// Get returns the backend for a network.
func (r *Registry) Get(network chain.NetworkID) (Backend, bool) {
	b, ok := r.backends[network]
	return b, ok
}

// List returns all registered networks, sorted.
func (r *Registry) List() []chain.NetworkID {
	ids := make([]chain.NetworkID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloseAll closes all registered backends.
func (r *Registry) CloseAll() {
	for _, b := range r.backends {
		b.Close()
	}
}
