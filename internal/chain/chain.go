// Package chain defines the network parameters the toolkit can build for.
// All network values are hardcoded here - no external configuration needed.
//
// Parameters live in an explicit, immutable Registry that is created once at
// startup and passed by reference to every component that needs it.
package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkID identifies a Bitcoin-style network.
type NetworkID string

const (
	Mainnet        NetworkID = "mainnet"
	Testnet        NetworkID = "testnet" // testnet3
	Testnet4       NetworkID = "testnet4"
	Signet         NetworkID = "signet"
	Fractal        NetworkID = "fractal"
	FractalTestnet NetworkID = "fractal-testnet"
)

var (
	// ErrUnknownNetwork is returned when a network id is not in the registry.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrDuplicateNetwork is returned when a registry is built with the same
	// network id twice.
	ErrDuplicateNetwork = errors.New("duplicate network")
)

// Params contains the encoding parameters of one network.
type Params struct {
	// Identity
	ID   NetworkID
	Name string

	// Address and key encoding
	PubKeyHashAddrID byte   // P2PKH version byte
	ScriptHashAddrID byte   // P2SH version byte
	Bech32HRP        string // bech32/bech32m human-readable prefix
	WIF              byte   // WIF private key version byte

	// BIP32 HD key magic bytes (for xpub/xprv serialization)
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// Default collaborator endpoints
	MempoolURL string // mempool.space compatible REST API
	UnisatURL  string // unisat open-api compatible indexer

	// net is the btcd chain tag used for address encoding and script templates.
	net *chaincfg.Params
}

// ChainConfig returns the btcd parameters used for address encoding and
// script templates on this network.
func (p *Params) ChainConfig() *chaincfg.Params {
	return p.net
}

// IsTestNetwork reports whether the network uses testnet encoding.
func (p *Params) IsTestNetwork() bool {
	return p.WIF != chaincfg.MainNetParams.PrivateKeyID
}

// ExplorerTxURL returns a block explorer link for a transaction.
func (p *Params) ExplorerTxURL(txid string) string {
	return strings.TrimRight(p.MempoolURL, "/") + "/tx/" + txid
}

// Registry holds network parameters indexed by id. A Registry is never
// modified after NewRegistry returns, so it is safe for concurrent use.
type Registry struct {
	networks map[NetworkID]*Params
	order    []NetworkID

	evm      map[string]*EVMParams
	evmOrder []string
}

// NewRegistry builds a registry from the given network parameters.
func NewRegistry(networks []*Params, evmNetworks []*EVMParams) (*Registry, error) {
	r := &Registry{
		networks: make(map[NetworkID]*Params, len(networks)),
		evm:      make(map[string]*EVMParams, len(evmNetworks)),
	}

	for _, p := range networks {
		if p == nil || p.ID == "" {
			return nil, fmt.Errorf("network params missing id")
		}
		if p.net == nil {
			return nil, fmt.Errorf("network %s: missing chain config", p.ID)
		}
		if _, exists := r.networks[p.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNetwork, p.ID)
		}
		r.networks[p.ID] = p
		r.order = append(r.order, p.ID)
	}

	for _, p := range evmNetworks {
		key := strings.ToUpper(p.Symbol)
		if _, exists := r.evm[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNetwork, p.Symbol)
		}
		r.evm[key] = p
		r.evmOrder = append(r.evmOrder, key)
	}

	return r, nil
}

// DefaultRegistry returns a registry with every built-in network.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(bitcoinNetworks(), evmNetworks())
	if err != nil {
		// Built-in tables are static.
		panic(err)
	}
	return r
}

// Get returns the parameters for a network id.
func (r *Registry) Get(id NetworkID) (*Params, error) {
	p, ok := r.networks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, id)
	}
	return p, nil
}

// Lookup parses a user-supplied network name and returns its parameters.
func (r *Registry) Lookup(name string) (*Params, error) {
	return r.Get(NetworkID(strings.ToLower(strings.TrimSpace(name))))
}

// List returns all registered networks in registration order.
func (r *Registry) List() []*Params {
	out := make([]*Params, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.networks[id])
	}
	return out
}

// IsSupported returns true if the network is registered.
func (r *Registry) IsSupported(id NetworkID) bool {
	_, ok := r.networks[id]
	return ok
}
