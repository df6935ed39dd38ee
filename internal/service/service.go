// Package service ties the toolkit together for the daemon and the CLI.
//
// A Service derives an account from a secret, lists the account's outputs
// through the network's backend, hands the caller's selection to the
// transaction builder and optionally broadcasts and journals the result.
// Secrets are used for the duration of one call and never stored.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/internal/txbuilder"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
	"github.com/klingon-exchange/utxoforge/pkg/logging"
)

// Service errors
var (
	ErrNoBackend       = errors.New("no backend configured for network")
	ErrNoJournal       = errors.New("broadcast journal is not enabled")
	ErrUTXONotFound    = errors.New("selected output is not unspent")
	ErrNoSpendable     = errors.New("address has no spendable outputs")
	ErrInvalidTx       = errors.New("invalid raw transaction")
	ErrNoEVMEndpoint   = errors.New("no rpc endpoint for evm network")
	ErrInvalidBatchKey = errors.New("invalid private key in batch")
)

// Event names emitted to subscribers.
type Event string

const (
	EventTxBuilt     Event = "tx_built"
	EventTxBroadcast Event = "tx_broadcast"
	EventEVMTransfer Event = "evm_transfer"
)

// Emitter receives service events. The daemon's websocket hub implements it.
type Emitter interface {
	Emit(event Event, data interface{})
}

// EVMResolver maps an EVM network symbol to a JSON-RPC URL.
type EVMResolver interface {
	EVMRPCURL(symbol string) (string, bool)
}

// DialFunc opens an EVM client for a JSON-RPC URL.
type DialFunc func(ctx context.Context, rpcURL string) (evm.Client, error)

// Config holds the collaborators of a Service.
type Config struct {
	Chains   *chain.Registry
	Backends *backend.Registry

	// Store journals broadcasts and EVM transfers. Optional.
	Store *storage.Storage

	Logger  *logging.Logger
	Emitter Emitter

	DefaultNetwork chain.NetworkID
	DefaultFeeRate float64

	EVMEndpoints EVMResolver
	DialEVM      DialFunc
}

// Service orchestrates derivation, building and broadcasting.
type Service struct {
	chains   *chain.Registry
	backends *backend.Registry
	deriver  *wallet.Deriver
	builder  *txbuilder.Builder
	store    *storage.Storage
	log      *logging.Logger
	emitter  Emitter

	defaultNetwork chain.NetworkID
	defaultFeeRate float64

	evmEndpoints EVMResolver
	dialEVM      DialFunc
}

// New creates a Service.
func New(cfg *Config) (*Service, error) {
	if cfg == nil || cfg.Chains == nil {
		return nil, fmt.Errorf("service: chain registry is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault().Component("service")
	}

	backends := cfg.Backends
	if backends == nil {
		var err error
		backends, err = backend.NewDefaultRegistry(cfg.Chains, nil)
		if err != nil {
			return nil, err
		}
	}

	network := cfg.DefaultNetwork
	if network == "" {
		network = chain.Mainnet
	}
	if _, err := cfg.Chains.Get(network); err != nil {
		return nil, err
	}

	feeRate := cfg.DefaultFeeRate
	if feeRate <= 0 {
		feeRate = 2
	}

	dial := cfg.DialEVM
	if dial == nil {
		dial = func(ctx context.Context, rpcURL string) (evm.Client, error) {
			return evm.Dial(ctx, rpcURL)
		}
	}

	return &Service{
		chains:         cfg.Chains,
		backends:       backends,
		deriver:        wallet.NewDeriver(cfg.Chains),
		builder:        txbuilder.New(cfg.Chains, log.Component("txbuilder")),
		store:          cfg.Store,
		log:            log,
		emitter:        cfg.Emitter,
		defaultNetwork: network,
		defaultFeeRate: feeRate,
		evmEndpoints:   cfg.EVMEndpoints,
		dialEVM:        dial,
	}, nil
}

// SetEmitter replaces the event emitter. The daemon sets it once its
// websocket hub is running.
func (s *Service) SetEmitter(e Emitter) {
	s.emitter = e
}

func (s *Service) emit(event Event, data interface{}) {
	if s.emitter != nil {
		s.emitter.Emit(event, data)
	}
}

// network resolves an optional network id to its parameters.
func (s *Service) network(id chain.NetworkID) (*chain.Params, error) {
	if id == "" {
		id = s.defaultNetwork
	}
	return s.chains.Get(id)
}

func (s *Service) backend(id chain.NetworkID) (backend.Backend, error) {
	b, ok := s.backends.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, id)
	}
	return b, nil
}

// AccountInfo is the public view of a derived account.
type AccountInfo struct {
	Network        chain.NetworkID    `json:"network"`
	Address        string             `json:"address"`
	AddressType    wallet.AddressType `json:"address_type"`
	DerivationPath string             `json:"derivation_path,omitempty"`
	PublicKey      string             `json:"public_key"`
	XOnlyPubKey    string             `json:"xonly_pubkey,omitempty"`
}

func accountInfo(acct *wallet.Account) *AccountInfo {
	info := &AccountInfo{
		Network:        acct.Network,
		Address:        acct.Address,
		AddressType:    acct.AddressType,
		DerivationPath: acct.DerivationPath,
		PublicKey:      hex.EncodeToString(acct.Keys.PublicKey),
	}
	if len(acct.Keys.XOnlyPubKey) > 0 {
		info.XOnlyPubKey = hex.EncodeToString(acct.Keys.XOnlyPubKey)
	}
	return info
}

func addrTypeOrDefault(t wallet.AddressType) wallet.AddressType {
	if t == 0 {
		return wallet.AddressTaprootKeyPath
	}
	return t
}

// Derive returns the address and public keys for a secret. The private key
// is cleared before returning.
func (s *Service) Derive(secret string, network chain.NetworkID, addrType wallet.AddressType) (*AccountInfo, error) {
	params, err := s.network(network)
	if err != nil {
		return nil, err
	}
	acct, err := s.deriver.DeriveAccount(secret, params.ID, addrTypeOrDefault(addrType))
	if err != nil {
		return nil, err
	}
	defer acct.Keys.Zero()
	return accountInfo(acct), nil
}

// ListUTXOs returns the unspent outputs of an address.
func (s *Service) ListUTXOs(ctx context.Context, network chain.NetworkID, address string) ([]backend.UTXO, error) {
	params, err := s.network(network)
	if err != nil {
		return nil, err
	}
	if _, err := wallet.DecodeAddress(address, params); err != nil {
		return nil, err
	}
	b, err := s.backend(params.ID)
	if err != nil {
		return nil, err
	}
	return b.GetAddressUTXOs(ctx, address)
}

// FeeEstimates returns the backend's current fee rates for a network.
func (s *Service) FeeEstimates(ctx context.Context, network chain.NetworkID) (*backend.FeeEstimate, error) {
	params, err := s.network(network)
	if err != nil {
		return nil, err
	}
	b, err := s.backend(params.ID)
	if err != nil {
		return nil, err
	}
	return b.GetFeeEstimates(ctx)
}

// NetworkInfo describes a registered network and its backend.
type NetworkInfo struct {
	ID        chain.NetworkID `json:"id"`
	Name      string          `json:"name"`
	Bech32HRP string          `json:"bech32_hrp"`
	WIF       string          `json:"wif_version"`
	Testnet   bool            `json:"testnet"`
	Backend   backend.Type    `json:"backend,omitempty"`
	Endpoint  string          `json:"endpoint,omitempty"`
}

// EVMNetworkInfo describes a registered EVM network.
type EVMNetworkInfo struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	ChainID     uint64 `json:"chain_id"`
	NativeToken string `json:"native_token"`
	RPCURL      string `json:"rpc_url,omitempty"`
}

// Networks lists the Bitcoin-style networks in registry order.
func (s *Service) Networks() []NetworkInfo {
	list := s.chains.List()
	out := make([]NetworkInfo, 0, len(list))
	for _, p := range list {
		info := NetworkInfo{
			ID:        p.ID,
			Name:      p.Name,
			Bech32HRP: p.Bech32HRP,
			WIF:       fmt.Sprintf("0x%02x", p.WIF),
			Testnet:   p.IsTestNetwork(),
		}
		if b, ok := s.backends.Get(p.ID); ok {
			info.Backend = b.Type()
			info.Endpoint = b.Endpoint()
		}
		out = append(out, info)
	}
	return out
}

// EVMNetworks lists the EVM networks in registry order.
func (s *Service) EVMNetworks() []EVMNetworkInfo {
	list := s.chains.ListEVM()
	out := make([]EVMNetworkInfo, 0, len(list))
	for _, p := range list {
		info := EVMNetworkInfo{
			Symbol:      p.Symbol,
			Name:        p.Name,
			ChainID:     p.ChainID,
			NativeToken: p.NativeToken,
		}
		if s.evmEndpoints != nil {
			info.RPCURL, _ = s.evmEndpoints.EVMRPCURL(p.Symbol)
		}
		out = append(out, info)
	}
	return out
}
