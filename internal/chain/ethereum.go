package chain

import (
	"fmt"
	"strings"
)

// EVMParams describes an EVM network that the transfer helper can target.
type EVMParams struct {
	Symbol      string // lookup key (ETH, SEPOLIA, BSC, ...)
	Name        string
	ChainID     uint64
	NativeToken string
	ExplorerURL string
}

// ExplorerTxURL returns a block explorer link for a transaction hash.
func (p *EVMParams) ExplorerTxURL(hash string) string {
	return strings.TrimRight(p.ExplorerURL, "/") + "/tx/" + hash
}

// EVM returns the parameters for an EVM network symbol.
func (r *Registry) EVM(symbol string) (*EVMParams, error) {
	p, ok := r.evm[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, symbol)
	}
	return p, nil
}

// EVMByChainID returns the EVM network with the given chain id.
func (r *Registry) EVMByChainID(chainID uint64) (*EVMParams, bool) {
	for _, key := range r.evmOrder {
		if p := r.evm[key]; p.ChainID == chainID {
			return p, true
		}
	}
	return nil, false
}

// ListEVM returns all registered EVM networks in registration order.
func (r *Registry) ListEVM() []*EVMParams {
	out := make([]*EVMParams, 0, len(r.evmOrder))
	for _, key := range r.evmOrder {
		out = append(out, r.evm[key])
	}
	return out
}

func evmNetworks() []*EVMParams {
	return []*EVMParams{
		{Symbol: "ETH", Name: "Ethereum", ChainID: 1, NativeToken: "ETH", ExplorerURL: "https://etherscan.io"},
		{Symbol: "SEPOLIA", Name: "Ethereum Sepolia", ChainID: 11155111, NativeToken: "ETH", ExplorerURL: "https://sepolia.etherscan.io"},
		{Symbol: "BSC", Name: "BNB Smart Chain", ChainID: 56, NativeToken: "BNB", ExplorerURL: "https://bscscan.com"},
		{Symbol: "BSC-TESTNET", Name: "BNB Smart Chain Testnet", ChainID: 97, NativeToken: "BNB", ExplorerURL: "https://testnet.bscscan.com"},
		{Symbol: "POLYGON", Name: "Polygon", ChainID: 137, NativeToken: "POL", ExplorerURL: "https://polygonscan.com"},
		{Symbol: "ARBITRUM", Name: "Arbitrum One", ChainID: 42161, NativeToken: "ETH", ExplorerURL: "https://arbiscan.io"},
		{Symbol: "OPTIMISM", Name: "Optimism", ChainID: 10, NativeToken: "ETH", ExplorerURL: "https://optimistic.etherscan.io"},
		{Symbol: "BASE", Name: "Base", ChainID: 8453, NativeToken: "ETH", ExplorerURL: "https://basescan.org"},
		{Symbol: "AVAX", Name: "Avalanche C-Chain", ChainID: 43114, NativeToken: "AVAX", ExplorerURL: "https://snowtrace.io"},
	}
}
