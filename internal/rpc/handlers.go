package rpc

import (
	"context"
	"encoding/json"

	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/service"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
	"github.com/klingon-exchange/utxoforge/pkg/helpers"
)

// Version of the daemon
const Version = "0.1.0-dev"

// ========================================
// Account and chain data handlers
// ========================================

// AccountDeriveParams is the parameters for account_derive.
type AccountDeriveParams struct {
	Secret      string             `json:"secret"` // mnemonic or WIF
	Network     chain.NetworkID    `json:"network,omitempty"`
	AddressType wallet.AddressType `json:"address_type,omitempty"`
}

func (s *Server) accountDerive(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AccountDeriveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Secret == "" {
		return nil, invalidParams("secret is required")
	}
	return s.svc.Derive(p.Secret, p.Network, p.AddressType)
}

// UTXOListParams is the parameters for utxo_list.
type UTXOListParams struct {
	Network chain.NetworkID `json:"network,omitempty"`
	Address string          `json:"address"`
}

// UTXOListResult is the response for utxo_list.
type UTXOListResult struct {
	Address  string         `json:"address"`
	UTXOs    []backend.UTXO `json:"utxos"`
	Total    uint64         `json:"total"`
	TotalBTC string         `json:"total_btc"`
}

func (s *Server) utxoList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p UTXOListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, invalidParams("address is required")
	}

	utxos, err := s.svc.ListUTXOs(ctx, p.Network, p.Address)
	if err != nil {
		return nil, err
	}
	if utxos == nil {
		utxos = []backend.UTXO{}
	}

	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	return &UTXOListResult{
		Address:  p.Address,
		UTXOs:    utxos,
		Total:    total,
		TotalBTC: helpers.SatsToBTC(total),
	}, nil
}

// NetworkParams selects a network. Params may be omitted entirely.
type NetworkParams struct {
	Network chain.NetworkID `json:"network,omitempty"`
}

func (s *Server) feeEstimate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p NetworkParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	return s.svc.FeeEstimates(ctx, p.Network)
}

// NetworkListResult is the response for network_list.
type NetworkListResult struct {
	Version     string                   `json:"version"`
	Networks    []service.NetworkInfo    `json:"networks"`
	EVMNetworks []service.EVMNetworkInfo `json:"evm_networks"`
}

func (s *Server) networkList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &NetworkListResult{
		Version:     Version,
		Networks:    s.svc.Networks(),
		EVMNetworks: s.svc.EVMNetworks(),
	}, nil
}

// ========================================
// Transaction handlers
// ========================================

func (s *Server) txMerge(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.MergeRequest
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Secret == "" {
		return nil, invalidParams("secret is required")
	}
	return s.svc.Merge(ctx, p)
}

func (s *Server) txSplit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.SplitRequest
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Secret == "" {
		return nil, invalidParams("secret is required")
	}
	if len(p.Outputs) == 0 {
		return nil, invalidParams("outputs are required")
	}
	return s.svc.Split(ctx, p)
}

// TxBroadcastParams is the parameters for tx_broadcast.
type TxBroadcastParams struct {
	Network chain.NetworkID `json:"network,omitempty"`
	RawHex  string          `json:"hex"`
}

func (s *Server) txBroadcast(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxBroadcastParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.RawHex == "" {
		return nil, invalidParams("hex is required")
	}
	return s.svc.Broadcast(ctx, p.Network, p.RawHex)
}

// TxHistoryParams is the parameters for tx_history.
type TxHistoryParams struct {
	Network string `json:"network,omitempty"`
	Status  string `json:"status,omitempty"`
	TxID    string `json:"txid,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

func (s *Server) txHistory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p TxHistoryParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}

	records, err := s.svc.History(storage.BroadcastFilter{
		Network: p.Network,
		Status:  storage.BroadcastStatus(p.Status),
		TxID:    p.TxID,
		Limit:   p.Limit,
		Offset:  p.Offset,
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*storage.Broadcast{}
	}
	return map[string]interface{}{
		"broadcasts": records,
		"count":      len(records),
	}, nil
}

// ========================================
// EVM handlers
// ========================================

// EncodeCallDataParams is the parameters for evm_encodeCallData.
type EncodeCallDataParams struct {
	ABI    string      `json:"abi"`
	Method string      `json:"method"`
	Params []evm.Param `json:"params"`
}

func (s *Server) evmEncodeCallData(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EncodeCallDataParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ABI == "" || p.Method == "" {
		return nil, invalidParams("abi and method are required")
	}

	data, err := s.svc.EncodeCallData(p.ABI, p.Method, p.Params)
	if err != nil {
		return nil, err
	}
	return map[string]string{"data": data}, nil
}

func (s *Server) evmTransfer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.EVMTransferRequest
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Network == "" {
		return nil, invalidParams("network is required")
	}
	return s.svc.EVMTransfer(ctx, p)
}

func (s *Server) evmBatchTransfer(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.EVMBatchRequest
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Network == "" {
		return nil, invalidParams("network is required")
	}
	switch p.Mode {
	case service.BatchOneToMany, service.BatchManyToOne:
	default:
		return nil, invalidParams("mode must be %q or %q", service.BatchOneToMany, service.BatchManyToOne)
	}
	return s.svc.EVMBatchTransfer(ctx, p)
}

// EVMHistoryParams is the parameters for evm_history.
type EVMHistoryParams struct {
	Network string `json:"network,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) evmHistory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EVMHistoryParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}

	records, err := s.svc.EVMHistory(p.Network, p.Limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*storage.EVMTransfer{}
	}
	return map[string]interface{}{
		"transfers": records,
		"count":     len(records),
	}, nil
}
