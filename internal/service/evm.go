package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/storage"
)

// Batch modes.
const (
	BatchOneToMany = "one-to-many"
	BatchManyToOne = "many-to-one"
)

// EVMTransferRequest sends native tokens with optional call data.
type EVMTransferRequest struct {
	Network    string `json:"network"` // EVM symbol: ETH, BSC, ...
	PrivateKey string `json:"private_key"`
	To         string `json:"to"`
	Amount     string `json:"amount"` // ether
	Data       string `json:"data,omitempty"`
	GasLimit   uint64 `json:"gas_limit,omitempty"`
	GasPrice   string `json:"gas_price,omitempty"` // wei
}

// EVMTransferResult is a sent EVM transfer.
type EVMTransferResult struct {
	*evm.TransferResult
	Network     string `json:"network"`
	ExplorerURL string `json:"explorer_url"`
}

// EVMBatchRequest describes one of the two batch modes. One-to-many uses
// PrivateKey and Recipients; many-to-one uses PrivateKeys and To.
type EVMBatchRequest struct {
	Network     string   `json:"network"`
	Mode        string   `json:"mode"`
	PrivateKey  string   `json:"private_key,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
	PrivateKeys []string `json:"private_keys,omitempty"`
	To          string   `json:"to,omitempty"`
	Amount      string   `json:"amount"`
	Data        string   `json:"data,omitempty"`
}

// EVMBatchResult lists the outcome of every leg.
type EVMBatchResult struct {
	Network   string        `json:"network"`
	Mode      string        `json:"mode"`
	Outcomes  []evm.Outcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// EncodeCallData packs a contract call from an ABI definition.
func (s *Service) EncodeCallData(abiJSON, method string, params []evm.Param) (string, error) {
	return evm.EncodeCallData(abiJSON, method, params)
}

// openEVM dials the network's endpoint and checks that it serves the
// registered chain.
func (s *Service) openEVM(ctx context.Context, symbol string) (*chain.EVMParams, evm.Client, func(), error) {
	params, err := s.chains.EVM(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	if s.evmEndpoints == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNoEVMEndpoint, params.Symbol)
	}
	url, ok := s.evmEndpoints.EVMRPCURL(params.Symbol)
	if !ok || url == "" {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNoEVMEndpoint, params.Symbol)
	}

	client, err := s.dialEVM(ctx, url)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if c, ok := client.(interface{ Close() }); ok {
			c.Close()
		}
	}

	if err := evm.CheckChainID(ctx, client, params.ChainID); err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return params, client, closeFn, nil
}

// EVMTransfer sends one transfer and journals the attempt.
func (s *Service) EVMTransfer(ctx context.Context, req EVMTransferRequest) (*EVMTransferResult, error) {
	key, err := evm.ParsePrivateKey(req.PrivateKey)
	if err != nil {
		return nil, err
	}

	transfer := evm.TransferParams{
		To:       req.To,
		Amount:   req.Amount,
		Data:     req.Data,
		GasLimit: req.GasLimit,
	}
	if req.GasPrice != "" {
		price, ok := new(big.Int).SetString(req.GasPrice, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("%w: gas price %q", evm.ErrInvalidAmount, req.GasPrice)
		}
		transfer.GasPrice = price
	}

	params, client, closeFn, err := s.openEVM(ctx, req.Network)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	res, err := evm.Transfer(ctx, client, key, transfer)
	if err != nil && IsEVMValidationError(err) {
		return nil, err
	}

	rec := &storage.EVMTransfer{
		Network: params.Symbol,
		ChainID: params.ChainID,
		From:    evm.AddressFromPrivateKey(key).Hex(),
		To:      req.To,
		Value:   weiString(req.Amount),
		Data:    req.Data,
	}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		s.journalEVM(rec)
		s.log.Error("EVM transfer failed", "network", params.Symbol, "from", rec.From, "error", err)
		s.emit(EventEVMTransfer, rec)
		return nil, err
	}

	nonce := res.Nonce
	rec.To = res.To
	rec.TxHash = res.Hash
	rec.Nonce = &nonce
	rec.Status = "sent"
	s.journalEVM(rec)

	s.log.Info("EVM transfer sent", "network", params.Symbol, "hash", res.Hash, "from", res.From, "to", res.To)
	s.emit(EventEVMTransfer, rec)

	return &EVMTransferResult{
		TransferResult: res,
		Network:        params.Symbol,
		ExplorerURL:    params.ExplorerTxURL(res.Hash),
	}, nil
}

// EVMBatchTransfer runs a one-to-many or many-to-one batch. Every leg is
// journaled; the error is only set when the batch could not start.
func (s *Service) EVMBatchTransfer(ctx context.Context, req EVMBatchRequest) (*EVMBatchResult, error) {
	var (
		key  *ecdsa.PrivateKey
		keys []*ecdsa.PrivateKey
	)

	switch req.Mode {
	case BatchOneToMany:
		k, err := evm.ParsePrivateKey(req.PrivateKey)
		if err != nil {
			return nil, err
		}
		key = k
	case BatchManyToOne:
		if len(req.PrivateKeys) == 0 {
			return nil, fmt.Errorf("%w: no keys", ErrInvalidBatchKey)
		}
		keys = make([]*ecdsa.PrivateKey, len(req.PrivateKeys))
		for i, hexKey := range req.PrivateKeys {
			k, err := evm.ParsePrivateKey(hexKey)
			if err != nil {
				return nil, fmt.Errorf("%w: index %d", ErrInvalidBatchKey, i)
			}
			keys[i] = k
		}
	default:
		return nil, fmt.Errorf("unknown batch mode %q", req.Mode)
	}

	params, client, closeFn, err := s.openEVM(ctx, req.Network)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var outcomes []evm.Outcome
	if key != nil {
		outcomes, err = evm.TransferToMany(ctx, client, key, req.Recipients, req.Amount, req.Data)
	} else {
		outcomes, err = evm.TransferFromMany(ctx, client, keys, req.To, req.Amount, req.Data)
	}
	if err != nil {
		return nil, err
	}

	result := &EVMBatchResult{Network: params.Symbol, Mode: req.Mode, Outcomes: outcomes}
	value := weiString(req.Amount)
	for _, o := range outcomes {
		rec := &storage.EVMTransfer{
			Network: params.Symbol,
			ChainID: params.ChainID,
			From:    o.From,
			To:      o.To,
			Value:   value,
			Data:    req.Data,
			TxHash:  o.Hash,
		}
		if o.OK() {
			rec.Status = "sent"
			result.Succeeded++
		} else {
			rec.Status = "failed"
			rec.Error = o.Error
			result.Failed++
		}
		s.journalEVM(rec)
	}

	s.log.Info("EVM batch finished", "network", params.Symbol, "mode", req.Mode,
		"succeeded", result.Succeeded, "failed", result.Failed)
	s.emit(EventEVMTransfer, result)
	return result, nil
}

func (s *Service) journalEVM(rec *storage.EVMTransfer) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordEVMTransfer(rec); err != nil {
		s.log.Warn("Failed to journal evm transfer", "from", rec.From, "error", err)
	}
}

// weiString converts an ether amount for the journal. Unparseable amounts
// are journaled as zero since nothing was sent.
func weiString(amount string) string {
	wei, err := evm.ParseEther(amount)
	if err != nil {
		return "0"
	}
	return wei.String()
}

// IsEVMValidationError reports whether err was caused by bad input rather
// than by the node.
func IsEVMValidationError(err error) bool {
	for _, target := range []error{
		evm.ErrInvalidAddress, evm.ErrInvalidHexData, evm.ErrInvalidAmount,
		evm.ErrInvalidPrivateKey, evm.ErrInvalidABI, evm.ErrMethodNotFound,
		evm.ErrParamCount, evm.ErrUnsupportedType, evm.ErrInvalidParam,
		ErrInvalidBatchKey, chain.ErrUnknownNetwork,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
