// Package txbuilder builds, fee-sizes, signs and serializes merge and split
// transactions.
//
// Fees are derived from a signed transaction rather than an a-priori size
// estimate. Every build runs two passes: the estimate pass signs a
// transaction with placeholder output values and measures its virtual size;
// the final pass rebuilds it with corrected values and signs it again.
package txbuilder

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
	"github.com/klingon-exchange/utxoforge/pkg/logging"
)

// SignedTx is a finalized transaction ready for broadcast.
type SignedTx struct {
	Kind        Kind     `json:"kind"`
	RawHex      string   `json:"hex"`
	TxID        string   `json:"txid"`
	VirtualSize int64    `json:"vsize"`
	Fee         uint64   `json:"fee"`
	FeeRate     float64  `json:"fee_rate"` // actual sat/vB of the final transaction
	TotalInput  uint64   `json:"total_input"`
	TotalOutput uint64   `json:"total_output"`
	Change      uint64   `json:"change"`
	InputCount  int      `json:"input_count"`
	OutputCount int      `json:"output_count"`
	Outputs     []Output `json:"outputs"`
}

// Builder builds transactions against a network registry. It keeps no state
// between calls and may be used concurrently.
type Builder struct {
	registry *chain.Registry
	log      *logging.Logger
}

// New creates a Builder. A nil logger uses the process default.
func New(registry *chain.Registry, log *logging.Logger) *Builder {
	if log == nil {
		log = logging.GetDefault().Component("txbuilder")
	}
	return &Builder{registry: registry, log: log}
}

// BuildMerge spends every utxo into a single output to target, less the fee.
func (b *Builder) BuildMerge(
	keys *wallet.KeyMaterial,
	addrType wallet.AddressType,
	network chain.NetworkID,
	utxos []backend.UTXO,
	feeRate float64,
	target string,
) (*SignedTx, error) {
	if err := validateCommon(utxos, feeRate); err != nil {
		return nil, err
	}

	plan := NewMergePlan(utxos, target, feeRate)
	return b.build(keys, addrType, network, plan, FinalizeMerge)
}

// BuildSplit spends utxos into the requested outputs plus a change output
// when the remainder clears the dust threshold. An empty changeAddress sends
// change back to the signing key's own address.
func (b *Builder) BuildSplit(
	keys *wallet.KeyMaterial,
	addrType wallet.AddressType,
	network chain.NetworkID,
	utxos []backend.UTXO,
	feeRate float64,
	outputs []Output,
	changeAddress string,
) (*SignedTx, error) {
	if err := validateCommon(utxos, feeRate); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	var requested uint64
	for i, o := range outputs {
		if err := checkRequestedOutput(i, o.Value); err != nil {
			return nil, err
		}
		if o.Value > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("%w: output %d value %d exceeds %d", ErrInvalidInput, i, o.Value, int64(btcutil.MaxSatoshi))
		}
		requested += o.Value
	}
	if requested > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("%w: requested %d exceeds %d", ErrInvalidInput, requested, int64(btcutil.MaxSatoshi))
	}

	if changeAddress == "" {
		params, err := b.registry.Get(network)
		if err != nil {
			return nil, err
		}
		own, err := wallet.EncodeAddress(keys, addrType, params)
		if err != nil {
			return nil, fmt.Errorf("%w: change address: %v", ErrSigning, err)
		}
		changeAddress = own
	}

	plan := NewSplitPlan(utxos, outputs, changeAddress, feeRate)
	return b.build(keys, addrType, network, plan, FinalizeSplit)
}

type finalizeFunc func(Plan, int64) (Plan, error)

func (b *Builder) build(
	keys *wallet.KeyMaterial,
	addrType wallet.AddressType,
	network chain.NetworkID,
	plan Plan,
	finalize finalizeFunc,
) (*SignedTx, error) {
	params, err := b.registry.Get(network)
	if err != nil {
		return nil, err
	}

	s, err := newSigner(keys, addrType, params)
	if err != nil {
		return nil, err
	}

	// Estimate pass.
	estimateTx, err := s.build(plan)
	if err != nil {
		return nil, err
	}
	estimateSize := virtualSize(estimateTx)

	final, err := finalize(plan, estimateSize)
	if err != nil {
		return nil, err
	}

	b.log.Debug("estimate pass",
		"kind", plan.Kind,
		"network", network,
		"inputs", len(plan.Inputs),
		"vsize", estimateSize,
		"fee", final.Fee,
	)

	// Final pass.
	tx, err := s.build(final)
	if err != nil {
		return nil, err
	}
	rawHex, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	vsize := virtualSize(tx)
	result := &SignedTx{
		Kind:        final.Kind,
		RawHex:      rawHex,
		TxID:        tx.TxHash().String(),
		VirtualSize: vsize,
		Fee:         final.Fee,
		FeeRate:     float64(final.Fee) / float64(vsize),
		TotalInput:  final.TotalInput(),
		TotalOutput: final.TotalOutput(),
		Change:      final.Change,
		InputCount:  len(tx.TxIn),
		OutputCount: len(tx.TxOut),
		Outputs:     final.Outputs,
	}

	b.log.Debug("transaction signed",
		"kind", result.Kind,
		"txid", result.TxID,
		"vsize", result.VirtualSize,
		"fee", result.Fee,
	)

	return result, nil
}

func validateCommon(utxos []backend.UTXO, feeRate float64) error {
	if len(utxos) == 0 {
		return ErrNoInputs
	}
	if feeRate <= 0 || math.IsNaN(feeRate) || math.IsInf(feeRate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, feeRate)
	}

	var total uint64
	for i, u := range utxos {
		if u.Amount > btcutil.MaxSatoshi {
			return fmt.Errorf("%w: input %d amount %d exceeds %d", ErrInvalidInput, i, u.Amount, int64(btcutil.MaxSatoshi))
		}
		total += u.Amount
	}
	if total > btcutil.MaxSatoshi {
		return fmt.Errorf("%w: total input %d exceeds %d", ErrInvalidInput, total, int64(btcutil.MaxSatoshi))
	}
	return nil
}
