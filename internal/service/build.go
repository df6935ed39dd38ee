package service

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/txbuilder"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
)

// InputSelection chooses the outputs a transaction spends. Exactly one source
// is used: explicit UTXOs, outpoints looked up on the backend, or, when both
// are empty, every unspent output of the signing address.
type InputSelection struct {
	UTXOs     []backend.UTXO `json:"utxos,omitempty"`
	Outpoints []string       `json:"outpoints,omitempty"` // "txid:vout"
}

// MergeRequest merges outputs of one address into a single output.
type MergeRequest struct {
	Secret      string             `json:"secret"`
	Network     chain.NetworkID    `json:"network,omitempty"`
	AddressType wallet.AddressType `json:"address_type,omitempty"`
	InputSelection

	// Target defaults to the signing address.
	Target string `json:"target,omitempty"`

	// FeeRate in sat/vB. Zero uses the backend's half-hour estimate.
	FeeRate float64 `json:"fee_rate,omitempty"`

	Broadcast bool `json:"broadcast,omitempty"`
}

// SplitRequest splits outputs of one address into several outputs.
type SplitRequest struct {
	Secret      string             `json:"secret"`
	Network     chain.NetworkID    `json:"network,omitempty"`
	AddressType wallet.AddressType `json:"address_type,omitempty"`
	InputSelection

	Outputs []txbuilder.Output `json:"outputs"`

	// ChangeAddress defaults to the signing address.
	ChangeAddress string `json:"change_address,omitempty"`

	FeeRate   float64 `json:"fee_rate,omitempty"`
	Broadcast bool    `json:"broadcast,omitempty"`
}

// BuildResult is a signed transaction and, when requested, its broadcast.
type BuildResult struct {
	Network     chain.NetworkID     `json:"network"`
	Address     string              `json:"address"`
	AddressType wallet.AddressType  `json:"address_type"`
	Tx          *txbuilder.SignedTx `json:"tx"`
	Broadcast   *BroadcastResult    `json:"broadcast,omitempty"`
}

// Merge builds (and optionally broadcasts) a merge transaction. When the
// broadcast fails the result still carries the signed transaction and the
// returned error is a *BroadcastError.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (*BuildResult, error) {
	params, err := s.network(req.Network)
	if err != nil {
		return nil, err
	}
	if req.Target != "" {
		if err := checkDestination(params, "target", req.Target); err != nil {
			return nil, err
		}
	}
	acct, err := s.deriver.DeriveAccount(req.Secret, params.ID, addrTypeOrDefault(req.AddressType))
	if err != nil {
		return nil, err
	}
	defer acct.Keys.Zero()

	utxos, err := s.selectInputs(ctx, params, acct, req.InputSelection)
	if err != nil {
		return nil, err
	}
	feeRate, err := s.resolveFeeRate(ctx, params.ID, req.FeeRate)
	if err != nil {
		return nil, err
	}

	target := req.Target
	if target == "" {
		target = acct.Address
	}

	tx, err := s.builder.BuildMerge(acct.Keys, acct.AddressType, params.ID, utxos, feeRate, target)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, params, acct, tx, req.Broadcast)
}

// Split builds (and optionally broadcasts) a split transaction.
func (s *Service) Split(ctx context.Context, req SplitRequest) (*BuildResult, error) {
	params, err := s.network(req.Network)
	if err != nil {
		return nil, err
	}
	for i, o := range req.Outputs {
		if err := checkDestination(params, fmt.Sprintf("output %d", i), o.Address); err != nil {
			return nil, err
		}
	}
	if req.ChangeAddress != "" {
		if err := checkDestination(params, "change", req.ChangeAddress); err != nil {
			return nil, err
		}
	}
	acct, err := s.deriver.DeriveAccount(req.Secret, params.ID, addrTypeOrDefault(req.AddressType))
	if err != nil {
		return nil, err
	}
	defer acct.Keys.Zero()

	utxos, err := s.selectInputs(ctx, params, acct, req.InputSelection)
	if err != nil {
		return nil, err
	}
	feeRate, err := s.resolveFeeRate(ctx, params.ID, req.FeeRate)
	if err != nil {
		return nil, err
	}

	tx, err := s.builder.BuildSplit(acct.Keys, acct.AddressType, params.ID, utxos, feeRate, req.Outputs, req.ChangeAddress)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, params, acct, tx, req.Broadcast)
}

func (s *Service) finish(ctx context.Context, params *chain.Params, acct *wallet.Account, tx *txbuilder.SignedTx, broadcast bool) (*BuildResult, error) {
	result := &BuildResult{
		Network:     params.ID,
		Address:     acct.Address,
		AddressType: acct.AddressType,
		Tx:          tx,
	}

	s.log.Info("Transaction built",
		"network", params.ID,
		"kind", tx.Kind,
		"txid", tx.TxID,
		"inputs", tx.InputCount,
		"outputs", tx.OutputCount,
		"fee", tx.Fee,
		"vsize", tx.VirtualSize,
	)
	s.emit(EventTxBuilt, result)

	if !broadcast {
		return result, nil
	}

	rec := recordFromTx(params.ID, acct, tx)
	res, err := s.send(ctx, params, rec)
	if err != nil {
		return result, err
	}
	result.Broadcast = res
	return result, nil
}

// selectInputs resolves an InputSelection into the outputs to spend.
func (s *Service) selectInputs(ctx context.Context, params *chain.Params, acct *wallet.Account, sel InputSelection) ([]backend.UTXO, error) {
	if len(sel.UTXOs) > 0 {
		return fillOwnedScripts(sel.UTXOs, acct, params)
	}

	b, err := s.backend(params.ID)
	if err != nil {
		return nil, err
	}
	available, err := b.GetAddressUTXOs(ctx, acct.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs for %s: %w", acct.Address, err)
	}

	if len(sel.Outpoints) == 0 {
		if len(available) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoSpendable, acct.Address)
		}
		return available, nil
	}

	byOutpoint := make(map[string]backend.UTXO, len(available))
	for _, u := range available {
		byOutpoint[u.Outpoint()] = u
	}

	selected := make([]backend.UTXO, 0, len(sel.Outpoints))
	for _, op := range sel.Outpoints {
		u, ok := byOutpoint[op]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUTXONotFound, op)
		}
		selected = append(selected, u)
	}
	return selected, nil
}

// checkDestination rejects an address that does not decode on the network,
// before any key is derived or backend queried.
func checkDestination(params *chain.Params, role, address string) error {
	if !wallet.ValidateAddress(address, params) {
		return fmt.Errorf("%w: %s %q on %s", wallet.ErrInvalidAddress, role, address, params.ID)
	}
	return nil
}

// fillOwnedScripts sets the signing address's script on caller-supplied
// outputs that omit it. Outputs that carry a script are left untouched so
// the builder can reject foreign ones.
func fillOwnedScripts(utxos []backend.UTXO, acct *wallet.Account, params *chain.Params) ([]backend.UTXO, error) {
	script, err := wallet.OwnedScript(acct.Keys, acct.AddressType, params)
	if err != nil {
		return nil, err
	}
	scriptHex := hex.EncodeToString(script)

	out := make([]backend.UTXO, len(utxos))
	for i, u := range utxos {
		if u.ScriptPubKey == "" {
			u.ScriptPubKey = scriptHex
		}
		out[i] = u
	}
	return out, nil
}

// resolveFeeRate returns the requested rate, else the backend's half-hour
// estimate, else the configured default.
func (s *Service) resolveFeeRate(ctx context.Context, network chain.NetworkID, requested float64) (float64, error) {
	if requested < 0 {
		return 0, fmt.Errorf("%w: %v", txbuilder.ErrInvalidFeeRate, requested)
	}
	if requested > 0 {
		return requested, nil
	}

	if b, ok := s.backends.Get(network); ok {
		est, err := b.GetFeeEstimates(ctx)
		if err == nil && est.HalfHourFee > 0 {
			s.log.Debug("Using backend fee estimate", "network", network, "fee_rate", est.HalfHourFee)
			return float64(est.HalfHourFee), nil
		}
		if err != nil {
			s.log.Warn("Fee estimate unavailable, using default", "network", network, "error", err)
		}
	}
	return s.defaultFeeRate, nil
}
