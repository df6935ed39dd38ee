package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/internal/txbuilder"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
)

// BroadcastError is a rejected broadcast. No txid is known to the network.
type BroadcastError struct {
	Network  chain.NetworkID
	Endpoint string
	Err      error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast on %s via %s: %v", e.Network, e.Endpoint, e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// BroadcastResult describes an accepted broadcast.
type BroadcastResult struct {
	TxID        string          `json:"txid"`
	Network     chain.NetworkID `json:"network"`
	Endpoint    string          `json:"endpoint"`
	ExplorerURL string          `json:"explorer_url"`
	JournalID   string          `json:"journal_id,omitempty"`
}

// BroadcastEvent is emitted for every broadcast attempt.
type BroadcastEvent struct {
	TxID     string                  `json:"txid"`
	Network  chain.NetworkID         `json:"network"`
	Endpoint string                  `json:"endpoint"`
	Status   storage.BroadcastStatus `json:"status"`
	Error    string                  `json:"error,omitempty"`
}

// Broadcast submits a raw transaction built elsewhere.
func (s *Service) Broadcast(ctx context.Context, network chain.NetworkID, rawHex string) (*BroadcastResult, error) {
	params, err := s.network(network)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	var total uint64
	for _, out := range tx.TxOut {
		total += uint64(out.Value)
	}

	rec := &storage.Broadcast{
		Network:     string(params.ID),
		Kind:        "raw",
		TxID:        tx.TxHash().String(),
		RawHex:      rawHex,
		InputCount:  len(tx.TxIn),
		OutputCount: len(tx.TxOut),
		TotalOutput: total,
	}
	return s.send(ctx, params, rec)
}

func recordFromTx(network chain.NetworkID, acct *wallet.Account, tx *txbuilder.SignedTx) *storage.Broadcast {
	return &storage.Broadcast{
		Network:     string(network),
		Kind:        string(tx.Kind),
		AddressType: acct.AddressType.String(),
		Address:     acct.Address,
		TxID:        tx.TxID,
		RawHex:      tx.RawHex,
		Fee:         tx.Fee,
		VirtualSize: tx.VirtualSize,
		FeeRate:     tx.FeeRate,
		InputCount:  tx.InputCount,
		OutputCount: tx.OutputCount,
		TotalInput:  tx.TotalInput,
		TotalOutput: tx.TotalOutput,
		Change:      tx.Change,
	}
}

// send hands rec.RawHex to the network's broadcaster and journals the
// outcome either way.
func (s *Service) send(ctx context.Context, params *chain.Params, rec *storage.Broadcast) (*BroadcastResult, error) {
	b, err := s.backend(params.ID)
	if err != nil {
		return nil, err
	}
	rec.Endpoint = b.Endpoint()

	txid, err := b.BroadcastTransaction(ctx, rec.RawHex)
	if err != nil {
		if !errors.Is(err, backend.ErrBroadcastFailed) {
			err = fmt.Errorf("%w: %v", backend.ErrBroadcastFailed, err)
		}
		rec.Status = storage.BroadcastStatusFailed
		rec.Error = err.Error()
		s.journal(rec)

		s.log.Error("Broadcast rejected", "network", params.ID, "endpoint", rec.Endpoint, "txid", rec.TxID, "error", err)
		s.emit(EventTxBroadcast, BroadcastEvent{
			TxID:     rec.TxID,
			Network:  params.ID,
			Endpoint: rec.Endpoint,
			Status:   rec.Status,
			Error:    rec.Error,
		})
		return nil, &BroadcastError{Network: params.ID, Endpoint: rec.Endpoint, Err: err}
	}

	if txid != rec.TxID {
		s.log.Warn("Broadcaster reported a different txid", "expected", rec.TxID, "got", txid)
	}

	rec.Status = storage.BroadcastStatusSent
	s.journal(rec)

	s.log.Info("Transaction broadcast", "network", params.ID, "txid", rec.TxID, "endpoint", rec.Endpoint)
	s.emit(EventTxBroadcast, BroadcastEvent{
		TxID:     rec.TxID,
		Network:  params.ID,
		Endpoint: rec.Endpoint,
		Status:   rec.Status,
	})

	return &BroadcastResult{
		TxID:        rec.TxID,
		Network:     params.ID,
		Endpoint:    rec.Endpoint,
		ExplorerURL: params.ExplorerTxURL(rec.TxID),
		JournalID:   rec.ID,
	}, nil
}

// journal records a broadcast attempt. A journal failure never fails the
// broadcast itself.
func (s *Service) journal(rec *storage.Broadcast) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordBroadcast(rec); err != nil {
		s.log.Warn("Failed to journal broadcast", "txid", rec.TxID, "error", err)
	}
}

// History lists journaled broadcasts.
func (s *Service) History(filter storage.BroadcastFilter) ([]*storage.Broadcast, error) {
	if s.store == nil {
		return nil, ErrNoJournal
	}
	return s.store.ListBroadcasts(filter)
}

// EVMHistory lists journaled EVM transfers.
func (s *Service) EVMHistory(network string, limit int) ([]*storage.EVMTransfer, error) {
	if s.store == nil {
		return nil, ErrNoJournal
	}
	return s.store.ListEVMTransfers(network, limit)
}
