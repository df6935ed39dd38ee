package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// batchConcurrency caps in-flight sends for many-to-one batches.
const batchConcurrency = 8

// Outcome is the result of one transfer in a batch.
type Outcome struct {
	Index int    `json:"index"`
	From  string `json:"from"`
	To    string `json:"to"`
	Hash  string `json:"hash,omitempty"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the transfer was sent.
func (o Outcome) OK() bool {
	return o.Error == "" && o.Hash != ""
}

// TransferToMany sends amount from key to every recipient, in order. Nonces
// are assigned sequentially from the account's pending nonce, and a failed
// send does not consume one. Per-recipient failures are reported in the
// outcomes; the error is only set when the batch could not start.
func TransferToMany(
	ctx context.Context,
	client Client,
	key *ecdsa.PrivateKey,
	recipients []string,
	amount, data string,
) ([]Outcome, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidAddress)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrTransferFailed, err)
	}
	from := AddressFromPrivateKey(key)
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrTransferFailed, err)
	}

	outcomes := make([]Outcome, len(recipients))
	for i, to := range recipients {
		outcomes[i] = Outcome{Index: i, From: from.Hex(), To: to}

		params := TransferParams{To: to, Amount: amount, Data: data}
		t, err := params.validate()
		if err != nil {
			outcomes[i].Error = err.Error()
			continue
		}

		res, err := send(ctx, client, key, chainID, nonce, t, params)
		if err != nil {
			outcomes[i].Error = err.Error()
			continue
		}
		outcomes[i].To = res.To
		outcomes[i].Hash = res.Hash
		nonce++
	}
	return outcomes, nil
}

// TransferFromMany sends amount from every key to a single recipient. Keys are
// independent accounts, so their transfers run concurrently.
func TransferFromMany(
	ctx context.Context,
	client Client,
	keys []*ecdsa.PrivateKey,
	to, amount, data string,
) ([]Outcome, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrInvalidPrivateKey)
	}
	params := TransferParams{To: to, Amount: amount, Data: data}
	if _, err := params.validate(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, key := range keys {
		i, key := i, key
		outcomes[i] = Outcome{Index: i, From: AddressFromPrivateKey(key).Hex(), To: to}

		g.Go(func() error {
			res, err := Transfer(gctx, client, key, params)
			if err != nil {
				outcomes[i].Error = err.Error()
				return nil
			}
			outcomes[i].To = res.To
			outcomes[i].Hash = res.Hash
			return nil
		})
	}
	g.Wait()

	return outcomes, nil
}
