package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	evmKey      = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	evmKey2     = "0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	evmDeadAddr = "0x000000000000000000000000000000000000dEaD"
)

type stubEVM struct {
	mu      sync.Mutex
	chainID int64
	nonce   uint64
	sent    []*types.Transaction
	fail    error
	closed  bool
}

func (c *stubEVM) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(c.chainID), nil
}

func (c *stubEVM) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.nonce, nil
}

func (c *stubEVM) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *stubEVM) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (c *stubEVM) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *stubEVM) Close() {
	c.closed = true
}

type endpoints map[string]string

func (e endpoints) EVMRPCURL(symbol string) (string, bool) {
	url, ok := e[symbol]
	return url, ok
}

func newEVMService(t *testing.T, client *stubEVM) (*Service, *storage.Storage, *recorder) {
	t.Helper()

	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	events := &recorder{}
	svc, err := New(&Config{
		Chains:       chain.DefaultRegistry(),
		Backends:     backend.NewRegistry(),
		Store:        store,
		Logger:       logging.Nop(),
		Emitter:      events,
		EVMEndpoints: endpoints{"BSC": "http://bsc.invalid"},
		DialEVM: func(ctx context.Context, rpcURL string) (evm.Client, error) {
			if rpcURL != "http://bsc.invalid" {
				return nil, errors.New("unexpected url " + rpcURL)
			}
			return client, nil
		},
	})
	require.NoError(t, err)
	return svc, store, events
}

func TestEVMTransfer(t *testing.T) {
	client := &stubEVM{chainID: 56, nonce: 9}
	svc, store, events := newEVMService(t, client)

	res, err := svc.EVMTransfer(context.Background(), EVMTransferRequest{
		Network:    "bsc",
		PrivateKey: evmKey,
		To:         evmDeadAddr,
		Amount:     "0.5",
		Data:       "0xdeadbeef",
	})
	require.NoError(t, err)

	assert.Equal(t, "BSC", res.Network)
	assert.Equal(t, uint64(56), res.ChainID)
	assert.Equal(t, uint64(9), res.Nonce)
	assert.Equal(t, "500000000000000000", res.Value)
	assert.True(t, strings.HasPrefix(res.ExplorerURL, "https://bscscan.com/tx/0x"))
	assert.True(t, client.closed)
	require.Len(t, client.sent, 1)

	journal, err := store.ListEVMTransfers("BSC", 0)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "sent", journal[0].Status)
	assert.Equal(t, res.Hash, journal[0].TxHash)
	require.NotNil(t, journal[0].Nonce)
	assert.Equal(t, uint64(9), *journal[0].Nonce)

	assert.Equal(t, []Event{EventEVMTransfer}, events.names())
}

func TestEVMTransferErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("chain mismatch", func(t *testing.T) {
		svc, _, _ := newEVMService(t, &stubEVM{chainID: 1})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "BSC", PrivateKey: evmKey, To: evmDeadAddr, Amount: "1"})
		require.ErrorIs(t, err, evm.ErrChainMismatch)
	})

	t.Run("no endpoint", func(t *testing.T) {
		svc, _, _ := newEVMService(t, &stubEVM{chainID: 1})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "ETH", PrivateKey: evmKey, To: evmDeadAddr, Amount: "1"})
		require.ErrorIs(t, err, ErrNoEVMEndpoint)
	})

	t.Run("unknown network", func(t *testing.T) {
		svc, _, _ := newEVMService(t, &stubEVM{chainID: 56})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "FANTOM", PrivateKey: evmKey, To: evmDeadAddr, Amount: "1"})
		require.ErrorIs(t, err, chain.ErrUnknownNetwork)
	})

	t.Run("bad key", func(t *testing.T) {
		svc, _, _ := newEVMService(t, &stubEVM{chainID: 56})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "BSC", PrivateKey: "1234", To: evmDeadAddr, Amount: "1"})
		require.ErrorIs(t, err, evm.ErrInvalidPrivateKey)
	})

	t.Run("validation is not journaled", func(t *testing.T) {
		svc, store, _ := newEVMService(t, &stubEVM{chainID: 56})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "BSC", PrivateKey: evmKey, To: "0x1234", Amount: "1"})
		require.ErrorIs(t, err, evm.ErrInvalidAddress)

		journal, err := store.ListEVMTransfers("", 0)
		require.NoError(t, err)
		assert.Empty(t, journal)
	})

	t.Run("send failure is journaled", func(t *testing.T) {
		svc, store, _ := newEVMService(t, &stubEVM{chainID: 56, fail: errors.New("insufficient funds")})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "BSC", PrivateKey: evmKey, To: evmDeadAddr, Amount: "1"})
		require.ErrorIs(t, err, evm.ErrTransferFailed)

		journal, err := store.ListEVMTransfers("BSC", 0)
		require.NoError(t, err)
		require.Len(t, journal, 1)
		assert.Equal(t, "failed", journal[0].Status)
		assert.Equal(t, "1000000000000000000", journal[0].Value)
		assert.Contains(t, journal[0].Error, "insufficient funds")
	})

	t.Run("bad gas price", func(t *testing.T) {
		svc, _, _ := newEVMService(t, &stubEVM{chainID: 56})
		_, err := svc.EVMTransfer(ctx, EVMTransferRequest{Network: "BSC", PrivateKey: evmKey, To: evmDeadAddr, Amount: "1", GasPrice: "abc"})
		require.ErrorIs(t, err, evm.ErrInvalidAmount)
	})
}

func TestEVMBatchOneToMany(t *testing.T) {
	client := &stubEVM{chainID: 56, nonce: 2}
	svc, store, _ := newEVMService(t, client)

	res, err := svc.EVMBatchTransfer(context.Background(), EVMBatchRequest{
		Network:    "BSC",
		Mode:       BatchOneToMany,
		PrivateKey: evmKey,
		Recipients: []string{evmDeadAddr, "not-an-address", evmDeadAddr},
		Amount:     "0.01",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Outcomes, 3)
	assert.False(t, res.Outcomes[1].OK())

	require.Len(t, client.sent, 2)
	assert.Equal(t, uint64(2), client.sent[0].Nonce())
	assert.Equal(t, uint64(3), client.sent[1].Nonce())

	journal, err := store.ListEVMTransfers("BSC", 0)
	require.NoError(t, err)
	assert.Len(t, journal, 3)
}

func TestEVMBatchManyToOne(t *testing.T) {
	client := &stubEVM{chainID: 56}
	svc, _, _ := newEVMService(t, client)

	res, err := svc.EVMBatchTransfer(context.Background(), EVMBatchRequest{
		Network:     "BSC",
		Mode:        BatchManyToOne,
		PrivateKeys: []string{evmKey, evmKey2},
		To:          evmDeadAddr,
		Amount:      "0.01",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.NotEqual(t, res.Outcomes[0].From, res.Outcomes[1].From)

	_, err = svc.EVMBatchTransfer(context.Background(), EVMBatchRequest{
		Network:     "BSC",
		Mode:        BatchManyToOne,
		PrivateKeys: []string{evmKey, "0x1234"},
		To:          evmDeadAddr,
		Amount:      "0.01",
	})
	require.ErrorIs(t, err, ErrInvalidBatchKey)

	_, err = svc.EVMBatchTransfer(context.Background(), EVMBatchRequest{Network: "BSC", Mode: "sideways"})
	require.Error(t, err)
}

func TestEncodeCallData(t *testing.T) {
	svc, _, _ := newEVMService(t, &stubEVM{chainID: 56})

	abiJSON := `[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]}]`
	data, err := svc.EncodeCallData(abiJSON, "transfer", []evm.Param{
		{Type: "address", Value: evmDeadAddr},
		{Type: "uint256", Value: "1", Unit: evm.Gwei},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(data, "0xa9059cbb"))
	assert.True(t, strings.HasSuffix(data, "3b9aca00"))
}

func TestEVMNetworks(t *testing.T) {
	svc, _, _ := newEVMService(t, &stubEVM{chainID: 56})

	var found bool
	for _, n := range svc.EVMNetworks() {
		if n.Symbol == "BSC" {
			found = true
			assert.Equal(t, uint64(56), n.ChainID)
			assert.Equal(t, "http://bsc.invalid", n.RPCURL)
		}
	}
	assert.True(t, found)
}
