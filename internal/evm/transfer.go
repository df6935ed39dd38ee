package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of an Ethereum JSON-RPC client a transfer needs.
// *ethclient.Client satisfies it.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ Client = (*ethclient.Client)(nil)

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return client, nil
}

// TransferParams describes a native-token transfer.
type TransferParams struct {
	To     string // 0x-prefixed recipient
	Amount string // decimal ether
	Data   string // optional 0x-prefixed call data

	// Zero values are filled from the node.
	GasLimit uint64
	GasPrice *big.Int
}

// TransferResult describes a sent transaction.
type TransferResult struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	Nonce    uint64 `json:"nonce"`
	Value    string `json:"value"` // wei
	GasLimit uint64 `json:"gas_limit"`
	GasPrice string `json:"gas_price"` // wei
	ChainID  uint64 `json:"chain_id"`
}

// ParsePrivateKey parses a 0x-prefixed 32-byte hex private key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if !strings.HasPrefix(hexKey, "0x") || len(hexKey) != 66 {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(hexKey[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// AddressFromPrivateKey derives the address from a private key
func AddressFromPrivateKey(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// transfer is a validated TransferParams.
type transfer struct {
	to    common.Address
	value *big.Int
	data  []byte
}

func (p TransferParams) validate() (*transfer, error) {
	if !common.IsHexAddress(p.To) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, p.To)
	}

	var data []byte
	if p.Data != "" {
		d, err := hexutil.Decode(p.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHexData, err)
		}
		data = d
	}

	value, err := ParseEther(p.Amount)
	if err != nil {
		return nil, err
	}

	return &transfer{to: common.HexToAddress(p.To), value: value, data: data}, nil
}

// Transfer signs and sends one transfer from key. The nonce, gas price and
// gas limit come from the node unless set in params.
func Transfer(ctx context.Context, client Client, key *ecdsa.PrivateKey, params TransferParams) (*TransferResult, error) {
	t, err := params.validate()
	if err != nil {
		return nil, err
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

	return send(ctx, client, key, chainID, nonce, t, params)
}

func send(
	ctx context.Context,
	client Client,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	nonce uint64,
	t *transfer,
	params TransferParams,
) (*TransferResult, error) {
	from := AddressFromPrivateKey(key)

	gasPrice := params.GasPrice
	if gasPrice == nil {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: gas price: %v", ErrTransferFailed, err)
		}
	}

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		var err error
		gasLimit, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &t.to,
			GasPrice: gasPrice,
			Value:    t.value,
			Data:     t.data,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: estimate gas: %v", ErrTransferFailed, err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &t.to,
		Value:    t.value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     t.data,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrTransferFailed, err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	return &TransferResult{
		Hash:     signedTx.Hash().Hex(),
		From:     from.Hex(),
		To:       t.to.Hex(),
		Nonce:    nonce,
		Value:    t.value.String(),
		GasLimit: gasLimit,
		GasPrice: gasPrice.String(),
		ChainID:  chainID.Uint64(),
	}, nil
}

// CheckChainID fails unless the client serves the expected chain.
func CheckChainID(ctx context.Context, client Client, expected uint64) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if !chainID.IsUint64() || chainID.Uint64() != expected {
		return fmt.Errorf("%w: expected %d, got %s", ErrChainMismatch, expected, chainID)
	}
	return nil
}
