package evm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Param is one argument of a contract call, written as text.
type Param struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Unit  Unit   `json:"unit,omitempty"` // uint256 and int256 only
}

// EncodeCallData packs a call to method of the contract described by abiJSON
// and returns the 0x-prefixed input data. Supported argument types are
// uint256, int256, address, string and bool.
func EncodeCallData(abiJSON, method string, params []Param) (string, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidABI, err)
	}

	m, ok := parsed.Methods[method]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMethodNotFound, method)
	}
	if len(params) != len(m.Inputs) {
		return "", fmt.Errorf("%w: %s takes %d, got %d", ErrParamCount, m.Sig, len(m.Inputs), len(params))
	}

	args := make([]interface{}, len(params))
	for i, p := range params {
		arg, err := convertParam(m.Inputs[i].Type, p)
		if err != nil {
			return "", fmt.Errorf("param %d: %w", i, err)
		}
		args[i] = arg
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	return hexutil.Encode(data), nil
}

// convertParam turns a textual argument into the Go value abi.Pack expects for
// typ.
func convertParam(typ abi.Type, p Param) (interface{}, error) {
	declared := typ.String()
	if p.Type != "" && p.Type != declared {
		return nil, fmt.Errorf("%w: given %s, abi declares %s", ErrInvalidParam, p.Type, declared)
	}

	value := strings.TrimSpace(p.Value)

	switch declared {
	case "uint256", "int256":
		n, err := ParseUnit(value, p.Unit)
		if err != nil {
			return nil, err
		}
		if declared == "uint256" && n.Sign() < 0 {
			return nil, fmt.Errorf("%w: uint256 cannot be negative", ErrInvalidParam)
		}
		if n.BitLen() > 255 && (declared == "int256" || n.BitLen() > 256) {
			return nil, fmt.Errorf("%w: %s overflows %s", ErrInvalidParam, value, declared)
		}
		return new(big.Int).Set(n), nil

	case "address":
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("%w: %q is not an address", ErrInvalidParam, value)
		}
		return common.HexToAddress(value), nil

	case "string":
		return p.Value, nil

	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a bool", ErrInvalidParam, value)
		}
		return b, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, declared)
}
