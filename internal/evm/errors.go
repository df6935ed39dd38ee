// Package evm sends native-token transfers with optional call data on EVM
// chains and encodes contract call data from an ABI.
package evm

import "errors"

var (
	ErrInvalidAddress    = errors.New("invalid recipient address")
	ErrInvalidHexData    = errors.New("hex data must be a valid 0x-prefixed string")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidABI        = errors.New("invalid abi")
	ErrMethodNotFound    = errors.New("method not found in abi")
	ErrParamCount        = errors.New("wrong number of parameters")
	ErrUnsupportedType   = errors.New("unsupported parameter type")
	ErrInvalidParam      = errors.New("invalid parameter value")
	ErrChainMismatch     = errors.New("rpc endpoint serves a different chain")
	ErrTransferFailed    = errors.New("transfer failed")
)
