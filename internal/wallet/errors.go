package wallet

import (
	"errors"
	"fmt"
)

// Key derivation errors.
var (
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrInvalidWIF        = errors.New("invalid WIF private key")
	ErrNetworkMismatch   = errors.New("network mismatch")
	ErrKeyDerivation     = errors.New("key derivation failed")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidXOnlyKey   = errors.New("invalid x-only public key")
	ErrAddressGeneration = errors.New("address generation failed")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrUnknownAddrType   = errors.New("unknown address type")
)

// NetworkMismatchError is returned when a WIF version byte does not belong to
// the requested network. It matches ErrNetworkMismatch with errors.Is.
type NetworkMismatchError struct {
	Expected byte
	Actual   byte
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("%s: WIF version 0x%02x, network expects 0x%02x",
		ErrNetworkMismatch, e.Actual, e.Expected)
}

func (e *NetworkMismatchError) Is(target error) bool {
	return target == ErrNetworkMismatch
}
