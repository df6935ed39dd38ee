package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/klingon-exchange/utxoforge/internal/chain"
)

// AddressType selects how keys are encoded and how inputs are signed.
// Exactly one address type governs every input of a transaction.
type AddressType uint8

const (
	// AddressTaprootKeyPath is a BIP86 single-key Taproot output (bc1p...).
	AddressTaprootKeyPath AddressType = iota + 1
	// AddressSegwitV0 is a native SegWit P2WPKH output (bc1q...).
	AddressSegwitV0
)

// ParseAddressType accepts the names used on the CLI and RPC surfaces.
func ParseAddressType(s string) (AddressType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p2tr", "taproot":
		return AddressTaprootKeyPath, nil
	case "p2wpkh", "segwit", "segwitv0":
		return AddressSegwitV0, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAddrType, s)
	}
}

func (t AddressType) String() string {
	switch t {
	case AddressTaprootKeyPath:
		return "p2tr"
	case AddressSegwitV0:
		return "p2wpkh"
	default:
		return fmt.Sprintf("AddressType(%d)", uint8(t))
	}
}

// Purpose returns the BIP43 purpose used for mnemonic derivation.
func (t AddressType) Purpose() (uint32, error) {
	switch t {
	case AddressTaprootKeyPath:
		return 86, nil
	case AddressSegwitV0:
		return 84, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownAddrType, uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t AddressType) MarshalText() ([]byte, error) {
	if t != AddressTaprootKeyPath && t != AddressSegwitV0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAddrType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AddressType) UnmarshalText(text []byte) error {
	parsed, err := ParseAddressType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// KeyMaterial is the signing key of one account.
type KeyMaterial struct {
	PrivateKey  *btcec.PrivateKey
	PublicKey   []byte // 33-byte compressed
	XOnlyPubKey []byte // 32 bytes, Taproot only
}

// String never prints the private key.
func (k *KeyMaterial) String() string {
	return fmt.Sprintf("KeyMaterial{pub=%x}", k.PublicKey)
}

// Zero clears the private scalar.
func (k *KeyMaterial) Zero() {
	if k.PrivateKey != nil {
		k.PrivateKey.Zero()
	}
}

// Account is a derived address and the keys that control it.
type Account struct {
	Address        string
	AddressType    AddressType
	Network        chain.NetworkID
	DerivationPath string // empty for WIF imports
	Keys           *KeyMaterial
}
