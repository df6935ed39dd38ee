package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/klingon-exchange/utxoforge/internal/chain"
)

// EncodeAddress returns the address string controlled by keys.
func EncodeAddress(keys *KeyMaterial, addrType AddressType, params *chain.Params) (string, error) {
	addr, err := keyAddress(keys, addrType, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// OwnedScript returns the scriptPubKey that keys can spend under addrType.
func OwnedScript(keys *KeyMaterial, addrType AddressType, params *chain.Params) ([]byte, error) {
	addr, err := keyAddress(keys, addrType, params)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressGeneration, err)
	}
	return script, nil
}

func keyAddress(keys *KeyMaterial, addrType AddressType, params *chain.Params) (btcutil.Address, error) {
	switch addrType {
	case AddressTaprootKeyPath:
		return taprootAddress(keys.XOnlyPubKey, params)
	case AddressSegwitV0:
		return p2wpkhAddress(keys.PublicKey, params)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAddrType, uint8(addrType))
	}
}

// p2wpkhAddress derives a native SegWit address (bc1q... / tb1q...).
func p2wpkhAddress(pubKey []byte, params *chain.Params) (btcutil.Address, error) {
	if len(pubKey) != 33 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(pubKey))
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), params.ChainConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: P2WPKH: %v", ErrAddressGeneration, err)
	}
	return addr, nil
}

// taprootAddress derives a BIP86 key-path Taproot address (bc1p... / tb1p...)
// from the x-only internal key.
func taprootAddress(xOnly []byte, params *chain.Params) (btcutil.Address, error) {
	if len(xOnly) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidXOnlyKey, len(xOnly))
	}
	internalKey, err := schnorr.ParsePubKey(xOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXOnlyKey, err)
	}

	outputKey := txscript.ComputeTaprootKeyNoScript(internalKey)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params.ChainConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: P2TR: %v", ErrAddressGeneration, err)
	}
	return addr, nil
}

// DecodeAddress parses an address and checks it belongs to the network.
func DecodeAddress(address string, params *chain.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, params.ChainConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if !addr.IsForNet(params.ChainConfig()) {
		return nil, fmt.Errorf("%w: %q is not a %s address", ErrInvalidAddress, address, params.ID)
	}
	return addr, nil
}

// AddressToScript converts an address string to its output script.
func AddressToScript(address string, params *chain.Params) ([]byte, error) {
	addr, err := DecodeAddress(address, params)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	return script, nil
}

// ValidateAddress checks if an address is valid for the given network.
func ValidateAddress(address string, params *chain.Params) bool {
	_, err := DecodeAddress(address, params)
	return err == nil
}

// DetectAddressType classifies an output script as one of the supported
// single-key address types.
func DetectAddressType(script []byte) (AddressType, bool) {
	switch txscript.GetScriptClass(script) {
	case txscript.WitnessV1TaprootTy:
		return AddressTaprootKeyPath, true
	case txscript.WitnessV0PubKeyHashTy:
		return AddressSegwitV0, true
	default:
		return 0, false
	}
}

// ScriptMatches reports whether script equals the one keys own under addrType.
func ScriptMatches(script []byte, keys *KeyMaterial, addrType AddressType, params *chain.Params) bool {
	owned, err := OwnedScript(keys, addrType, params)
	if err != nil {
		return false
	}
	return bytes.Equal(script, owned)
}
