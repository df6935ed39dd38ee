// Package wallet derives deterministic signing keys and addresses from a
// BIP39 mnemonic or a WIF private key.
package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/tyler-smith/go-bip39"
)

// MinMnemonicWords is the token count at which a secret is treated as a
// mnemonic rather than a WIF string.
const MinMnemonicWords = 12

// Derivation path constants. The coin type stays 0 on every network.
const (
	coinType     = 0
	account      = 0
	externalLeaf = 0
	addressIndex = 0
)

// Deriver turns a secret into an Account. It holds no mutable state.
type Deriver struct {
	registry *chain.Registry
}

// NewDeriver creates a deriver bound to a network registry.
func NewDeriver(registry *chain.Registry) *Deriver {
	return &Deriver{registry: registry}
}

// IsMnemonic reports whether a secret would be treated as a mnemonic.
func IsMnemonic(secret string) bool {
	return len(strings.Fields(secret)) >= MinMnemonicWords
}

// DeriveAccount derives the key material and address for a secret.
//
// Secrets with at least 12 whitespace-separated tokens are BIP39 mnemonics
// and are derived at m/86'/0'/0'/0/0 (Taproot) or m/84'/0'/0'/0/0 (SegWit v0).
// Anything else is decoded as a WIF private key, which must belong to the
// requested network.
func (d *Deriver) DeriveAccount(secret string, network chain.NetworkID, addrType AddressType) (*Account, error) {
	params, err := d.registry.Get(network)
	if err != nil {
		return nil, err
	}

	purpose, err := addrType.Purpose()
	if err != nil {
		return nil, err
	}

	var (
		privKey *btcec.PrivateKey
		path    string
	)
	if IsMnemonic(secret) {
		privKey, err = deriveFromMnemonic(secret, params, purpose)
		if err != nil {
			return nil, err
		}
		path = fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", purpose, coinType, account, externalLeaf, addressIndex)
	} else {
		privKey, err = decodeWIF(strings.TrimSpace(secret), params)
		if err != nil {
			return nil, err
		}
	}

	keys, err := newKeyMaterial(privKey, addrType)
	if err != nil {
		return nil, err
	}

	address, err := EncodeAddress(keys, addrType, params)
	if err != nil {
		return nil, err
	}

	return &Account{
		Address:        address,
		AddressType:    addrType,
		Network:        params.ID,
		DerivationPath: path,
		Keys:           keys,
	}, nil
}

func deriveFromMnemonic(secret string, params *chain.Params, purpose uint32) (*btcec.PrivateKey, error) {
	mnemonic := strings.Join(strings.Fields(secret), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, params.ChainConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %v", ErrKeyDerivation, err)
	}

	key, err := deriveKey(master, purpose, coinType, account, externalLeaf, addressIndex)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return privKey, nil
}

// deriveKey walks m/purpose'/coin'/account'/change/index.
func deriveKey(master *hdkeychain.ExtendedKey, purpose, coin, acct, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	// m/purpose' (hardened)
	purposeKey, err := master.Derive(hdkeychain.HardenedKeyStart + purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: purpose: %v", ErrKeyDerivation, err)
	}

	// m/purpose'/coin' (hardened)
	coinKey, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + coin)
	if err != nil {
		return nil, fmt.Errorf("%w: coin: %v", ErrKeyDerivation, err)
	}

	// m/purpose'/coin'/account' (hardened)
	accountKey, err := coinKey.Derive(hdkeychain.HardenedKeyStart + acct)
	if err != nil {
		return nil, fmt.Errorf("%w: account: %v", ErrKeyDerivation, err)
	}

	changeKey, err := accountKey.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("%w: change: %v", ErrKeyDerivation, err)
	}

	addressKey, err := changeKey.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrKeyDerivation, err)
	}

	return addressKey, nil
}

// decodeWIF decodes a WIF private key, then checks its version byte against
// the network.
func decodeWIF(wif string, params *chain.Params) (*btcec.PrivateKey, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWIF, err)
	}

	if version := base58.Decode(wif)[0]; version != params.WIF {
		return nil, &NetworkMismatchError{Expected: params.WIF, Actual: version}
	}
	return decoded.PrivKey, nil
}

func newKeyMaterial(privKey *btcec.PrivateKey, addrType AddressType) (*KeyMaterial, error) {
	pub := privKey.PubKey().SerializeCompressed()
	if len(pub) < 33 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(pub))
	}

	keys := &KeyMaterial{
		PrivateKey: privKey,
		PublicKey:  pub,
	}

	if addrType == AddressTaprootKeyPath {
		xOnly := pub[1:33]
		if len(xOnly) != 32 {
			return nil, fmt.Errorf("%w: length %d", ErrInvalidXOnlyKey, len(xOnly))
		}
		keys.XOnlyPubKey = append([]byte(nil), xOnly...)
	}

	return keys, nil
}
