package wallet

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/klingon-exchange/utxoforge/internal/chain"
)

// Test mnemonic (DO NOT USE FOR REAL FUNDS)
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// BIP84 and BIP86 reference vectors for testMnemonic at .../0/0.
const (
	bip84Address = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	bip84PubKey  = "0330d54fd0dd420a6e5f8d3624f5f3482cae350f79d5f0753bf5beef9c2d91af3c"
	bip84WIF     = "KyZpNDKnfs94vbrwhJneDi77V6jF64PWPF8x5cdJb8ifgg2DUc9d"

	bip86Address     = "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr"
	bip86InternalKey = "cc8a4bc64d897bddc5fbc2f670f7a8ba0b386779106cf1223c6fc5d7cd6fc115"
	bip86OutputKey   = "a60869f0dbcf1dc659c9cecbaf8050135ea9e8cdc487053f1dc6880949dc684c"
)

func newTestDeriver() *Deriver {
	return NewDeriver(chain.DefaultRegistry())
}

// toWIF encodes a private key as a compressed WIF for the network.
func toWIF(t *testing.T, privKey *btcec.PrivateKey, params *chain.Params) string {
	t.Helper()
	wif, err := btcutil.NewWIF(privKey, params.ChainConfig(), true)
	if err != nil {
		t.Fatalf("NewWIF() error = %v", err)
	}
	return wif.String()
}

func TestIsMnemonic(t *testing.T) {
	tests := []struct {
		secret string
		want   bool
	}{
		{testMnemonic, true},
		{"  " + strings.ReplaceAll(testMnemonic, " ", "\n\t") + "  ", true},
		{"one two three four five six seven eight nine ten eleven", false},
		{bip84WIF, false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsMnemonic(tc.secret); got != tc.want {
			t.Errorf("IsMnemonic(%q) = %v, want %v", tc.secret, got, tc.want)
		}
	}
}

func TestDeriveAccountSegwitVector(t *testing.T) {
	d := newTestDeriver()

	acct, err := d.DeriveAccount(testMnemonic, chain.Mainnet, AddressSegwitV0)
	if err != nil {
		t.Fatalf("DeriveAccount() error = %v", err)
	}

	if acct.Address != bip84Address {
		t.Errorf("Address = %s, want %s", acct.Address, bip84Address)
	}
	if got := hex.EncodeToString(acct.Keys.PublicKey); got != bip84PubKey {
		t.Errorf("PublicKey = %s, want %s", got, bip84PubKey)
	}
	if acct.Keys.XOnlyPubKey != nil {
		t.Error("SegWit v0 accounts should not carry an x-only key")
	}
	if acct.DerivationPath != "m/84'/0'/0'/0/0" {
		t.Errorf("DerivationPath = %s", acct.DerivationPath)
	}

	params, _ := chain.DefaultRegistry().Get(chain.Mainnet)
	if wif := toWIF(t, acct.Keys.PrivateKey, params); wif != bip84WIF {
		t.Errorf("WIF = %s, want %s", wif, bip84WIF)
	}
}

func TestDeriveAccountTaprootVector(t *testing.T) {
	d := newTestDeriver()

	acct, err := d.DeriveAccount(testMnemonic, chain.Mainnet, AddressTaprootKeyPath)
	if err != nil {
		t.Fatalf("DeriveAccount() error = %v", err)
	}

	if acct.Address != bip86Address {
		t.Errorf("Address = %s, want %s", acct.Address, bip86Address)
	}
	if got := hex.EncodeToString(acct.Keys.XOnlyPubKey); got != bip86InternalKey {
		t.Errorf("XOnlyPubKey = %s, want %s", got, bip86InternalKey)
	}
	if len(acct.Keys.PublicKey) != 33 {
		t.Errorf("len(PublicKey) = %d, want 33", len(acct.Keys.PublicKey))
	}
	if acct.DerivationPath != "m/86'/0'/0'/0/0" {
		t.Errorf("DerivationPath = %s", acct.DerivationPath)
	}

	params, _ := chain.DefaultRegistry().Get(chain.Mainnet)
	script, err := OwnedScript(acct.Keys, AddressTaprootKeyPath, params)
	if err != nil {
		t.Fatalf("OwnedScript() error = %v", err)
	}
	if got := hex.EncodeToString(script); got != "5120"+bip86OutputKey {
		t.Errorf("script = %s, want 5120%s", got, bip86OutputKey)
	}
}

func TestDeriveAccountTestnetKeepsCoinTypeZero(t *testing.T) {
	d := newTestDeriver()
	registry := chain.DefaultRegistry()
	mainParams, _ := registry.Get(chain.Mainnet)

	for _, net := range []chain.NetworkID{chain.Testnet, chain.Testnet4, chain.Signet} {
		acct, err := d.DeriveAccount(testMnemonic, net, AddressSegwitV0)
		if err != nil {
			t.Fatalf("DeriveAccount(%s) error = %v", net, err)
		}
		if !strings.HasPrefix(acct.Address, "tb1q") {
			t.Errorf("%s address = %s, want tb1q prefix", net, acct.Address)
		}

		// Same key as mainnet, only the encoding differs.
		params, _ := registry.Get(net)
		got, _ := OwnedScript(acct.Keys, AddressSegwitV0, params)
		want, _ := AddressToScript(bip84Address, mainParams)
		if hex.EncodeToString(got) != hex.EncodeToString(want) {
			t.Errorf("%s script = %x, want %x", net, got, want)
		}
	}
}

func TestDeriveAccountFractalUsesMainnetEncoding(t *testing.T) {
	d := newTestDeriver()

	acct, err := d.DeriveAccount(testMnemonic, chain.FractalTestnet, AddressTaprootKeyPath)
	if err != nil {
		t.Fatalf("DeriveAccount() error = %v", err)
	}
	if acct.Address != bip86Address {
		t.Errorf("Address = %s, want %s", acct.Address, bip86Address)
	}
}

func TestDeriveAccountDeterministic(t *testing.T) {
	d := newTestDeriver()

	for _, addrType := range []AddressType{AddressTaprootKeyPath, AddressSegwitV0} {
		a, err := d.DeriveAccount(testMnemonic, chain.Testnet, addrType)
		if err != nil {
			t.Fatalf("DeriveAccount() error = %v", err)
		}
		b, err := d.DeriveAccount(testMnemonic, chain.Testnet, addrType)
		if err != nil {
			t.Fatalf("DeriveAccount() error = %v", err)
		}
		if a.Address != b.Address {
			t.Errorf("%s: addresses differ: %s vs %s", addrType, a.Address, b.Address)
		}
		if hex.EncodeToString(a.Keys.PublicKey) != hex.EncodeToString(b.Keys.PublicKey) {
			t.Errorf("%s: public keys differ", addrType)
		}
	}
}

func TestDeriveAccountFromWIF(t *testing.T) {
	d := newTestDeriver()

	acct, err := d.DeriveAccount(bip84WIF, chain.Mainnet, AddressSegwitV0)
	if err != nil {
		t.Fatalf("DeriveAccount(WIF) error = %v", err)
	}
	if acct.Address != bip84Address {
		t.Errorf("Address = %s, want %s", acct.Address, bip84Address)
	}
	if acct.DerivationPath != "" {
		t.Errorf("DerivationPath = %q, want empty for WIF", acct.DerivationPath)
	}

	// Same key as a Taproot account yields a different address.
	tr, err := d.DeriveAccount(bip84WIF, chain.Mainnet, AddressTaprootKeyPath)
	if err != nil {
		t.Fatalf("DeriveAccount(WIF, p2tr) error = %v", err)
	}
	if !strings.HasPrefix(tr.Address, "bc1p") {
		t.Errorf("Taproot address = %s, want bc1p prefix", tr.Address)
	}
}

func TestDeriveAccountWIFNetworkMismatch(t *testing.T) {
	d := newTestDeriver()

	_, err := d.DeriveAccount(bip84WIF, chain.Testnet, AddressSegwitV0)
	if !errors.Is(err, ErrNetworkMismatch) {
		t.Fatalf("error = %v, want ErrNetworkMismatch", err)
	}

	var mismatch *NetworkMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error should be *NetworkMismatchError, got %T", err)
	}
	if mismatch.Expected != 0xef || mismatch.Actual != 0x80 {
		t.Errorf("mismatch = expected 0x%02x actual 0x%02x", mismatch.Expected, mismatch.Actual)
	}
}

func TestDeriveAccountTestnetWIFRoundTrip(t *testing.T) {
	d := newTestDeriver()
	params, _ := chain.DefaultRegistry().Get(chain.Signet)

	fromMnemonic, err := d.DeriveAccount(testMnemonic, chain.Signet, AddressTaprootKeyPath)
	if err != nil {
		t.Fatalf("DeriveAccount() error = %v", err)
	}
	wif := toWIF(t, fromMnemonic.Keys.PrivateKey, params)

	fromWIF, err := d.DeriveAccount(wif, chain.Signet, AddressTaprootKeyPath)
	if err != nil {
		t.Fatalf("DeriveAccount(WIF) error = %v", err)
	}
	if fromWIF.Address != fromMnemonic.Address {
		t.Errorf("WIF address %s != mnemonic address %s", fromWIF.Address, fromMnemonic.Address)
	}

	// A testnet WIF is rejected on mainnet.
	if _, err := d.DeriveAccount(wif, chain.Mainnet, AddressTaprootKeyPath); !errors.Is(err, ErrNetworkMismatch) {
		t.Errorf("mainnet error = %v, want ErrNetworkMismatch", err)
	}
}

func TestDeriveAccountErrors(t *testing.T) {
	d := newTestDeriver()

	tests := []struct {
		name     string
		secret   string
		network  chain.NetworkID
		addrType AddressType
		wantErr  error
	}{
		{
			name:     "bad checksum mnemonic",
			secret:   strings.Repeat("abandon ", 12),
			network:  chain.Mainnet,
			addrType: AddressSegwitV0,
			wantErr:  ErrInvalidMnemonic,
		},
		{
			name:     "unknown words",
			secret:   "foo bar baz qux quux corge grault garply waldo fred plugh xyzzy",
			network:  chain.Mainnet,
			addrType: AddressTaprootKeyPath,
			wantErr:  ErrInvalidMnemonic,
		},
		{
			name:     "garbage wif",
			secret:   "not-a-key",
			network:  chain.Mainnet,
			addrType: AddressSegwitV0,
			wantErr:  ErrInvalidWIF,
		},
		{
			name:     "p2pkh address is not a wif",
			secret:   "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH",
			network:  chain.Mainnet,
			addrType: AddressSegwitV0,
			wantErr:  ErrInvalidWIF,
		},
		{
			name:     "testnet p2pkh address is not a wif",
			secret:   "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn",
			network:  chain.Testnet,
			addrType: AddressTaprootKeyPath,
			wantErr:  ErrInvalidWIF,
		},
		{
			name:     "unknown network",
			secret:   testMnemonic,
			network:  "regtest",
			addrType: AddressSegwitV0,
			wantErr:  chain.ErrUnknownNetwork,
		},
		{
			name:     "unknown address type",
			secret:   testMnemonic,
			network:  chain.Mainnet,
			addrType: AddressType(9),
			wantErr:  ErrUnknownAddrType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.DeriveAccount(tc.secret, tc.network, tc.addrType)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseAddressType(t *testing.T) {
	tests := []struct {
		in      string
		want    AddressType
		wantErr bool
	}{
		{"p2tr", AddressTaprootKeyPath, false},
		{"Taproot", AddressTaprootKeyPath, false},
		{"p2wpkh", AddressSegwitV0, false},
		{"segwit", AddressSegwitV0, false},
		{"p2pkh", 0, true},
	}

	for _, tc := range tests {
		got, err := ParseAddressType(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseAddressType(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAddressType(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	var at AddressType
	if err := at.UnmarshalText([]byte("p2wpkh")); err != nil || at != AddressSegwitV0 {
		t.Errorf("UnmarshalText(p2wpkh) = %v, %v", at, err)
	}
	if _, err := AddressType(0).MarshalText(); err == nil {
		t.Error("MarshalText should reject the zero value")
	}
}

func TestDecodeAddress(t *testing.T) {
	registry := chain.DefaultRegistry()
	mainnet, _ := registry.Get(chain.Mainnet)
	testnet, _ := registry.Get(chain.Testnet)

	if !ValidateAddress(bip84Address, mainnet) {
		t.Error("mainnet address should validate on mainnet")
	}
	if ValidateAddress(bip84Address, testnet) {
		t.Error("mainnet address should not validate on testnet")
	}
	if ValidateAddress("bc1qinvalid", mainnet) {
		t.Error("malformed address should not validate")
	}
	if _, err := AddressToScript("garbage", mainnet); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("AddressToScript(garbage) error = %v, want ErrInvalidAddress", err)
	}
}

func TestDetectAddressType(t *testing.T) {
	mainnet, _ := chain.DefaultRegistry().Get(chain.Mainnet)

	trScript, _ := AddressToScript(bip86Address, mainnet)
	if at, ok := DetectAddressType(trScript); !ok || at != AddressTaprootKeyPath {
		t.Errorf("DetectAddressType(p2tr) = %v, %v", at, ok)
	}

	wpkhScript, _ := AddressToScript(bip84Address, mainnet)
	if at, ok := DetectAddressType(wpkhScript); !ok || at != AddressSegwitV0 {
		t.Errorf("DetectAddressType(p2wpkh) = %v, %v", at, ok)
	}

	if _, ok := DetectAddressType([]byte{txscript.OP_RETURN}); ok {
		t.Error("OP_RETURN should not be a supported address type")
	}
}

func TestScriptMatches(t *testing.T) {
	d := newTestDeriver()
	mainnet, _ := chain.DefaultRegistry().Get(chain.Mainnet)

	acct, err := d.DeriveAccount(testMnemonic, chain.Mainnet, AddressTaprootKeyPath)
	if err != nil {
		t.Fatalf("DeriveAccount() error = %v", err)
	}

	trScript, _ := AddressToScript(bip86Address, mainnet)
	if !ScriptMatches(trScript, acct.Keys, AddressTaprootKeyPath, mainnet) {
		t.Error("owned Taproot script should match")
	}

	wpkhScript, _ := AddressToScript(bip84Address, mainnet)
	if ScriptMatches(wpkhScript, acct.Keys, AddressTaprootKeyPath, mainnet) {
		t.Error("foreign script should not match")
	}
}

func TestKeyMaterialStringHidesPrivateKey(t *testing.T) {
	d := newTestDeriver()
	acct, _ := d.DeriveAccount(testMnemonic, chain.Mainnet, AddressSegwitV0)

	s := acct.Keys.String()
	priv := hex.EncodeToString(acct.Keys.PrivateKey.Serialize())
	if strings.Contains(s, priv) {
		t.Error("String() leaked the private key")
	}
	if !strings.Contains(s, bip84PubKey) {
		t.Errorf("String() = %s, want public key", s)
	}
}
