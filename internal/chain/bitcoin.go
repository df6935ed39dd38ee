package chain

import "github.com/btcsuite/btcd/chaincfg"

var (
	mainnetHDPrivate = [4]byte{0x04, 0x88, 0xad, 0xe4} // xprv
	mainnetHDPublic  = [4]byte{0x04, 0x88, 0xb2, 0x1e} // xpub
	testnetHDPrivate = [4]byte{0x04, 0x35, 0x83, 0x94} // tprv
	testnetHDPublic  = [4]byte{0x04, 0x35, 0x87, 0xcf} // tpub
)

func bitcoinNetworks() []*Params {
	return []*Params{
		// Bitcoin Mainnet
		{
			ID:   Mainnet,
			Name: "Bitcoin",

			PubKeyHashAddrID: 0x00, // 1...
			ScriptHashAddrID: 0x05, // 3...
			Bech32HRP:        "bc",
			WIF:              0x80,

			HDPrivateKeyID: mainnetHDPrivate,
			HDPublicKeyID:  mainnetHDPublic,

			MempoolURL: "https://mempool.space",
			UnisatURL:  "https://open-api.unisat.io",

			net: &chaincfg.MainNetParams,
		},

		// Bitcoin Testnet (testnet3)
		{
			ID:   Testnet,
			Name: "Bitcoin Testnet",

			PubKeyHashAddrID: 0x6f, // m or n
			ScriptHashAddrID: 0xc4, // 2...
			Bech32HRP:        "tb",
			WIF:              0xef,

			HDPrivateKeyID: testnetHDPrivate,
			HDPublicKeyID:  testnetHDPublic,

			MempoolURL: "https://mempool.space/testnet",
			UnisatURL:  "https://open-api-testnet.unisat.io",

			net: &chaincfg.TestNet3Params,
		},

		// Bitcoin Testnet4 shares testnet3 encoding.
		{
			ID:   Testnet4,
			Name: "Bitcoin Testnet4",

			PubKeyHashAddrID: 0x6f,
			ScriptHashAddrID: 0xc4,
			Bech32HRP:        "tb",
			WIF:              0xef,

			HDPrivateKeyID: testnetHDPrivate,
			HDPublicKeyID:  testnetHDPublic,

			MempoolURL: "https://mempool.space/testnet4",
			UnisatURL:  "https://open-api-testnet4.unisat.io",

			net: &chaincfg.TestNet3Params,
		},

		// Bitcoin Signet
		{
			ID:   Signet,
			Name: "Bitcoin Signet",

			PubKeyHashAddrID: 0x6f,
			ScriptHashAddrID: 0xc4,
			Bech32HRP:        "tb",
			WIF:              0xef,

			HDPrivateKeyID: testnetHDPrivate,
			HDPublicKeyID:  testnetHDPublic,

			MempoolURL: "https://mempool.space/signet",
			UnisatURL:  "https://open-api-signet.unisat.io",

			net: &chaincfg.SigNetParams,
		},

		// Fractal Bitcoin uses mainnet encoding on both of its networks.
		{
			ID:   Fractal,
			Name: "Fractal Bitcoin",

			PubKeyHashAddrID: 0x00,
			ScriptHashAddrID: 0x05,
			Bech32HRP:        "bc",
			WIF:              0x80,

			HDPrivateKeyID: mainnetHDPrivate,
			HDPublicKeyID:  mainnetHDPublic,

			MempoolURL: "https://mempool.fractalbitcoin.io",
			UnisatURL:  "https://open-api-fractal.unisat.io",

			net: &chaincfg.MainNetParams,
		},
		{
			ID:   FractalTestnet,
			Name: "Fractal Bitcoin Testnet",

			PubKeyHashAddrID: 0x00,
			ScriptHashAddrID: 0x05,
			Bech32HRP:        "bc",
			WIF:              0x80,

			HDPrivateKeyID: mainnetHDPrivate,
			HDPublicKeyID:  mainnetHDPublic,

			MempoolURL: "https://mempool-testnet.fractalbitcoin.io",
			UnisatURL:  "https://open-api-fractal-testnet.unisat.io",

			net: &chaincfg.MainNetParams,
		},
	}
}
