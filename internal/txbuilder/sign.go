package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
)

const (
	txVersion = 2

	// RBFSequence signals opt-in replace-by-fee (BIP125) on every input.
	RBFSequence = wire.MaxTxInSequenceNum - 2
)

// signer assembles and signs transactions for one key and address type.
// The Taproot tweak is computed once and reused for every input of both
// build phases.
type signer struct {
	keys     *wallet.KeyMaterial
	addrType wallet.AddressType
	params   *chain.Params
	tweaked  *btcec.PrivateKey
}

func newSigner(keys *wallet.KeyMaterial, addrType wallet.AddressType, params *chain.Params) (*signer, error) {
	if keys == nil || keys.PrivateKey == nil {
		return nil, fmt.Errorf("%w: missing private key", ErrSigning)
	}

	if _, err := wallet.OwnedScript(keys, addrType, params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	s := &signer{
		keys:     keys,
		addrType: addrType,
		params:   params,
	}

	switch addrType {
	case wallet.AddressTaprootKeyPath:
		s.tweaked = txscript.TweakTaprootPrivKey(*keys.PrivateKey, nil)
	case wallet.AddressSegwitV0:
	default:
		return nil, fmt.Errorf("%w: unsupported address type %s", ErrSigning, addrType)
	}

	return s, nil
}

// foreignInput describes why an input script is not spendable by the signer.
func (s *signer) foreignInput(script []byte) string {
	if at, ok := wallet.DetectAddressType(script); ok && at != s.addrType {
		return fmt.Sprintf("is a %s output, signing as %s", at, s.addrType)
	}
	return fmt.Sprintf("is not a %s output of the signing key", s.addrType)
}

// build turns a plan into a fully signed, finalized transaction.
func (s *signer) build(plan Plan) (*wire.MsgTx, error) {
	if len(plan.Inputs) == 0 {
		return nil, ErrNoInputs
	}

	outpoints := make([]*wire.OutPoint, 0, len(plan.Inputs))
	sequences := make([]uint32, 0, len(plan.Inputs))
	prevOuts := make([]*wire.TxOut, 0, len(plan.Inputs))
	seen := make(map[wire.OutPoint]struct{}, len(plan.Inputs))

	for i, in := range plan.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d txid %q: %v", ErrInvalidInput, i, in.TxID, err)
		}
		op := wire.NewOutPoint(hash, in.Vout)
		if _, dup := seen[*op]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInput, op)
		}
		seen[*op] = struct{}{}

		pkScript, err := hex.DecodeString(in.ScriptPubKey)
		if err != nil || len(pkScript) == 0 {
			return nil, fmt.Errorf("%w: input %d (%s) has no usable script", ErrSigning, i, op)
		}
		if !wallet.ScriptMatches(pkScript, s.keys, s.addrType, s.params) {
			return nil, fmt.Errorf("%w: input %d (%s) %s", ErrSigning, i, op, s.foreignInput(pkScript))
		}

		outpoints = append(outpoints, op)
		sequences = append(sequences, RBFSequence)
		prevOuts = append(prevOuts, wire.NewTxOut(int64(in.Amount), pkScript))
	}

	txOuts := make([]*wire.TxOut, 0, len(plan.Outputs))
	for i, o := range plan.Outputs {
		script, err := wallet.AddressToScript(o.Address, s.params)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		txOuts = append(txOuts, wire.NewTxOut(int64(o.Value), script))
	}

	packet, err := psbt.New(outpoints, txOuts, txVersion, 0, sequences)
	if err != nil {
		return nil, fmt.Errorf("%w: create psbt: %v", ErrSerialization, err)
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: psbt updater: %v", ErrSerialization, err)
	}
	for i, prevOut := range prevOuts {
		if err := updater.AddInWitnessUtxo(prevOut, i); err != nil {
			return nil, fmt.Errorf("%w: input %d witness utxo: %v", ErrSerialization, i, err)
		}
		if s.addrType == wallet.AddressTaprootKeyPath {
			packet.Inputs[i].TaprootInternalKey = s.keys.XOnlyPubKey
		}
	}

	if err := s.sign(packet); err != nil {
		return nil, err
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: finalize: %v", ErrSigning, err)
	}
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: extract: %v", ErrSerialization, err)
	}

	if err := verifyInputs(tx, prevOutFetcher(packet)); err != nil {
		return nil, err
	}

	return tx, nil
}

// sign attaches a signature to every input of the packet.
func (s *signer) sign(packet *psbt.Packet) error {
	tx := packet.UnsignedTx
	fetcher := prevOutFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i := range tx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		if utxo == nil {
			return fmt.Errorf("%w: input %d missing witness utxo", ErrSigning, i)
		}

		switch s.addrType {
		case wallet.AddressTaprootKeyPath:
			sigHash, err := txscript.CalcTaprootSignatureHash(
				sigHashes, txscript.SigHashDefault, tx, i, fetcher,
			)
			if err != nil {
				return fmt.Errorf("%w: input %d taproot sighash: %v", ErrSigning, i, err)
			}
			sig, err := schnorr.Sign(s.tweaked, sigHash)
			if err != nil {
				return fmt.Errorf("%w: input %d schnorr: %v", ErrSigning, i, err)
			}
			packet.Inputs[i].TaprootKeySpendSig = sig.Serialize()

		case wallet.AddressSegwitV0:
			sig, err := txscript.RawTxInWitnessSignature(
				tx, sigHashes, i, utxo.Value, utxo.PkScript,
				txscript.SigHashAll, s.keys.PrivateKey,
			)
			if err != nil {
				return fmt.Errorf("%w: input %d ecdsa: %v", ErrSigning, i, err)
			}
			packet.Inputs[i].PartialSigs = append(packet.Inputs[i].PartialSigs, &psbt.PartialSig{
				PubKey:    s.keys.PublicKey,
				Signature: sig,
			})

		default:
			return fmt.Errorf("%w: unsupported address type %s", ErrSigning, s.addrType)
		}
	}

	return nil
}

// prevOutFetcher builds a txscript.PrevOutputFetcher from the packet's
// witness UTXOs.
func prevOutFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range packet.UnsignedTx.TxIn {
		if utxo := packet.Inputs[i].WitnessUtxo; utxo != nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, utxo)
		}
	}
	return fetcher
}

// verifyInputs runs every finalized input through the script engine.
func verifyInputs(tx *wire.MsgTx, fetcher *txscript.MultiPrevOutFetcher) error {
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			return fmt.Errorf("%w: input %d engine: %v", ErrSigning, i, err)
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("%w: input %d does not validate: %v", ErrSigning, i, err)
		}
	}
	return nil
}

// virtualSize returns the BIP141 virtual size of a signed transaction.
func virtualSize(tx *wire.MsgTx) int64 {
	return mempool.GetTxVirtualSize(btcutil.NewTx(tx))
}

func serialize(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
