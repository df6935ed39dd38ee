package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/sync/errgroup"
)

// unisatPageSize is the number of outputs requested per listing.
const unisatPageSize = 500

// UnisatBackend lists UTXOs through the unisat open-api indexer. The indexer
// splits an address's outputs into plain and inscription-bearing listings;
// both are fetched and merged. Broadcasting and fee estimation go to a
// mempool-compatible API.
type UnisatBackend struct {
	baseURL     string
	apiKey      string
	net         *chaincfg.Params
	httpClient  *http.Client
	broadcaster *MempoolBackend
}

// NewUnisatBackend creates a unisat backend. broadcastURL is the
// mempool-compatible API base used for broadcast and fee estimates.
func NewUnisatBackend(baseURL, apiKey, broadcastURL string, net *chaincfg.Params) *UnisatBackend {
	return &UnisatBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		net:     net,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		broadcaster: NewMempoolBackend(broadcastURL, net),
	}
}

// Type returns TypeUnisat.
func (u *UnisatBackend) Type() Type {
	return TypeUnisat
}

// Endpoint returns the indexer base URL.
func (u *UnisatBackend) Endpoint() string {
	return u.baseURL
}

// Connect checks the broadcast endpoint. The indexer has no unauthenticated
// health route.
func (u *UnisatBackend) Connect(ctx context.Context) error {
	return u.broadcaster.Connect(ctx)
}

// Close closes the connection.
func (u *UnisatBackend) Close() error {
	return u.broadcaster.Close()
}

// IsConnected returns true if connected.
func (u *UnisatBackend) IsConnected() bool {
	return u.broadcaster.IsConnected()
}

type unisatUTXO struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Satoshi  uint64 `json:"satoshi"`
	ScriptPk string `json:"scriptPk"`
	Height   int64  `json:"height"`
}

type unisatResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Cursor int          `json:"cursor"`
		Total  int          `json:"total"`
		UTXO   []unisatUTXO `json:"utxo"`
	} `json:"data"`
}

// GetAddressUTXOs returns the union of the plain and inscription listings,
// deduplicated by outpoint.
func (u *UnisatBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var normal, inscription []unisatUTXO

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		normal, err = u.list(gctx, address, "utxo-data")
		return err
	})
	g.Go(func() error {
		var err error
		inscription, err = u.list(gctx, address, "inscription-utxo-data")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	utxos := mergeUTXOs(
		convertUnisatUTXOs(normal),
		convertUnisatUTXOs(inscription),
	)
	if err := fillScripts(utxos, address, u.net); err != nil {
		return nil, err
	}
	return utxos, nil
}

func (u *UnisatBackend) list(ctx context.Context, address, listing string) ([]unisatUTXO, error) {
	endpoint := fmt.Sprintf("%s/v1/indexer/address/%s/%s?cursor=0&size=%d",
		u.baseURL, url.PathEscape(address), listing, unisatPageSize)

	var header http.Header
	if u.apiKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + u.apiKey}}
	}

	var resp unisatResponse
	if err := getJSON(ctx, u.httpClient, endpoint, header, &resp); err != nil {
		return nil, fmt.Errorf("unisat %s: %w", listing, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: unisat %s: code %d: %s", ErrUnexpectedResponse, listing, resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return nil, nil
	}
	return resp.Data.UTXO, nil
}

func convertUnisatUTXOs(in []unisatUTXO) []UTXO {
	out := make([]UTXO, len(in))
	for i, v := range in {
		out[i] = UTXO{
			TxID:         v.TxID,
			Vout:         v.Vout,
			Amount:       v.Satoshi,
			ScriptPubKey: v.ScriptPk,
			BlockHeight:  v.Height,
		}
	}
	return out
}

// mergeUTXOs concatenates listings keyed by outpoint. A repeated outpoint
// keeps its first position and takes the later listing's fields.
func mergeUTXOs(lists ...[]UTXO) []UTXO {
	index := make(map[string]int)
	var out []UTXO
	for _, list := range lists {
		for _, utxo := range list {
			key := utxo.Outpoint()
			if i, dup := index[key]; dup {
				out[i] = utxo
				continue
			}
			index[key] = len(out)
			out = append(out, utxo)
		}
	}
	return out
}

// BroadcastTransaction submits through the mempool-compatible endpoint.
func (u *UnisatBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	return u.broadcaster.BroadcastTransaction(ctx, rawTxHex)
}

// GetFeeEstimates reads fee estimates from the mempool-compatible endpoint.
func (u *UnisatBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	return u.broadcaster.GetFeeEstimates(ctx)
}

// Ensure UnisatBackend implements Backend
var _ Backend = (*UnisatBackend)(nil)
