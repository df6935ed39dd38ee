package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "utxoforge-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	store := newTestStorage(t)

	if filepath.Base(store.Path()) != DBFileName {
		t.Errorf("Path() = %s, want %s", store.Path(), DBFileName)
	}
	if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	for _, table := range []string{"broadcasts", "evm_transfers"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not found: %v", table, err)
		}
	}
}

func TestNewReopensExistingDatabase(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "utxoforge-storage-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordBroadcast(&Broadcast{Network: "signet", Kind: "merge", TxID: "aa", Status: BroadcastStatusSent}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	list, err := store.ListBroadcasts(BroadcastFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("got %d broadcasts after reopen, want 1", len(list))
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.utxoforge")
	expected := filepath.Join(home, ".utxoforge")

	if expanded != expected {
		t.Errorf("expandPath(~/.utxoforge) = %s, want %s", expanded, expected)
	}
	if got := expandPath("/var/lib/utxoforge"); got != "/var/lib/utxoforge" {
		t.Errorf("absolute path changed: %s", got)
	}
}

func TestBroadcastCRUD(t *testing.T) {
	store := newTestStorage(t)

	created := time.Unix(1_700_000_000, 0)
	b := &Broadcast{
		Network:     "testnet4",
		Kind:        "split",
		AddressType: "p2tr",
		Address:     "tb1pexample",
		TxID:        "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
		RawHex:      "02000000000101",
		Fee:         1690,
		VirtualSize: 169,
		FeeRate:     10,
		InputCount:  2,
		OutputCount: 3,
		TotalInput:  30000,
		TotalOutput: 28310,
		Change:      8310,
		Endpoint:    "https://mempool.space/testnet4/api",
		Status:      BroadcastStatusSent,
		CreatedAt:   created,
	}

	if err := store.RecordBroadcast(b); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}
	if b.ID == "" {
		t.Fatal("ID should be assigned")
	}

	got, err := store.GetBroadcast(b.ID)
	if err != nil {
		t.Fatalf("GetBroadcast: %v", err)
	}

	if got.TxID != b.TxID || got.Fee != b.Fee || got.VirtualSize != b.VirtualSize {
		t.Errorf("got %+v", got)
	}
	if got.Change != 8310 || got.OutputCount != 3 || got.FeeRate != 10 {
		t.Errorf("value fields = %+v", got)
	}
	if got.Endpoint != b.Endpoint || got.Error != "" {
		t.Errorf("endpoint/error = %q/%q", got.Endpoint, got.Error)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	if _, err := store.GetBroadcast("missing"); err != ErrBroadcastNotFound {
		t.Errorf("err = %v, want ErrBroadcastNotFound", err)
	}
}

func TestListBroadcastsFilter(t *testing.T) {
	store := newTestStorage(t)

	base := time.Unix(1_700_000_000, 0)
	records := []*Broadcast{
		{Network: "mainnet", Kind: "merge", TxID: "a1", Status: BroadcastStatusSent, CreatedAt: base},
		{Network: "mainnet", Kind: "split", TxID: "a2", Status: BroadcastStatusFailed, Error: "min relay fee not met", CreatedAt: base.Add(time.Minute)},
		{Network: "signet", Kind: "merge", TxID: "b1", Status: BroadcastStatusSent, CreatedAt: base.Add(2 * time.Minute)},
		{Network: "mainnet", Kind: "merge", TxID: "a3", Status: BroadcastStatusSent, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		if err := store.RecordBroadcast(r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListBroadcasts(BroadcastFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].TxID != "a3" || all[3].TxID != "a1" {
		t.Errorf("list should be newest first, got %d entries starting %s", len(all), all[0].TxID)
	}

	mainnet, _ := store.ListBroadcasts(BroadcastFilter{Network: "mainnet"})
	if len(mainnet) != 3 {
		t.Errorf("mainnet entries = %d, want 3", len(mainnet))
	}

	failed, _ := store.ListBroadcasts(BroadcastFilter{Status: BroadcastStatusFailed})
	if len(failed) != 1 || failed[0].Error != "min relay fee not met" {
		t.Errorf("failed entries = %+v", failed)
	}

	byTx, _ := store.ListBroadcasts(BroadcastFilter{TxID: "b1"})
	if len(byTx) != 1 || byTx[0].Network != "signet" {
		t.Errorf("txid filter = %+v", byTx)
	}

	page, _ := store.ListBroadcasts(BroadcastFilter{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].TxID != "b1" {
		t.Errorf("page = %d entries", len(page))
	}
}

func TestEVMTransfers(t *testing.T) {
	store := newTestStorage(t)

	nonce := uint64(4)
	sent := &EVMTransfer{
		Network: "BSC",
		ChainID: 56,
		From:    "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		To:      "0x000000000000000000000000000000000000dEaD",
		Value:   "1000000000000000",
		Data:    "0xdeadbeef",
		TxHash:  "0xabc",
		Nonce:   &nonce,
		Status:  "sent",
	}
	failed := &EVMTransfer{
		Network: "ETH",
		ChainID: 1,
		From:    sent.From,
		To:      sent.To,
		Value:   "1",
		Status:  "failed",
		Error:   "insufficient funds",
	}

	for _, tr := range []*EVMTransfer{sent, failed} {
		if err := store.RecordEVMTransfer(tr); err != nil {
			t.Fatalf("RecordEVMTransfer: %v", err)
		}
	}

	bsc, err := store.ListEVMTransfers("BSC", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(bsc) != 1 {
		t.Fatalf("BSC transfers = %d, want 1", len(bsc))
	}
	if bsc[0].Nonce == nil || *bsc[0].Nonce != 4 || bsc[0].Data != "0xdeadbeef" || bsc[0].ChainID != 56 {
		t.Errorf("transfer = %+v", bsc[0])
	}

	all, _ := store.ListEVMTransfers("", 10)
	if len(all) != 2 {
		t.Errorf("all transfers = %d, want 2", len(all))
	}
	for _, tr := range all {
		if tr.Network == "ETH" && (tr.Nonce != nil || tr.Error != "insufficient funds") {
			t.Errorf("failed transfer = %+v", tr)
		}
	}
}
