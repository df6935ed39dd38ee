package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/txbuilder"
)

func TestParseOutputs(t *testing.T) {
	got, err := parseOutputs([]string{"tb1qaddr:10000", "tb1qother:546"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []txbuilder.Output{
		{Address: "tb1qaddr", Value: 10000},
		{Address: "tb1qother", Value: 546},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseOutputs = %+v, want %+v", got, want)
	}

	for _, bad := range []string{"tb1qaddr", ":100", "tb1qaddr:0", "tb1qaddr:1.5", "tb1qaddr:-1"} {
		if _, err := parseOutputs([]string{bad}); err == nil {
			t.Errorf("parseOutputs(%q) should fail", bad)
		}
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{
		"address:0x000000000000000000000000000000000000dEaD",
		"uint256:1.5:Ether",
		"int256:-3",
		"string:a:b",
		"bool:true",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []evm.Param{
		{Type: "address", Value: "0x000000000000000000000000000000000000dEaD"},
		{Type: "uint256", Value: "1.5", Unit: evm.Ether},
		{Type: "int256", Value: "-3"},
		{Type: "string", Value: "a:b"},
		{Type: "bool", Value: "true"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseParams = %+v, want %+v", got, want)
	}

	if _, err := parseParams([]string{"uint256"}); err == nil {
		t.Error("param without value should fail")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" 0xa, ,0xb,")
	if !reflect.DeepEqual(got, []string{"0xa", "0xb"}) {
		t.Errorf("splitList = %v", got)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestReadKeysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	content := "# senders\n0x01\n\n  0x02  \n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	keys, err := readKeysFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"0x01", "0x02"}) {
		t.Errorf("keys = %v", keys)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("# nothing\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := readKeysFile(empty); err == nil {
		t.Error("empty keys file should fail")
	}
}
