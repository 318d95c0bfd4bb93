package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/classgen/codegen"
	"github.com/chazu/classgen/verify"
)

func sample() *Bundle {
	units := []codegen.Unit{
		{Name: "demo.Hello", Bytes: []byte{0xCA, 0xFE, 0xBA, 0xBE, 1}},
		{Name: "demo.util.Helper", Bytes: []byte{0xCA, 0xFE, 0xBA, 0xBE, 2}},
	}
	problems := []verify.Problem{{Class: "demo/Hello", Method: "run()V", Offset: 3, Message: "stack underflow"}}
	return New(codegen.DefaultOptions(), units, problems)
}

func TestRoundTrip(t *testing.T) {
	b := sample()
	data, err := Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != b.RunID || !got.Created.Equal(b.Created) {
		t.Errorf("got = %s %v, want %s %v", got.RunID, got.Created, b.RunID, b.Created)
	}
	if len(got.Units) != 2 || !bytes.Equal(got.Units[1].Bytes, b.Units[1].Bytes) {
		t.Errorf("units = %v", got.Units)
	}
	if len(got.Problems) != 1 || got.Problems[0] != b.Problems[0] {
		t.Errorf("problems = %v, want %v", got.Problems, b.Problems)
	}
	if got.Options != b.Options {
		t.Errorf("options = %+v, want %+v", got.Options, b.Options)
	}
}

func TestCanonicalEncoding(t *testing.T) {
	b := sample()
	first, err := Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("encoding is not deterministic")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("expected an error for malformed CBOR")
	}
	data, err := Marshal(&Bundle{RunID: "not-a-uuid"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected an error for a bad run id")
	}
}

func TestExtract(t *testing.T) {
	b := sample()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.cbor")
	if err := b.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	read, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "classes")
	paths, err := read.Extract(out)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(out, "demo", "util", "Helper.class")
	if len(paths) != 2 || paths[1] != want {
		t.Fatalf("paths = %v, want second %s", paths, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, b.Units[1].Bytes) {
		t.Errorf("got = %x, want %x", data, b.Units[1].Bytes)
	}
}
