package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/classgen/bundle"
	"github.com/chazu/classgen/codegen"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func run(created time.Time, names ...string) *bundle.Bundle {
	var units []codegen.Unit
	for i, n := range names {
		units = append(units, codegen.Unit{Name: n, Bytes: []byte{0xCA, 0xFE, byte(i)}})
	}
	b := bundle.New(codegen.DefaultOptions(), units, nil)
	b.Created = created
	return b
}

func TestSaveAndList(t *testing.T) {
	s := openStore(t)
	older := run(time.Unix(1_700_000_000, 0), "demo.A")
	newer := run(time.Unix(1_700_000_100, 0), "demo.B", "demo.C")
	for _, b := range []*bundle.Bundle{older, newer} {
		if err := s.SaveRun(b); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != newer.RunID || runs[0].Units != 2 {
		t.Errorf("first run = %+v, want %s with 2 units", runs[0], newer.RunID)
	}
	if runs[1].Lines != "off" || runs[1].Concat != "builder" {
		t.Errorf("settings = %s/%s, want off/builder", runs[1].Lines, runs[1].Concat)
	}
	if !runs[1].Created.Equal(older.Created) {
		t.Errorf("created = %v, want %v", runs[1].Created, older.Created)
	}
}

func TestUnits(t *testing.T) {
	s := openStore(t)
	b := run(time.Unix(1_700_000_000, 0), "demo.Z", "demo.A")
	if err := s.SaveRun(b); err != nil {
		t.Fatal(err)
	}
	units, err := s.Units(b.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 || units[0].Name != "demo.A" {
		t.Fatalf("units = %v, want demo.A first", units)
	}
	if !bytes.Equal(units[0].Bytes, b.Units[1].Bytes) || units[0].Size != 3 || len(units[0].SHA256) != 64 {
		t.Errorf("unit = %+v", units[0])
	}

	if _, err := s.Units("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

func TestDuplicateRunRejected(t *testing.T) {
	s := openStore(t)
	b := run(time.Unix(1_700_000_000, 0), "demo.A")
	if err := s.SaveRun(b); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(b); err == nil {
		t.Error("expected an error saving the same run twice")
	}
	runs, _ := s.Runs()
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}
