// Package bundle packs the output of a generation run into a single
// CBOR document.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/classgen/codegen"
	"github.com/chazu/classgen/verify"
)

// Bundle is the archived result of one run.
type Bundle struct {
	RunID    string    `cbor:"1,keyasint"`
	Created  time.Time `cbor:"2,keyasint"`
	Options  Settings  `cbor:"3,keyasint"`
	Units    []Unit    `cbor:"4,keyasint"`
	Problems []Problem `cbor:"5,keyasint,omitempty"`
}

// Settings records the options a run was generated with.
type Settings struct {
	Lines        string `cbor:"1,keyasint"`
	Concat       string `cbor:"2,keyasint"`
	ClassVersion uint16 `cbor:"3,keyasint"`
	Verified     bool   `cbor:"4,keyasint"`
}

// Unit is one class file.
type Unit struct {
	Name  string `cbor:"1,keyasint"`
	Bytes []byte `cbor:"2,keyasint"`
}

// Problem is a verification problem reported for the run.
type Problem struct {
	Class   string `cbor:"1,keyasint"`
	Method  string `cbor:"2,keyasint,omitempty"`
	Offset  int    `cbor:"3,keyasint"`
	Message string `cbor:"4,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// New builds a bundle for a run under a fresh run ID.
func New(opts codegen.Options, units []codegen.Unit, problems []verify.Problem) *Bundle {
	b := &Bundle{
		RunID:   uuid.New().String(),
		Created: time.Now().UTC().Truncate(time.Second),
		Options: Settings{
			Lines:        opts.Lines.String(),
			Concat:       opts.Concat.String(),
			ClassVersion: opts.ClassVersion,
			Verified:     opts.Verify,
		},
	}
	for _, u := range units {
		b.Units = append(b.Units, Unit{Name: u.Name, Bytes: u.Bytes})
	}
	for _, p := range problems {
		b.Problems = append(b.Problems, Problem{Class: p.Class, Method: p.Method, Offset: p.Offset, Message: p.Message})
	}
	return b
}

// Marshal serializes a bundle to canonical CBOR.
func Marshal(b *Bundle) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// Unmarshal deserializes a bundle from CBOR bytes.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if _, err := uuid.Parse(b.RunID); err != nil {
		return nil, fmt.Errorf("bundle: bad run id %q: %w", b.RunID, err)
	}
	return &b, nil
}

// WriteFile writes the bundle to path.
func (b *Bundle) WriteFile(path string) error {
	data, err := Marshal(b)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads a bundle written by WriteFile.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// ClassPath maps a dotted class name to its path below an output
// directory, e.g. demo.Hello to demo/Hello.class.
func ClassPath(dir, name string) string {
	return filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))+".class")
}

// Extract writes every unit below dir and returns the written paths.
func (b *Bundle) Extract(dir string) ([]string, error) {
	var paths []string
	for _, u := range b.Units {
		path := ClassPath(dir, u.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return paths, err
		}
		if err := os.WriteFile(path, u.Bytes, 0644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
