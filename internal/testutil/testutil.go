// Package testutil provides skip helpers and fixture vocabularies shared by
// package tests.
//
// Tests that need the published 80k model call RequireModel, which skips
// with a clear reason when the file is absent:
//
//	func TestEncode_DefaultModel(t *testing.T) {
//	    path := testutil.RequireModel(t)
//	    ...
//	}
//
// Everything else runs against Fixture, a small in-memory vocabulary with
// full single-byte coverage.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/example/go-bytepiece/internal/vocab"
)

// ModelFileName is the published default model.
const ModelFileName = "bytepiece_80k.model"

// RequireModel returns the path of the 80k model, taken from BYTEPIECE_MODEL
// or found by walking up from the working directory to models/. It skips
// the test when neither is available.
func RequireModel(tb testing.TB) string {
	tb.Helper()

	if p := os.Getenv("BYTEPIECE_MODEL"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}

		tb.Skipf("model not found at BYTEPIECE_MODEL=%q", p)

		return ""
	}

	dir, err := filepath.Abs(".")
	if err != nil {
		tb.Fatalf("abs path: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "models", ModelFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	tb.Skipf("models/%s not found; set BYTEPIECE_MODEL to run this test", ModelFileName)

	return ""
}

// FixtureEntries returns entries for every single byte (frequency 1 unless
// overridden by pieces) followed by the multi-byte pieces in sorted order.
// IDs are dense from vocab.NumSpecial.
func FixtureEntries(pieces map[string]uint64) []vocab.Entry {
	entries := make([]vocab.Entry, 0, 256+len(pieces))

	for b := range 256 {
		tok := string([]byte{byte(b)})

		freq := uint64(1)
		if f, ok := pieces[tok]; ok {
			freq = f
		}

		entries = append(entries, vocab.Entry{Token: []byte(tok), ID: vocab.NumSpecial + b, Freq: freq})
	}

	keys := make([]string, 0, len(pieces))
	for k := range pieces {
		if len(k) > 1 {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	for _, k := range keys {
		entries = append(entries, vocab.Entry{
			Token: []byte(k),
			ID:    vocab.NumSpecial + len(entries),
			Freq:  pieces[k],
			Value: k,
		})
	}

	return entries
}

// Fixture builds a vocabulary from FixtureEntries.
func Fixture(tb testing.TB, pieces map[string]uint64) *vocab.Vocabulary {
	tb.Helper()

	v, err := vocab.New(FixtureEntries(pieces))
	if err != nil {
		tb.Fatalf("fixture vocabulary: %v", err)
	}

	return v
}

// WriteFixtureModel writes FixtureEntries as a JSON model file in a temp
// directory and returns its path.
func WriteFixtureModel(tb testing.TB, pieces map[string]uint64) string {
	tb.Helper()

	model := make(map[string][]any)
	for _, e := range FixtureEntries(pieces) {
		model[base64.StdEncoding.EncodeToString(e.Token)] = []any{e.ID, e.Value, e.Freq}
	}

	data, err := json.Marshal(model)
	if err != nil {
		tb.Fatalf("marshal fixture model: %v", err)
	}

	path := filepath.Join(tb.TempDir(), "fixture.model")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write fixture model: %v", err)
	}

	return path
}
