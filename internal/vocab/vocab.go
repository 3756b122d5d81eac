// Package vocab holds the immutable byte-level vocabulary used by the
// segmenter: token bytes, dense integer IDs and normalized log-probability
// scores.
package vocab

import (
	"bytes"
	"fmt"
	"math"
	"slices"
)

// Reserved IDs. They resolve to printable placeholder bytes on decode and
// never take part in matching.
const (
	PadID = 0
	BOSID = 1
	EOSID = 2

	NumSpecial = 3
)

var specialTokens = [NumSpecial]string{"<pad>", "<bos>", "<eos>"}

// Entry is one vocabulary record as read from a model file.
type Entry struct {
	Token []byte
	ID    int
	Freq  uint64
	Value string // optional human readable form, not used for segmentation
}

// ModelFormatError reports model data that cannot form a vocabulary.
type ModelFormatError struct {
	Reason string
	Key    string
	Err    error
}

func (e *ModelFormatError) Error() string {
	msg := "invalid model: " + e.Reason
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ModelFormatError) Unwrap() error { return e.Err }

// Vocabulary maps tokens to IDs and scores. It is safe for concurrent use;
// nothing is mutated after New returns.
type Vocabulary struct {
	ids       map[string]int
	tokens    [][]byte // index is the token ID
	scores    map[string]float64
	freqs     []uint64 // index is the token ID, zero for specials
	values    []string
	patterns  [][]byte // sorted, specials excluded
	totalFreq uint64
	maxLen    int
}

// New validates entries and builds all indexes in one pass. Either every
// index is built or an error is returned; there is no partial vocabulary.
func New(entries []Entry) (*Vocabulary, error) {
	if len(entries) == 0 {
		return nil, &ModelFormatError{Reason: "no entries"}
	}

	size := len(entries) + NumSpecial
	v := &Vocabulary{
		ids:      make(map[string]int, size),
		tokens:   make([][]byte, size),
		scores:   make(map[string]float64, len(entries)),
		freqs:    make([]uint64, size),
		values:   make([]string, size),
		patterns: make([][]byte, 0, len(entries)),
	}

	for id, tok := range specialTokens {
		v.tokens[id] = []byte(tok)
		v.values[id] = tok
		v.ids[tok] = id
	}

	seen := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		key := string(e.Token)

		switch {
		case len(e.Token) == 0:
			return nil, &ModelFormatError{Reason: fmt.Sprintf("empty token for id %d", e.ID)}
		case e.ID < NumSpecial:
			return nil, &ModelFormatError{Reason: fmt.Sprintf("id %d collides with a reserved special token", e.ID), Key: key}
		case e.ID >= size:
			return nil, &ModelFormatError{Reason: fmt.Sprintf("id %d outside dense range [%d, %d)", e.ID, NumSpecial, size), Key: key}
		case v.tokens[e.ID] != nil:
			return nil, &ModelFormatError{Reason: fmt.Sprintf("duplicate id %d", e.ID), Key: key}
		case e.Freq == 0:
			return nil, &ModelFormatError{Reason: "frequency must be positive", Key: key}
		}

		if _, dup := seen[key]; dup {
			return nil, &ModelFormatError{Reason: "duplicate token", Key: key}
		}

		seen[key] = struct{}{}

		if v.totalFreq+e.Freq < v.totalFreq {
			return nil, &ModelFormatError{Reason: "total frequency overflows uint64", Key: key}
		}

		v.totalFreq += e.Freq

		tok := bytes.Clone(e.Token)
		v.tokens[e.ID] = tok
		v.freqs[e.ID] = e.Freq
		v.values[e.ID] = e.Value
		v.ids[key] = e.ID
		v.patterns = append(v.patterns, tok)
		v.maxLen = max(v.maxLen, len(tok))
	}

	logTotal := math.Log(float64(v.totalFreq))
	for _, tok := range v.patterns {
		v.scores[string(tok)] = math.Log(float64(v.freqs[v.ids[string(tok)]])) - logTotal
	}

	slices.SortFunc(v.patterns, bytes.Compare)

	return v, nil
}

// ID returns the ID of token.
func (v *Vocabulary) ID(token []byte) (int, bool) {
	id, ok := v.ids[string(token)]
	return id, ok
}

// Bytes returns the token bytes for id. The returned slice must not be modified.
func (v *Vocabulary) Bytes(id int) ([]byte, bool) {
	if id < 0 || id >= len(v.tokens) {
		return nil, false
	}

	return v.tokens[id], true
}

// Score returns ln(freq) - ln(totalFreq) for a non-special token.
func (v *Vocabulary) Score(token []byte) (float64, bool) {
	s, ok := v.scores[string(token)]
	return s, ok
}

// Entry returns the full record for id. Specials report zero frequency.
func (v *Vocabulary) Entry(id int) (Entry, bool) {
	tok, ok := v.Bytes(id)
	if !ok {
		return Entry{}, false
	}

	return Entry{Token: tok, ID: id, Freq: v.freqs[id], Value: v.values[id]}, true
}

// Size is the number of IDs, special tokens included.
func (v *Vocabulary) Size() int { return len(v.tokens) }

// Tokens returns the matchable token set in ascending byte order.
// The returned slices must not be modified.
func (v *Vocabulary) Tokens() [][]byte { return v.patterns }

// TotalFreq is the sum of all non-special token frequencies.
func (v *Vocabulary) TotalFreq() uint64 { return v.totalFreq }

// MaxTokenLen is the length in bytes of the longest token.
func (v *Vocabulary) MaxTokenLen() int { return v.maxLen }

// MissingBytes lists the single byte values that are not tokens on their
// own. A vocabulary with missing bytes cannot segment arbitrary input.
func (v *Vocabulary) MissingBytes() []byte {
	var missing []byte

	for b := range 256 {
		if _, ok := v.scores[string([]byte{byte(b)})]; !ok {
			missing = append(missing, byte(b))
		}
	}

	return missing
}
