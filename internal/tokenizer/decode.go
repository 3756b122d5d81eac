package tokenizer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnknownTokenID is matched by *UnknownTokenIDError.
	ErrUnknownTokenID = errors.New("unknown token id")

	// ErrInvalidUTF8 is returned by Decode in strict mode when the decoded
	// bytes are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("decoded bytes are not valid UTF-8")
)

// UnknownTokenIDError reports an ID outside the vocabulary.
type UnknownTokenIDError struct {
	ID int
}

func (e *UnknownTokenIDError) Error() string {
	return fmt.Sprintf("unknown token id %d", e.ID)
}

func (e *UnknownTokenIDError) Is(target error) bool { return target == ErrUnknownTokenID }

// DecodePieces returns the raw bytes of each ID. Special IDs decode to their
// placeholder text, e.g. "<bos>".
func (t *Tokenizer) DecodePieces(ids []int) ([][]byte, error) {
	pieces := make([][]byte, len(ids))

	for i, id := range ids {
		b, ok := t.vocab.Bytes(id)
		if !ok {
			return nil, &UnknownTokenIDError{ID: id}
		}

		pieces[i] = b
	}

	return pieces, nil
}

// Decode returns the text of ids. A token may carry part of a multi-byte
// character, so a token ending in an incomplete sequence is held until the
// following tokens complete it. In lenient mode a token whose bytes cannot
// form valid UTF-8 in that context contributes nothing; WithStrictUTF8
// rejects such input with ErrInvalidUTF8 instead.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	pieces, err := t.DecodePieces(ids)
	if err != nil {
		return "", err
	}

	b := bytes.Join(pieces, nil)
	if utf8.Valid(b) {
		return string(b), nil
	}

	if t.opts.strictUTF8 {
		return "", ErrInvalidUTF8
	}

	return decodeLenient(pieces), nil
}

type utf8State int

const (
	utf8Complete utf8State = iota
	// utf8Incomplete is valid so far but ends inside a character.
	utf8Incomplete
	utf8Invalid
)

func classifyUTF8(b []byte) utf8State {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			// FullRune is false only for a valid prefix cut off by the end of b.
			if !utf8.FullRune(b[i:]) {
				return utf8Incomplete
			}

			return utf8Invalid
		}

		i += size
	}

	return utf8Complete
}

func decodeLenient(pieces [][]byte) string {
	var (
		out  strings.Builder
		held []byte // tokens waiting for the rest of a character
	)

	for i := 0; i < len(pieces); i++ {
		cand := append(held[:len(held):len(held)], pieces[i]...)

		switch classifyUTF8(cand) {
		case utf8Complete:
			out.Write(cand)
			held = nil
		case utf8Incomplete:
			held = cand
		case utf8Invalid:
			if len(held) > 0 {
				// The held tokens never complete; drop them and retry this one alone.
				held = nil
				i--

				continue
			}
		}
	}

	return out.String()
}
