package tokenizer

import (
	"context"
	"errors"
	"fmt"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// ErrEmptyPath is returned when NewSentencePiece is called with an empty path.
var ErrEmptyPath = errors.New("sentencepiece model path must not be empty")

// SentencePiece is a pure-Go unigram SentencePiece encoder. It serves as a
// throughput baseline for bytepiece and is not used for encoding otherwise.
type SentencePiece struct {
	proc gosp.Sentencepiece
}

// NewSentencePiece loads a SentencePiece .model file.
func NewSentencePiece(modelPath string) (*SentencePiece, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %q: %w", modelPath, err)
	}

	return &SentencePiece{proc: proc}, nil
}

// Encode returns SentencePiece IDs for text. The upstream encoder is not
// cancellable, so ctx is only checked before starting.
func (s *SentencePiece) Encode(ctx context.Context, text string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if text == "" {
		return []int{}, nil
	}

	ids := s.proc.TokenizeToIDs(text)

	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}

	return out, nil
}
