package tokenizer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-bytepiece/internal/text"
	"github.com/example/go-bytepiece/internal/vocab"
)

// Encode returns the token IDs for s. Concatenating the bytes of the
// returned IDs, specials excluded, reproduces s (after NFC when o.Normalize
// is set).
func (t *Tokenizer) Encode(ctx context.Context, s string, o EncodeOptions) ([]int, error) {
	pieces, err := t.Tokenize(ctx, s, o)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(pieces)+2)
	if o.AddBOS {
		ids = append(ids, vocab.BOSID)
	}

	for _, p := range pieces {
		id, ok := t.vocab.ID(p)
		if !ok {
			return nil, fmt.Errorf("%w: piece %q has no id", ErrInconsistentVocabulary, p)
		}

		ids = append(ids, id)
	}

	if o.AddEOS {
		ids = append(ids, vocab.EOSID)
	}

	return ids, nil
}

// Tokenize returns the byte pieces of s without mapping them to IDs.
// BOS/EOS in o are ignored.
func (t *Tokenizer) Tokenize(ctx context.Context, s string, o EncodeOptions) ([][]byte, error) {
	if o.Normalize {
		s = text.NormalizeNFC(s)
	}

	chunks := text.Chunk(s)

	var (
		perChunk [][][]byte
		err      error
	)

	if len(chunks) > 1 && text.TotalLen(chunks) > t.opts.parallelThreshold {
		t.log.Debug("encode in parallel", "chunks", len(chunks), "bytes", len(s), "workers", t.opts.workers)
		perChunk, err = t.segmentParallel(ctx, chunks, o.Alpha)
	} else {
		perChunk, err = t.segmentSequential(ctx, chunks, o.Alpha)
	}

	if err != nil {
		return nil, err
	}

	n := 0
	for _, ps := range perChunk {
		n += len(ps)
	}

	pieces := make([][]byte, 0, n)
	for _, ps := range perChunk {
		pieces = append(pieces, ps...)
	}

	return pieces, nil
}

func (t *Tokenizer) segmentSequential(ctx context.Context, chunks []string, alpha float64) ([][][]byte, error) {
	out := make([][][]byte, len(chunks))

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ps, err := t.seg.Segment([]byte(c), alpha)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		out[i] = ps
	}

	return out, nil
}

// segmentParallel runs one task per chunk on a bounded pool. Results land in
// their chunk's slot so output order never depends on scheduling.
func (t *Tokenizer) segmentParallel(ctx context.Context, chunks []string, alpha float64) ([][][]byte, error) {
	out := make([][][]byte, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.workers)

	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			ps, err := t.seg.Segment([]byte(c), alpha)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}

			out[i] = ps

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// errgroup cancels gctx on the first failure only; a caller cancellation
	// that raced the last task still has to surface.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
