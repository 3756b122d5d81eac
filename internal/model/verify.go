package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/go-bytepiece/internal/tokenizer"
	"github.com/example/go-bytepiece/internal/vocab"
)

// DefaultProbe is round-tripped through the model by Verify.
const DefaultProbe = "今天天气不错\nThe quick brown fox.\n\n🙂 é"

type VerifyOptions struct {
	Path   string
	Probe  string // defaults to DefaultProbe
	Stdout io.Writer
}

// Info summarizes a loaded model.
type Info struct {
	Path         string
	SHA256       string
	Size         int
	TotalFreq    uint64
	MaxTokenLen  int
	MissingBytes int
}

// Inspect loads the model at path and reports its statistics.
func Inspect(path string) (Info, *vocab.Vocabulary, error) {
	v, err := vocab.LoadFile(path)
	if err != nil {
		return Info{}, nil, err
	}

	sum, err := FileSHA256(path)
	if err != nil {
		return Info{}, nil, err
	}

	return Info{
		Path:         path,
		SHA256:       sum,
		Size:         v.Size(),
		TotalFreq:    v.TotalFreq(),
		MaxTokenLen:  v.MaxTokenLen(),
		MissingBytes: len(v.MissingBytes()),
	}, v, nil
}

// Verify loads a model, requires full single-byte coverage and checks that
// the probe text survives Encode then Decode in both decode and sampling
// modes.
func Verify(ctx context.Context, opts VerifyOptions) error {
	if opts.Path == "" {
		return errors.New("model path is required")
	}
	if opts.Probe == "" {
		opts.Probe = DefaultProbe
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	info, v, err := Inspect(opts.Path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(opts.Stdout, "PASS load (%d ids, sha256=%s)\n", info.Size, info.SHA256)

	if info.MissingBytes > 0 {
		return fmt.Errorf("model lacks %d single-byte tokens; arbitrary input cannot be encoded", info.MissingBytes)
	}
	_, _ = fmt.Fprintln(opts.Stdout, "PASS single-byte coverage")

	tok, err := tokenizer.New(v, tokenizer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		return fmt.Errorf("build tokenizer: %w", err)
	}

	for _, alpha := range []float64{-1, 0.1} {
		ids, err := tok.Encode(ctx, opts.Probe, tokenizer.EncodeOptions{Alpha: alpha})
		if err != nil {
			return fmt.Errorf("encode probe (alpha=%v): %w", alpha, err)
		}

		got, err := tok.Decode(ids)
		if err != nil {
			return fmt.Errorf("decode probe (alpha=%v): %w", alpha, err)
		}

		if got != opts.Probe {
			return fmt.Errorf("round trip (alpha=%v) changed the probe: got %q", alpha, got)
		}

		_, _ = fmt.Fprintf(opts.Stdout, "PASS round trip alpha=%v (%d tokens)\n", alpha, len(ids))
	}

	return nil
}
