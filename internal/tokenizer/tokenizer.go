// Package tokenizer is the public face of the bytepiece pipeline: it loads a
// vocabulary, splits text into line chunks, segments every chunk and maps the
// resulting pieces to token IDs, and back.
package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/example/go-bytepiece/internal/matcher"
	"github.com/example/go-bytepiece/internal/segment"
	"github.com/example/go-bytepiece/internal/vocab"
)

// DefaultModelPath is used by Open when no path is given and BYTEPIECE_MODEL
// is unset.
const DefaultModelPath = "models/bytepiece_80k.model"

// ModelEnv overrides DefaultModelPath.
const ModelEnv = "BYTEPIECE_MODEL"

// DefaultParallelThreshold is the total input size in bytes above which a
// multi-chunk Encode fans out to the worker pool.
const DefaultParallelThreshold = 2048

// ErrInconsistentVocabulary reports a segmented piece that has no ID. It
// cannot happen with a vocabulary that built its own matcher.
var ErrInconsistentVocabulary = segment.ErrInconsistentVocabulary

// Encoder turns text into token IDs. Both the bytepiece Tokenizer and the
// SentencePiece baseline satisfy it.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]int, error)
}

// EncodeOptions controls a single Encode or Tokenize call. The zero value
// is Viterbi decode without normalization or special tokens.
type EncodeOptions struct {
	AddBOS bool
	AddEOS bool

	// Alpha <= 0 selects the maximum-probability segmentation; Alpha > 0
	// samples a segmentation with Alpha as inverse temperature.
	Alpha float64

	// Normalize applies Unicode NFC before segmentation.
	Normalize bool
}

type options struct {
	workers           int
	parallelThreshold int
	strictUTF8        bool
	rnd               segment.RandomSource
	logger            *slog.Logger
}

func defaultOptions() options {
	return options{
		workers:           runtime.NumCPU(),
		parallelThreshold: DefaultParallelThreshold,
		logger:            slog.Default(),
	}
}

// Option configures a Tokenizer.
type Option func(*options)

// WithWorkers caps the number of chunks segmented concurrently by one
// Encode call. n <= 0 means runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = runtime.NumCPU()
		}

		o.workers = n
	}
}

// WithParallelThreshold sets the input size in bytes above which Encode
// uses the worker pool. Negative values are treated as zero.
func WithParallelThreshold(n int) Option {
	return func(o *options) { o.parallelThreshold = max(n, 0) }
}

// WithStrictUTF8 makes Decode fail with ErrInvalidUTF8 instead of dropping
// invalid byte sequences.
func WithStrictUTF8(strict bool) Option {
	return func(o *options) { o.strictUTF8 = strict }
}

// WithRandom sets the draw source used when Alpha > 0. It must be safe for
// concurrent use because parallel chunks share it.
func WithRandom(src segment.RandomSource) Option {
	return func(o *options) { o.rnd = src }
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Tokenizer is immutable after construction and safe for concurrent use.
type Tokenizer struct {
	vocab *vocab.Vocabulary
	seg   *segment.Segmenter
	opts  options
	log   *slog.Logger
}

// New builds the matcher and segmenter for v.
func New(v *vocab.Vocabulary, optFns ...Option) (*Tokenizer, error) {
	if v == nil {
		return nil, errors.New("tokenizer: nil vocabulary")
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	m, err := matcher.Build(v.Tokens())
	if err != nil {
		return nil, fmt.Errorf("build matcher: %w", err)
	}

	var segOpts []segment.Option
	if opts.rnd != nil {
		segOpts = append(segOpts, segment.WithRandom(opts.rnd))
	}

	seg, err := segment.New(m, v, segOpts...)
	if err != nil {
		return nil, fmt.Errorf("build segmenter: %w", err)
	}

	if missing := v.MissingBytes(); len(missing) > 0 {
		opts.logger.Warn("vocabulary lacks single-byte tokens; some input will not segment",
			"missing", len(missing))
	}

	opts.logger.Debug("tokenizer ready",
		"vocab_size", v.Size(),
		"matcher_states", m.States(),
		"max_token_len", v.MaxTokenLen(),
	)

	return &Tokenizer{vocab: v, seg: seg, opts: opts, log: opts.logger}, nil
}

// ResolveModelPath applies the default model path rules: an explicit path
// wins, then BYTEPIECE_MODEL, then DefaultModelPath.
func ResolveModelPath(path string) string {
	if path != "" {
		return path
	}

	if env := os.Getenv(ModelEnv); env != "" {
		return env
	}

	return DefaultModelPath
}

// Open loads a model file and builds a Tokenizer from it. See
// ResolveModelPath for how an empty path is handled.
func Open(path string, optFns ...Option) (*Tokenizer, error) {
	path = ResolveModelPath(path)

	v, err := vocab.LoadFile(path)
	if err != nil {
		return nil, err
	}

	t, err := New(v, optFns...)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", path, err)
	}

	t.log.Info("model loaded",
		"path", path,
		"vocab_size", v.Size(),
		"total_freq", v.TotalFreq(),
	)

	return t, nil
}

// Vocabulary returns the vocabulary the tokenizer was built from.
func (t *Tokenizer) Vocabulary() *vocab.Vocabulary { return t.vocab }

// Bound adapts t to the Encoder interface with fixed options.
func (t *Tokenizer) Bound(o EncodeOptions) Encoder {
	return boundEncoder{t: t, o: o}
}

type boundEncoder struct {
	t *Tokenizer
	o EncodeOptions
}

func (b boundEncoder) Encode(ctx context.Context, text string) ([]int, error) {
	return b.t.Encode(ctx, text, b.o)
}
