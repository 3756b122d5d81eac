// Package segment turns matcher output into a token segmentation of a byte
// span, either the maximum log-probability path (Viterbi decode) or a path
// sampled in proportion to its tempered probability (Viterbi sample).
package segment

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/example/go-bytepiece/internal/matcher"
)

var (
	// ErrUnsegmentable is matched by *UnsegmentableInputError.
	ErrUnsegmentable = errors.New("input cannot be segmented")

	// ErrInconsistentVocabulary reports a matcher pattern the scorer does not know.
	ErrInconsistentVocabulary = errors.New("matcher and vocabulary disagree")
)

// UnsegmentableInputError reports a byte offset no token path reaches. It
// only happens with a vocabulary lacking full single-byte coverage.
type UnsegmentableInputError struct {
	Offset int
	Length int
}

func (e *UnsegmentableInputError) Error() string {
	return fmt.Sprintf("input cannot be segmented: offset %d of %d is unreachable", e.Offset, e.Length)
}

func (e *UnsegmentableInputError) Is(target error) bool { return target == ErrUnsegmentable }

// Scorer returns the log-probability of a token.
type Scorer interface {
	Score(token []byte) (float64, bool)
}

// RandomSource yields uniform draws in [0, 1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithRandom sets the source of draws for sampling. The source is shared by
// every Segment call, so it must be safe for concurrent use when the
// Segmenter is.
func WithRandom(src RandomSource) Option {
	return func(s *Segmenter) {
		if src != nil {
			s.rnd = src
		}
	}
}

// Segmenter is immutable and safe for concurrent use provided its random
// source is.
type Segmenter struct {
	m      *matcher.Matcher
	scores []float64 // indexed by matcher pattern
	lowest float64   // most negative score
	rnd    RandomSource
}

// New resolves a score for every matcher pattern up front, so a pattern the
// scorer does not know fails here rather than mid-encode.
func New(m *matcher.Matcher, scorer Scorer, opts ...Option) (*Segmenter, error) {
	scores := make([]float64, m.Len())
	lowest := 0.0

	for i := range scores {
		sc, ok := scorer.Score(m.Pattern(i))
		if !ok {
			return nil, fmt.Errorf("%w: no score for pattern %q", ErrInconsistentVocabulary, m.Pattern(i))
		}

		scores[i] = sc
		lowest = min(lowest, sc)
	}

	s := &Segmenter{m: m, scores: scores, lowest: lowest, rnd: globalSource{}}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Segment splits b into tokens whose concatenation is b. alpha <= 0 selects
// Viterbi decode; alpha > 0 samples with alpha as inverse temperature. An
// alpha so large that scaled path scores overflow is the zero-temperature
// limit and decodes, as do +Inf and NaN. The returned slices alias b.
func (s *Segmenter) Segment(b []byte, alpha float64) ([][]byte, error) {
	if len(b) == 0 {
		return [][]byte{}, nil
	}

	score := make([]float64, len(b)+1)
	route := make([]int, len(b)+1)

	for i := range score {
		score[i] = math.Inf(-1)
		route[i] = i
	}

	score[0] = 0

	if s.decodes(alpha, len(b)) {
		s.decode(b, score, route)
	} else {
		s.sample(b, alpha, score, route)
	}

	return backtrace(b, route)
}

func (s *Segmenter) decodes(alpha float64, n int) bool {
	if alpha <= 0 || math.IsNaN(alpha) || math.IsInf(alpha, 1) {
		return true
	}

	// A path over n bytes has at most n tokens, so its scaled score is
	// bounded below by alpha*lowest*n.
	return math.IsInf(alpha*s.lowest*float64(n), -1)
}

func (s *Segmenter) decode(b []byte, score []float64, route []int) {
	for mt := range s.m.FindOverlapping(b) {
		cand := score[mt.Start] + s.scores[mt.Pattern]
		if cand > score[mt.End] {
			score[mt.End] = cand
			route[mt.End] = mt.Start
		}
	}
}

// sample keeps, per position, the log of the total mass of all paths seen so
// far and replaces the chosen route with each new candidate with probability
// equal to its share of that mass.
func (s *Segmenter) sample(b []byte, alpha float64, score []float64, route []int) {
	for mt := range s.m.FindOverlapping(b) {
		cand := alpha*s.scores[mt.Pattern] + score[mt.Start]
		if math.IsInf(cand, -1) {
			continue
		}

		score[mt.End] = LogSumExp(score[mt.End], cand)

		if s.rnd.Float64() < math.Exp(cand-score[mt.End]) {
			route[mt.End] = mt.Start
		}
	}
}

func backtrace(b []byte, route []int) ([][]byte, error) {
	var tokens [][]byte

	for end := len(b); end > 0; {
		start := route[end]
		if start == end {
			return nil, &UnsegmentableInputError{Offset: end, Length: len(b)}
		}

		tokens = append(tokens, b[start:end])
		end = start
	}

	slices.Reverse(tokens)

	return tokens, nil
}

// LogSumExp returns ln(exp(x) + exp(y)) without overflow. -Inf is the
// identity element.
func LogSumExp(x, y float64) float64 {
	if math.IsInf(x, -1) {
		return y
	}

	if math.IsInf(y, -1) {
		return x
	}

	if x < y {
		x, y = y, x
	}

	return x + math.Log1p(math.Exp(y-x))
}
