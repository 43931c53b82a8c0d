package answer

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInput marks a request the extractor cannot work with (empty or mismatched input).
var ErrInput = errors.New("invalid input")

// Span is an inclusive [Start, End] range of token positions.
type Span struct {
	Start int
	End   int
}

// Empty reports whether the span selects no tokens, which happens when the
// end boundary lands before the start boundary.
func (s Span) Empty() bool {
	return s.End < s.Start
}

// Len returns the number of tokens covered by the span.
func (s Span) Len() int {
	if s.Empty() {
		return 0
	}
	return s.End - s.Start + 1
}

// Result is the decoded answer together with the span it came from.
type Result struct {
	Text  string
	Span  Span
	Score float32
}

// Extractor turns token/logit triples into answer text.
type Extractor struct {
	decoder Decoder
}

// New returns an Extractor using d to turn tokens back into text.
// A nil decoder falls back to TokenDecoder with special tokens skipped.
func New(d Decoder) *Extractor {
	if d == nil {
		d = TokenDecoder{SkipSpecial: true}
	}
	return &Extractor{decoder: d}
}

// Extract selects start = argmax(startLogits) and end = argmax(endLogits) and
// decodes tokens[start:end+1]. When end < start the result has an empty span
// and empty text.
func (e *Extractor) Extract(tokens []string, startLogits, endLogits []float32) (Result, error) {
	span, err := SelectSpan(tokens, startLogits, endLogits)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Span:  span,
		Score: startLogits[span.Start] + endLogits[span.End],
	}
	if span.Empty() {
		return res, nil
	}
	res.Text = strings.TrimSpace(e.decoder.Decode(tokens[span.Start : span.End+1]))
	return res, nil
}

// SelectSpan validates the inputs and returns the argmax span.
func SelectSpan(tokens []string, startLogits, endLogits []float32) (Span, error) {
	n := len(tokens)
	if n == 0 {
		return Span{}, fmt.Errorf("%w: empty token sequence", ErrInput)
	}
	if len(startLogits) != n || len(endLogits) != n {
		return Span{}, fmt.Errorf("%w: %d tokens but %d start and %d end logits",
			ErrInput, n, len(startLogits), len(endLogits))
	}
	return Span{Start: Argmax(startLogits), End: Argmax(endLogits)}, nil
}

// Argmax returns the index of the first maximal value. NaN never wins; a
// slice made only of NaN yields 0. An empty slice yields -1.
func Argmax(xs []float32) int {
	if len(xs) == 0 {
		return -1
	}
	best := -1
	for i, v := range xs {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > xs[best] {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return best
}
