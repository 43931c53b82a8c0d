package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"doc-qa/internal/answer"
	"doc-qa/internal/chunker"
	"doc-qa/internal/metrics"
)

// ReaderOptions controls how long documents are split before scoring.
type ReaderOptions struct {
	WindowWords int
	Overlap     int
	Concurrency int
}

// Reader answers questions by scoring text with a Model and decoding the
// argmax span with an Extractor.
type Reader struct {
	model     Model
	extractor *answer.Extractor
	log       *slog.Logger
	opts      ReaderOptions
}

// NewReader wires a model and extractor. Zero options fall back to a
// 384-word window, 64-word overlap and one request at a time.
func NewReader(model Model, extractor *answer.Extractor, log *slog.Logger, opts ReaderOptions) *Reader {
	if extractor == nil {
		extractor = answer.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.WindowWords <= 0 {
		opts.WindowWords = 384
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.WindowWords {
		opts.Overlap = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Reader{model: model, extractor: extractor, log: log, opts: opts}
}

// Answer scores question against contextText and returns the decoded span.
// On failure the Result is empty and the error wraps answer.ErrInput,
// ErrModelLoad or ErrInference.
func (r *Reader) Answer(ctx context.Context, question, contextText string) (answer.Result, error) {
	if strings.TrimSpace(contextText) == "" {
		metrics.IncAnswer("failed")
		return answer.Result{}, fmt.Errorf("%w: empty context", answer.ErrInput)
	}

	start := time.Now()
	scores, err := r.model.Score(ctx, question, contextText)
	if err != nil {
		metrics.ObserveModel("qa", r.model.Name(), Classify(err), time.Since(start))
		metrics.IncAnswer("failed")
		return answer.Result{}, err
	}
	metrics.ObserveModel("qa", r.model.Name(), "ok", time.Since(start))

	res, err := r.extractor.Extract(scores.Tokens, scores.StartLogits, scores.EndLogits)
	if err != nil {
		metrics.IncAnswer("failed")
		return answer.Result{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if res.Text == "" {
		metrics.IncAnswer("empty")
		r.log.Debug("empty answer span", "start", res.Span.Start, "end", res.Span.End)
	} else {
		metrics.IncAnswer("answered")
	}
	return res, nil
}

// AnswerDocument answers over text of any length by scoring overlapping word
// windows and keeping the highest-scoring non-empty span. Ties keep the
// earliest window.
func (r *Reader) AnswerDocument(ctx context.Context, question, text string) (answer.Result, error) {
	windows := chunker.ChunkText(text, chunker.Options{MaxTokens: r.opts.WindowWords, Overlap: r.opts.Overlap})
	switch len(windows) {
	case 0:
		metrics.IncAnswer("failed")
		return answer.Result{}, fmt.Errorf("%w: empty document", answer.ErrInput)
	case 1:
		return r.Answer(ctx, question, windows[0].Text)
	}

	results := make([]answer.Result, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, w := range windows {
		g.Go(func() error {
			res, err := r.Answer(gctx, question, w.Text)
			if err != nil {
				return fmt.Errorf("window %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return answer.Result{}, err
	}

	best := -1
	for i, res := range results {
		if res.Text == "" {
			continue
		}
		if best < 0 || res.Score > results[best].Score {
			best = i
		}
	}
	if best < 0 {
		return results[0], nil
	}
	r.log.Debug("selected answer window", "window", best, "windows", len(windows), "score", results[best].Score)
	return results[best], nil
}
