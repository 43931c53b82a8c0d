package chunker

import (
	"regexp"
	"strings"
)

const (
	defaultWindowWords   = 400
	defaultSentenceChars = 1000
)

// Options controls word-window chunking.
type Options struct {
	MaxTokens int
	Overlap   int
}

// Chunk represents a slice of the document text.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// ChunkText splits text into overlapping windows of whitespace-delimited words.
// Words stand in for model tokens; the hosted tokenizer truncates anything longer.
func ChunkText(text string, opts Options) []Chunk {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultWindowWords
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}

	words := strings.Fields(text)
	var chunks []Chunk
	if len(words) == 0 {
		return chunks
	}

	step := opts.MaxTokens - opts.Overlap
	if step <= 0 {
		step = opts.MaxTokens
	}

	for start := 0; start < len(words); start += step {
		end := min(start+opts.MaxTokens, len(words))
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       strings.Join(words[start:end], " "),
			TokenCount: end - start,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

var sentenceRe = regexp.MustCompile(`[^.!?]*[.!?]`)

// ChunkBySentence packs whole sentences into chunks of at most maxChars
// characters. A single sentence longer than maxChars becomes its own chunk.
// Text after the last terminal punctuation mark is kept as a final sentence.
func ChunkBySentence(text string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = defaultSentenceChars
	}

	sentences := splitSentences(text)
	var chunks []Chunk
	var cur strings.Builder

	flush := func() {
		body := strings.TrimSpace(cur.String())
		cur.Reset()
		if body == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       body,
			TokenCount: len(strings.Fields(body)),
		})
	}

	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+len(s) > maxChars {
			flush()
		}
		cur.WriteString(s)
	}
	flush()
	return chunks
}

func splitSentences(text string) []string {
	locs := sentenceRe.FindAllStringIndex(text, -1)
	out := make([]string, 0, len(locs)+1)
	last := 0
	for _, loc := range locs {
		out = append(out, text[loc[0]:loc[1]])
		last = loc[1]
	}
	if tail := text[last:]; strings.TrimSpace(tail) != "" {
		out = append(out, tail)
	}
	return out
}
