package answer

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decoder turns a run of tokenizer output tokens back into text.
type Decoder interface {
	Decode(tokens []string) string
}

// TokenDecoder recognises the common subword conventions (byte-level BPE,
// SentencePiece, WordPiece) from the token strings themselves.
type TokenDecoder struct {
	SkipSpecial bool
}

const (
	bpeSpace     = "Ġ"
	bpeNewline   = "Ċ"
	spieceSpace  = "▁"
	wordPieceCnt = "##"
)

var byteDecoder = buildByteDecoder()

// Decode implements Decoder.
func (d TokenDecoder) Decode(tokens []string) string {
	toks := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if d.SkipSpecial && isSpecial(t) {
			continue
		}
		toks = append(toks, t)
	}
	if len(toks) == 0 {
		return ""
	}

	var out string
	switch detectScheme(toks) {
	case schemeByteLevel:
		out = decodeByteLevel(toks)
	case schemeSentencePiece:
		out = decodeSentencePiece(toks)
	case schemeWordPiece:
		out = cleanup(decodeWordPiece(toks))
	default:
		out = cleanup(strings.Join(toks, " "))
	}
	return strings.TrimSpace(out)
}

type scheme int

const (
	schemePlain scheme = iota
	schemeWordPiece
	schemeSentencePiece
	schemeByteLevel
)

func detectScheme(tokens []string) scheme {
	s := schemePlain
	for _, t := range tokens {
		switch {
		case strings.Contains(t, bpeSpace) || strings.Contains(t, bpeNewline) || isByteLevelToken(t):
			return schemeByteLevel
		case strings.Contains(t, spieceSpace):
			s = schemeSentencePiece
		case s == schemePlain && strings.HasPrefix(t, wordPieceCnt) && len(t) > len(wordPieceCnt):
			s = schemeWordPiece
		}
	}
	return s
}

// isByteLevelToken reports whether t reads as a byte-level BPE token: every
// non-ASCII rune is in the byte table and the bytes form valid UTF-8 ("Ã©"
// is "é"). A plain "é" maps to a lone 0xE9 and fails.
func isByteLevelToken(t string) bool {
	nonASCII := false
	buf := make([]byte, 0, len(t))
	for _, r := range t {
		if r < utf8.RuneSelf {
			buf = append(buf, byte(r))
			continue
		}
		b, ok := byteDecoder[r]
		if !ok {
			return false
		}
		nonASCII = true
		buf = append(buf, b)
	}
	return nonASCII && utf8.Valid(buf)
}

func decodeWordPiece(tokens []string) string {
	var b strings.Builder
	for i, t := range tokens {
		if strings.HasPrefix(t, wordPieceCnt) && len(t) > len(wordPieceCnt) {
			b.WriteString(t[len(wordPieceCnt):])
			continue
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

func decodeSentencePiece(tokens []string) string {
	var buf []byte
	for _, t := range tokens {
		if b, ok := byteFallback(t); ok {
			buf = append(buf, b)
			continue
		}
		buf = append(buf, strings.ReplaceAll(t, spieceSpace, " ")...)
	}
	return string(buf)
}

// byteFallback parses SentencePiece byte tokens such as <0x0A>.
func byteFallback(t string) (byte, bool) {
	if len(t) != 6 || !strings.HasPrefix(t, "<0x") || t[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(t[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

func decodeByteLevel(tokens []string) string {
	var buf []byte
	for _, t := range tokens {
		for _, r := range t {
			if b, ok := byteDecoder[r]; ok {
				buf = append(buf, b)
				continue
			}
			buf = utf8.AppendRune(buf, r)
		}
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// buildByteDecoder inverts the GPT-2 byte-to-unicode table used by
// byte-level BPE vocabularies.
func buildByteDecoder() map[rune]byte {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}
	printable := make(map[int]bool, len(bs))
	for _, b := range bs {
		printable[b] = true
	}

	dec := make(map[rune]byte, 256)
	for _, b := range bs {
		dec[rune(b)] = byte(b)
	}
	n := 0
	for b := 0; b < 256; b++ {
		if printable[b] {
			continue
		}
		dec[rune(256+n)] = byte(b)
		n++
	}
	return dec
}

func isSpecial(t string) bool {
	switch {
	case len(t) > 2 && t[0] == '[' && t[len(t)-1] == ']':
		for _, r := range t[1 : len(t)-1] {
			if (r < 'A' || r > 'Z') && r != '_' {
				return false
			}
		}
		return true
	case strings.HasPrefix(t, "<|") && strings.HasSuffix(t, "|>"):
		return true
	}
	switch t {
	case "<s>", "</s>", "<pad>", "<unk>", "<mask>", "<eos>", "<bos>":
		return true
	}
	return false
}

var cleanupReplacer = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 't", "'t",
	" 'll", "'ll",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

// cleanup removes the spaces a space-joined decode leaves before punctuation
// and English contractions.
func cleanup(s string) string {
	return cleanupReplacer.Replace(s)
}
