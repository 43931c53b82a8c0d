package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const mimePDF = "application/pdf"

var (
	// ErrExtract wraps every failure to read text out of a PDF.
	ErrExtract = errors.New("pdf extraction failed")
	// ErrUnsupported is returned for files that are neither PDF nor plain text.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrTooManyPages is returned when a PDF exceeds the configured page limit.
	ErrTooManyPages = errors.New("pdf has too many pages")
)

// Origin says where the text of a Source came from.
type Origin string

const (
	OriginText Origin = "text"
	OriginFile Origin = "file"
	OriginPDF  Origin = "pdf"
)

// Source is resolved input text.
type Source struct {
	Text   string
	Origin Origin
	Path   string
	Pages  int
}

// Extractor reads text out of PDF documents. MaxPages of zero means no limit.
type Extractor struct {
	MaxPages int
}

// New returns an Extractor with the given page limit.
func New(maxPages int) *Extractor {
	return &Extractor{MaxPages: maxPages}
}

// Load resolves a command-line argument. An existing regular file is read as
// PDF or plain text according to its content; anything else is taken as the
// text itself.
func (e *Extractor) Load(arg string) (Source, error) {
	info, err := os.Stat(arg)
	if err != nil || !info.Mode().IsRegular() {
		return Source{Text: arg, Origin: OriginText}, nil
	}
	content, err := os.ReadFile(arg)
	if err != nil {
		return Source{}, fmt.Errorf("read %s: %w", arg, err)
	}
	src, err := e.FromBytes(content)
	if err != nil {
		return Source{}, fmt.Errorf("%s: %w", arg, err)
	}
	src.Path = arg
	return src, nil
}

// FromBytes decodes file content as PDF or plain text.
func (e *Extractor) FromBytes(content []byte) (Source, error) {
	switch kind := Kind(content); {
	case kind == mimePDF:
		text, pages, err := e.Extract(content)
		if err != nil {
			return Source{}, err
		}
		return Source{Text: text, Origin: OriginPDF, Pages: pages}, nil
	case strings.HasPrefix(kind, "text/"):
		return Source{Text: string(content), Origin: OriginFile}, nil
	default:
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}

// Kind returns the detected MIME type of content without parameters.
func Kind(content []byte) string {
	m := mimetype.Detect(content).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}

// IsPDF reports whether content looks like a PDF document.
func IsPDF(content []byte) bool {
	return Kind(content) == mimePDF
}

// Extract validates the document, then concatenates the plain text of every
// page that has content. It returns the text and the page count.
func (e *Extractor) Extract(content []byte) (text string, pages int, err error) {
	// Both readers can panic on malformed streams.
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrExtract, rec)
		}
	}()

	pages, err = api.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: validate: %v", ErrExtract, err)
	}
	if e.MaxPages > 0 && pages > e.MaxPages {
		return "", pages, fmt.Errorf("%w: %d pages (max %d)", ErrTooManyPages, pages, e.MaxPages)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", pages, fmt.Errorf("%w: %v", ErrExtract, err)
	}

	var b strings.Builder
	for n := 1; n <= reader.NumPage(); n++ {
		page := reader.Page(n)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		pt, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(pt)
		b.WriteString("\n")
	}
	return b.String(), pages, nil
}
