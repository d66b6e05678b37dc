package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/helixir/paper-review-service/internal/domain"
)

// Config holds extractor settings.
type Config struct {
	// MaxBytes caps the decoded document size. Zero means unlimited.
	MaxBytes int64
	// MaxTextRunes truncates the extracted text. Zero means unlimited.
	MaxTextRunes int
}

// Extractor converts PDF payloads to plain text.
type Extractor struct {
	maxBytes int64
	maxRunes int
	parse    func(r io.ReaderAt, size int64) (string, error)
}

// NewExtractor creates an extractor backed by github.com/ledongthuc/pdf.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{
		maxBytes: cfg.MaxBytes,
		maxRunes: cfg.MaxTextRunes,
		parse:    plainText,
	}
}

// Extract decodes payload and returns its text. Any failure is a
// domain.ExtractionError except cancellation, which returns ctx.Err().
func (e *Extractor) Extract(ctx context.Context, payload []byte) (string, error) {
	doc, err := Decode(payload, e.maxBytes)
	if err != nil {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := e.parse(bytes.NewReader(doc.Content), doc.SizeBytes)
		done <- result{text, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return "", domain.NewExtractionError("unreadable PDF", res.err)
	}

	text := normalizeText(res.text)
	if text == "" {
		return "", domain.NewExtractionError("no extractable text", nil)
	}
	return truncateRunes(text, e.maxRunes), nil
}

// plainText runs the parser, converting its panics on malformed input into
// errors.
func plainText(r io.ReaderAt, size int64) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parser panicked: %v", p)
		}
	}()

	reader, err := lpdf.NewReader(r, size)
	if err != nil {
		return "", err
	}
	body, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalizeText drops control characters, collapses runs of blanks and
// limits consecutive empty lines to one.
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Map(func(r rune) rune {
			if r == '\t' {
				return ' '
			}
			if unicode.IsControl(r) || r == unicode.ReplacementChar {
				return -1
			}
			return r
		}, line)
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
