// Package pdf turns submitted PDF documents into plain text.
package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/helixir/paper-review-service/internal/domain"
)

// Sentinel errors for document decoding. Both are reported to callers
// wrapped in a domain.ExtractionError.
var (
	// ErrNotPDF is returned when the payload does not carry a PDF header.
	ErrNotPDF = errors.New("pdf: content is not a PDF")
	// ErrTooLarge is returned when the decoded document exceeds the maximum size.
	ErrTooLarge = errors.New("pdf: document exceeds maximum size")
)

var pdfMagic = []byte("%PDF-")

// headerWindow is how far into the file the %PDF- marker may appear.
const headerWindow = 1024

// Document is a decoded PDF ready for text extraction.
type Document struct {
	// Content is the PDF bytes.
	Content []byte
	// ContentHash is the SHA-256 hex digest of the content.
	ContentHash string
	// SizeBytes is the size of the content in bytes.
	SizeBytes int64
}

// Decode accepts raw PDF bytes, base64 text, or a base64 data URL and returns
// the document bytes. maxBytes bounds the decoded size when positive.
func Decode(payload []byte, maxBytes int64) (*Document, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, domain.NewExtractionError("empty document", nil)
	}

	content := payload
	if !hasPDFHeader(payload) {
		decoded, err := decodeBase64(string(payload))
		if err != nil {
			return nil, domain.NewExtractionError("content is neither a PDF nor base64", err)
		}
		content = decoded
	}

	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, domain.NewExtractionError("document too large", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(content), maxBytes))
	}
	if !hasPDFHeader(content) {
		return nil, domain.NewExtractionError("missing %PDF- header", ErrNotPDF)
	}

	hash := sha256.Sum256(content)
	return &Document{
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		SizeBytes:   int64(len(content)),
	}, nil
}

func hasPDFHeader(b []byte) bool {
	if len(b) > headerWindow {
		b = b[:headerWindow]
	}
	return bytes.Contains(b, pdfMagic)
}

// decodeBase64 strips an optional data URL prefix and whitespace, then tries
// the standard and URL-safe alphabets, padded and unpadded.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[i+1:]
	}
	s = strings.Join(strings.Fields(s), "")

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
