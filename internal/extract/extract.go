// Package extract pulls plain text out of uploaded documents and validates
// media uploads before transcription.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/pavelanni/papergen/internal/apperr"
)

// MaxTextLength is the longest document or transcript accepted, in
// characters.
const MaxTextLength = 15000

// MaxDocumentSize bounds the bytes read from an uploaded document.
const MaxDocumentSize = 10 << 20

// DocumentExtensions lists the supported document formats.
var DocumentExtensions = []string{".txt", ".md", ".docx", ".pdf"}

// Document extracts the text of the named file. The format is chosen by
// extension. Empty documents and documents over MaxTextLength are rejected.
func Document(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > MaxDocumentSize {
		return "", apperr.InvalidRequest("file too large, maximum size is %d MB", MaxDocumentSize>>20)
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".txt", ".md":
		if !utf8.Valid(data) {
			return "", apperr.InvalidRequest("%s is not valid UTF-8 text", name)
		}
		text = string(data)
	case ".docx":
		text, err = docxText(data)
	case ".pdf":
		text, err = pdfText(data)
	default:
		return "", apperr.InvalidRequest("unsupported file format %q, upload one of %s", ext, strings.Join(DocumentExtensions, ", "))
	}
	if err != nil {
		return "", apperr.InvalidRequest("extract text from %s: %v", name, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.InvalidRequest("no text could be extracted from %s", name)
	}
	if err := CheckLength(text); err != nil {
		return "", err
	}
	return text, nil
}

// CheckLength rejects text longer than MaxTextLength characters.
func CheckLength(text string) error {
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return apperr.InvalidRequest("text is too long: maximum %d characters allowed, got %d", MaxTextLength, n)
	}
	return nil
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
