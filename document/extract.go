package document

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var extensions = []string{".pdf", ".txt", ".md"}

func Extensions() []string {
	return extensions
}

func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}

	return false
}

// Extract returns the plain text of a document, choosing the format by the
// extension of name. Documents with no text yield ErrEmptyDocument.
func Extract(name string, data []byte) (string, error) {
	var (
		text string
		err  error
	)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		text, err = extractPDF(data)
	case ".txt", ".md":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrEmptyDocument, name)
		}

		text = string(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}

	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEmptyDocument, err)
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyDocument, name)
	}

	return text, nil
}

func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	bs, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}

	return string(bs), nil
}
