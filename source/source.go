// Package source loads the text to be chunked from files. PDFs are reduced to
// their plain text; every other file is read as UTF-8 text.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a file holds no extractable text
var ErrNoText = errors.New("no text found")

// ErrInvalidEncoding is returned for non-PDF files that are not valid UTF-8
var ErrInvalidEncoding = errors.New("file is not valid UTF-8")

// ReadText returns the text content of path
func ReadText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	text, err := ReadPlainText(f)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return text, nil
}

// ReadPlainText reads UTF-8 text from r
func ReadPlainText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidEncoding
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", ErrNoText
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract text from %s: %w", path, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read text from %s: %w", path, err)
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoText)
	}
	return text, nil
}
