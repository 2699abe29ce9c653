// Package upload extracts text from files students attach to a question.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned for files no parser accepts.
var ErrUnsupportedType = errors.New("unsupported file type")

// ErrEmptyDocument is returned when a file holds no extractable text.
var ErrEmptyDocument = errors.New("document contains no text")

// Parser extracts plain text from one document format.
type Parser interface {
	Parse(r io.Reader) (string, error)
	// Extensions lists lower-case extensions, dot included.
	Extensions() []string
	// ContentTypes lists accepted MIME types.
	ContentTypes() []string
}

// File is an uploaded attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Registry picks a parser by content type, then by extension.
type Registry struct {
	parsers []Parser
}

// NewRegistry returns a registry with the PDF, DOCX and text parsers.
func NewRegistry() *Registry {
	return &Registry{parsers: []Parser{&PDFParser{}, &DocxParser{}, &TextParser{}}}
}

// Lookup returns the parser for f or ErrUnsupportedType.
func (r *Registry) Lookup(f *File) (Parser, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(f.ContentType, ";", 2)[0]))
	if ct != "" && ct != "application/octet-stream" {
		for _, p := range r.parsers {
			for _, c := range p.ContentTypes() {
				if c == ct {
					return p, nil
				}
			}
		}
	}
	ext := strings.ToLower(filepath.Ext(f.Name))
	for _, p := range r.parsers {
		for _, e := range p.Extensions() {
			if e == ext {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, f.Name, f.ContentType)
}

// Extract returns the text of f.
func (r *Registry) Extract(f *File) (string, error) {
	p, err := r.Lookup(f)
	if err != nil {
		return "", err
	}
	text, err := p.Parse(bytes.NewReader(f.Data))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return text, nil
}

const (
	uploadHeader   = "[Uploaded problem / reference material]"
	questionHeader = "[Student question / notes]"
)

// BuildUserInput merges the typed text with an optional attachment into the
// single user message of a turn. Without a file it returns the trimmed text.
func (r *Registry) BuildUserInput(text string, f *File) (string, error) {
	text = strings.TrimSpace(text)
	if f == nil {
		return text, nil
	}
	fileText, err := r.Extract(f)
	if err != nil {
		return "", err
	}
	return uploadHeader + "\n" + fileText + "\n\n" + questionHeader + "\n" + text, nil
}
