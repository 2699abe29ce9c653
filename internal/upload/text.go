package upload

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TextParser accepts UTF-8 text and markdown.
type TextParser struct{}

func (p *TextParser) Extensions() []string { return []string{".txt", ".md", ".tex"} }
func (p *TextParser) ContentTypes() []string {
	return []string{"text/plain", "text/markdown", "text/x-tex"}
}

func (p *TextParser) Parse(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedType)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
