// Package latex normalizes the math delimiters in model output so the
// chat front end (marked + KaTeX) renders them.
package latex

import (
	"regexp"
	"strings"
)

var (
	displayRe = regexp.MustCompile(`(?s)\\\[(.*?)\\\]`)
	inlineRe  = regexp.MustCompile(`\\\((.*?)\\\)`)
	blockRe   = regexp.MustCompile(`(?s)\$\$(.*?)\$\$`)
)

// Normalize rewrites \[...\] as $$...$$ and \(...\) as $...$ and trims the
// result. Display math may span lines; inline math may not.
func Normalize(text string) string {
	text = displayRe.ReplaceAllString(text, "$$$$${1}$$$$")
	text = inlineRe.ReplaceAllString(text, "$$${1}$$")
	return strings.TrimSpace(text)
}

// SpaceBlocks puts every $$...$$ block on its own lines.
func SpaceBlocks(text string) string {
	return blockRe.ReplaceAllString(text, "\n$$$$${1}$$$$\n")
}

// Format applies Normalize then SpaceBlocks.
func Format(text string) string {
	return SpaceBlocks(Normalize(text))
}
