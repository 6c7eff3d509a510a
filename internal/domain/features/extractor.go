// Package features derives comparable features from raw submission text.
package features

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/okian/assay/internal/domain/model"
)

// MaxAbstractLength bounds the extracted abstract, in characters.
const MaxAbstractLength = 1000

// Extractor turns submission text into ExtractedFeatures. Implementations
// must be deterministic.
type Extractor interface {
	Extract(text string) model.ExtractedFeatures
}

var (
	abstractHeading = regexp.MustCompile(`(?im)^\s*#*\s*abstract\s*[:.]?\s*$|^\s*abstract\s*[:.]\s*`)
	blankLine       = regexp.MustCompile(`\n\s*\n`)
	whitespace      = regexp.MustCompile(`\s+`)

	displayMath = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	bracketMath = regexp.MustCompile(`(?s)\\\[(.+?)\\\]`)
	inlineMath  = regexp.MustCompile(`\$([^$\n]+?)\$`)
	equation    = regexp.MustCompile(`(?m)^\s*([A-Za-z\\][\w\\^{}()]*\s*=\s*[^=\n,;]+?)\s*[.,;]?\s*$`)

	namedConstant = regexp.MustCompile(`(?i)\b(pi|planck(?:'s)? constant|boltzmann(?:'s)? constant|avogadro(?:'s)? (?:number|constant)|speed of light|gravitational constant|fine[- ]structure constant|euler(?:'s)? (?:number|constant)|golden ratio)\b|[πħαφ]|\\(?:pi|hbar|alpha|phi)\b`)
	sciLiteral    = regexp.MustCompile(`\b\d+(?:\.\d+)?[eE][-+]?\d+\b|\b\d+(?:\.\d+)?\s?×\s?10\^-?\d+\b`)
)

// RegexExtractor extracts features with regular expressions and simple
// heuristics over the submission text.
type RegexExtractor struct {
	maxAbstract int
}

// Option configures a RegexExtractor.
type Option func(*RegexExtractor)

// WithMaxAbstract overrides the abstract length limit.
func WithMaxAbstract(n int) Option {
	return func(e *RegexExtractor) {
		if n > 0 && n <= MaxAbstractLength {
			e.maxAbstract = n
		}
	}
}

// NewRegexExtractor creates a RegexExtractor.
func NewRegexExtractor(opts ...Option) *RegexExtractor {
	e := &RegexExtractor{maxAbstract: MaxAbstractLength}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract implements Extractor.
func (e *RegexExtractor) Extract(text string) model.ExtractedFeatures {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return model.ExtractedFeatures{
		Abstract:  e.abstract(text),
		Formulas:  formulas(text),
		Constants: constants(text),
	}
}

// abstract prefers the paragraph after an "Abstract" heading and falls back
// to the first non-empty paragraph.
func (e *RegexExtractor) abstract(text string) string {
	body := text
	if loc := abstractHeading.FindStringIndex(text); loc != nil {
		body = text[loc[1]:]
	}
	var para string
	for _, p := range blankLine.Split(body, -1) {
		if strings.TrimSpace(p) != "" {
			para = p
			break
		}
	}
	para = strings.TrimSpace(whitespace.ReplaceAllString(para, " "))
	return truncateRunes(para, e.maxAbstract)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func formulas(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(tok string) {
		tok = strings.TrimSpace(whitespace.ReplaceAllString(tok, " "))
		if tok == "" {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	rest := text
	for _, re := range []*regexp.Regexp{displayMath, bracketMath} {
		for _, m := range re.FindAllStringSubmatch(rest, -1) {
			add(m[1])
		}
		rest = re.ReplaceAllString(rest, " ")
	}
	for _, m := range inlineMath.FindAllStringSubmatch(rest, -1) {
		add(m[1])
	}
	rest = inlineMath.ReplaceAllString(rest, " ")
	for _, m := range equation.FindAllStringSubmatch(rest, -1) {
		add(m[1])
	}
	return out
}

func constants(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{namedConstant, sciLiteral} {
		for _, tok := range re.FindAllString(text, -1) {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}
