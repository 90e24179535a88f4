package services

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UtilityService provides the text normalization shared by matching,
// profile writes and grant loading. It holds no state and is safe for
// concurrent use.
type UtilityService struct{}

// NewUtilityService creates a new utility service instance
func NewUtilityService() *UtilityService {
	return &UtilityService{}
}

// StripDiacritics folds accented letters onto their base letter
// ("subvención" -> "subvencion", "Cataluña" -> "Cataluna").
func (s *UtilityService) StripDiacritics(text string) string {
	// transform chains keep internal buffers, so one is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// NormalizeText lower-cases, strips diacritics and replaces every rune
// that is not a letter or digit with a single space
func (s *UtilityService) NormalizeText(text string) string {
	if text == "" {
		return ""
	}

	folded := strings.ToLower(s.StripDiacritics(text))

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}

	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into tokens
func (s *UtilityService) Tokenize(text string) []string {
	return strings.Fields(s.NormalizeText(text))
}

// TokenSet returns the distinct tokens of text
func (s *UtilityService) TokenSet(text string) map[string]struct{} {
	tokens := s.Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// NormalizeKeywords normalizes each keyword, dropping empties and
// duplicates while keeping first-seen order
func (s *UtilityService) NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	normalized := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		n := s.NormalizeText(keyword)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	return normalized
}

// CleanList trims values and removes empty and case-insensitive duplicate
// entries, keeping the caller's spelling of the first occurrence
func (s *UtilityService) CleanList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.Join(strings.Fields(value), " ")
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, value)
	}
	return cleaned
}

// StripMarkup returns the visible text of an HTML fragment. Plain text is
// returned with whitespace collapsed.
func (s *UtilityService) StripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return strings.Join(strings.Fields(text), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "UtilityService",
			"error":     err,
		}).Debug("Failed to parse markup, keeping raw text")
		return strings.Join(strings.Fields(text), " ")
	}

	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
