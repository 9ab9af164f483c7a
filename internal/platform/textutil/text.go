package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// StripMarkup removes HTML from free text, collapses whitespace and trims the result.
// Entities are decoded again so the stored text reads as the customer typed it.
func StripMarkup(value string) string {
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(policy().Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return ' '
		}
		return r
	}, cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// RuneLength counts characters rather than bytes.
func RuneLength(value string) int {
	return utf8.RuneCountInString(value)
}

// NormalizeCode folds full-width characters, applies NFKC, drops spaces and upper-cases
// the result so "ｓａｖｅ １０" and "SAVE10" look up the same discount.
func NormalizeCode(code string) string {
	folded := norm.NFKC.String(width.Fold.String(code))
	folded = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
	return strings.ToUpper(folded)
}

// NormalizeStringMap trims keys and values, removing entries with empty keys or values.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
