package textutil

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from operator supplied free text (notes, reasons, instructions),
// normalises it to NFC and truncates it to limit runes. A non-positive limit disables truncation.
func PlainText(value string, limit int) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	cleaned := plainTextPolicy.Sanitize(value)
	// StrictPolicy escapes entities; the stored value is plain text, not HTML.
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.TrimSpace(norm.NFC.String(cleaned))
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}

// NormalizeCode folds identifiers such as SKUs and enum values typed by hand: full-width
// characters become ASCII, surrounding space is removed and letters are upper-cased.
func NormalizeCode(value string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(value)))
}

// NormalizeCurrency validates an ISO 4217 code and returns its canonical form.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(NormalizeCode(code))
	if err != nil {
		return "", fmt.Errorf("textutil: invalid currency %q: %w", code, err)
	}
	return unit.String(), nil
}
