package negotiation

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"marketplace/internal/apperr"
	"marketplace/internal/constants"
)

var (
	minPrice = decimal.RequireFromString("0.01")
	maxPrice = decimal.RequireFromString("999999.99")

	textPolicy = bluemonday.StrictPolicy()
)

func validatePrice(p decimal.Decimal) error {
	if p.LessThan(minPrice) || p.GreaterThan(maxPrice) {
		return apperr.New(apperr.Invalid, "Offered price must be between 0.01 and 999999.99")
	}
	if !p.Equal(p.Truncate(2)) {
		return apperr.New(apperr.Invalid, "Offered price can have at most 2 decimal places")
	}
	return nil
}

// maxSanitizePasses bounds how many layers of entity encoding cleanText
// unwraps before it gives up on the input.
const maxSanitizePasses = 8

// cleanText strips markup and surrounding space, then enforces max runes.
// The result is plain text: entities are decoded, and markup that only
// appears after decoding is stripped as well.
func cleanText(s string, max int, field string) (string, error) {
	clean := false
	for range maxSanitizePasses {
		next := html.UnescapeString(textPolicy.Sanitize(s))
		if next == s {
			clean = true
			break
		}
		s = next
	}
	if !clean {
		return "", apperr.Newf(apperr.Invalid, "%s contains markup", field)
	}

	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > max {
		return "", apperr.Newf(apperr.Invalid, "%s cannot exceed %d characters", field, max)
	}
	return s, nil
}

func (e *Engine) validityHours(h int) (int, error) {
	if h == 0 {
		return e.defaultValidityHours, nil
	}
	if h < 1 || h > constants.OfferMaxValidityHours {
		return 0, apperr.Newf(apperr.Invalid, "Validity must be between 1 and %d hours", constants.OfferMaxValidityHours)
	}
	return h, nil
}
