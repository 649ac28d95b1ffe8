package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// priceRegex finds the first number-like token in a price string,
// tolerating thousand separators: "NZD 1,079.00", "$65.00", "From $9.99".
var priceRegex = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// ParsePrice extracts a monetary amount from free-form price text.
// Returns nil when the text carries no usable number ("Sold out",
// "Price TBA").
func ParsePrice(text string) *decimal.Decimal {
	if text == "" {
		return nil
	}

	found := priceRegex.FindString(text)
	if found == "" {
		return nil
	}

	d, err := decimal.NewFromString(strings.ReplaceAll(found, ",", ""))
	if err != nil {
		return nil
	}
	return &d
}
