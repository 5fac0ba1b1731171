package util

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	reThousandsDot   = regexp.MustCompile(`^[1-9]\d{0,2}(?:\.\d{3}){2,}$`)
	reThousandsComma = regexp.MustCompile(`^[1-9]\d{0,2}(?:,\d{3})+$`)
	reMeasureSplit   = regexp.MustCompile(`[\sxX*-]+`)
	reMeasurePipe    = regexp.MustCompile(`\s*[|]\s*`)
	reNumericToken   = regexp.MustCompile(`^-?[0-9.,][0-9.,\s]*$`)

	ErrEmptyNumber   = errors.New("empty number")
	ErrInvalidNumber = errors.New("invalid number")
)

// ParseDecimal reads vendor numerics such as "$1,234.50", "1 234", "1,5" or "0.30ct".
// Anything other than a currency mark or unit around the digits is rejected.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	token, err := normalizeNumericToken(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(token)
}

// ParseDecimalPtr returns nil when the value is absent or unparseable.
func ParseDecimalPtr(raw string) *decimal.Decimal {
	d, err := ParseDecimal(raw)
	if err != nil {
		return nil
	}
	return &d
}

var (
	numericPrefixes = []string{"us$", "usd", "eur", "$", "€", "£"}
	numericSuffixes = []string{"carats", "carat", "cts", "ct", "usd", "mm", "%", "$"}
)

func trimNumericAffixes(s string) string {
	for changed := true; changed; {
		changed = false
		for _, p := range numericPrefixes {
			if rest, ok := strings.CutPrefix(s, p); ok {
				s, changed = strings.TrimSpace(rest), true
			}
		}
		for _, suf := range numericSuffixes {
			if rest, ok := strings.CutSuffix(s, suf); ok {
				s, changed = strings.TrimSpace(rest), true
			}
		}
	}
	return s
}

func normalizeNumericToken(token string) (string, error) {
	s := trimNumericAffixes(strings.ToLower(strings.TrimSpace(token)))
	if s == "" || s == "-" {
		return "", ErrEmptyNumber
	}
	if !reNumericToken.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, token)
	}
	compact := strings.Join(strings.Fields(s), "")

	if reThousandsDot.MatchString(compact) {
		return strings.ReplaceAll(compact, ".", ""), nil
	}
	if reThousandsComma.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", ""), nil
	}
	if strings.Contains(compact, ",") && strings.Contains(compact, ".") {
		return strings.ReplaceAll(compact, ",", ""), nil
	}
	if strings.Count(compact, ",") == 1 {
		return strings.ReplaceAll(compact, ",", "."), nil
	}
	return compact, nil
}

// SplitMeasurements splits "5.1x5.2x3.1", "5.1*5.2*3.1" or "5.1-5.2x3.1" into
// three parts. ok is false unless exactly three parts are present.
func SplitMeasurements(raw string) (length, width, depth string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", false
	}
	parts := reMeasureSplit.Split(raw, -1)
	if len(parts) != 3 {
		parts = reMeasurePipe.Split(raw, -1)
	}
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

var feedDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"01/02/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// ParseFeedDate accepts the date layouts vendors have been seen to emit.
func ParseFeedDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range feedDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, errors.New("unsupported date format")
}

func StringPtr(v string) *string {
	return &v
}

func Int64Ptr(v int64) *int64 {
	return &v
}
