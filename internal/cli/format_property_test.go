package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property 9: Currency formatting groups thousands and preserves value
//
// For any amount, FormatCurrency should:
// 1. Have exactly 2 decimal places
// 2. Group the integer part in threes separated by commas
// 3. Preserve the numeric value when parsed back
func TestProperty9_CurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	grouped := regexp.MustCompile(`^-?\d{1,3}(,\d{3})*\.\d{2}$`)

	properties.Property("FormatCurrency produces grouped two-decimal format", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCurrency(amount)
			if !grouped.MatchString(formatted) {
				t.Logf("Invalid format for %f: %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatCurrency preserves value", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCurrency(amount)
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(formatted, ",", ""), 64)
			if err != nil {
				t.Logf("Unparseable %s: %v", formatted, err)
				return false
			}

			roundedAmount := math.Round(amount*100) / 100
			if math.Abs(parsed-roundedAmount) > 0.01 {
				t.Logf("Value not preserved: original=%f, formatted=%s, parsed=%f", amount, formatted, parsed)
				return false
			}
			return true
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent produces correct format", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)

			if !strings.HasSuffix(formatted, "%") {
				t.Logf("Expected %% suffix for %f, got %s", value, formatted)
				return false
			}
			if value > 0 && !strings.HasPrefix(formatted, "+") {
				t.Logf("Expected + prefix for positive %f, got %s", value, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatCompact uses correct units", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCompact(amount)
			abs := math.Abs(amount)

			switch {
			case abs >= 1e9:
				return strings.HasSuffix(formatted, "B")
			case abs >= 1e6:
				return strings.HasSuffix(formatted, "M")
			case abs >= 1e3:
				return strings.HasSuffix(formatted, "K")
			default:
				return grouped.MatchString(formatted)
			}
		},
		gen.Float64Range(-1e10, 1e10),
	))

	properties.TestingRun(t)
}

func TestFormatCurrencyExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "0.00"},
		{1, "1.00"},
		{999.999, "1,000.00"},
		{1000, "1,000.00"},
		{100000, "100,000.00"},
		{1234567.891, "1,234,567.89"},
		{-1234.56, "-1,234.56"},
		{-0.001, "0.00"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatCurrency(tc.amount)
			if result != tc.expected {
				t.Errorf("FormatCurrency(%f) = %s, want %s", tc.amount, result, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
		{-100, "-100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatPercent(tc.value)
			if result != tc.expected {
				t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, result, tc.expected)
			}
		})
	}
}
