// Package pricing holds the pure money math for quote lines: line totals,
// quote totals, grouping for display and cent formatting. Nothing here does I/O.
package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the derived sums of a line set, in integer cents
type Totals struct {
	SubtotalCents int64
	DiscountCents int64
	TotalCents    int64
}

// Subtotal returns the subtotal in major currency units
func (t Totals) Subtotal() decimal.Decimal { return CentsToMajor(t.SubtotalCents) }

// Discount returns the discount in major currency units
func (t Totals) Discount() decimal.Decimal { return CentsToMajor(t.DiscountCents) }

// Total returns the total in major currency units
func (t Totals) Total() decimal.Decimal { return CentsToMajor(t.TotalCents) }

// LineTotalCents returns quantity * unitAmountCents rounded to a whole cent.
// The result is the line's magnitude; discount lines are not negated here.
func LineTotalCents(line domain.QuoteLine) int64 {
	if line.Quantity <= 0 || line.UnitAmountCents <= 0 {
		return 0
	}
	total := decimal.NewFromFloat(line.Quantity).
		Mul(decimal.NewFromInt(line.UnitAmountCents)).
		Round(0)
	if total.GreaterThan(maxCents) {
		return math.MaxInt64
	}
	return total.IntPart()
}

var maxCents = decimal.NewFromInt(math.MaxInt64)

// addCents saturates at math.MaxInt64 instead of wrapping
func addCents(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// ComputeTotals sums non-discount lines into the subtotal and discount lines
// into the discount. The total never goes below zero.
func ComputeTotals(lines []domain.QuoteLine) Totals {
	var t Totals
	for _, line := range lines {
		amount := LineTotalCents(line)
		if line.IsDiscount() {
			t.DiscountCents = addCents(t.DiscountCents, amount)
		} else {
			t.SubtotalCents = addCents(t.SubtotalCents, amount)
		}
	}
	t.TotalCents = t.SubtotalCents - t.DiscountCents
	if t.TotalCents < 0 {
		t.TotalCents = 0
	}
	return t
}

// LineGroup is a run of lines sharing a group key
type LineGroup struct {
	Key   string
	Lines []domain.QuoteLine
}

// NetCents returns the group's non-discount sum minus its discount sum
func (g LineGroup) NetCents() int64 {
	t := ComputeTotals(g.Lines)
	return t.SubtotalCents - t.DiscountCents
}

// GroupLinesByKey groups lines by GroupKey. Groups appear in order of first
// occurrence and lines keep their original order within each group.
func GroupLinesByKey(lines []domain.QuoteLine) []LineGroup {
	groups := make([]LineGroup, 0)
	index := make(map[string]int)
	for _, line := range lines {
		i, ok := index[line.GroupKey]
		if !ok {
			i = len(groups)
			index[line.GroupKey] = i
			groups = append(groups, LineGroup{Key: line.GroupKey})
		}
		groups[i].Lines = append(groups[i].Lines, line)
	}
	return groups
}

// CentsToMajor converts integer cents to major units
func CentsToMajor(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// MajorToCents converts a major-unit amount to integer cents, rounding half away from zero
func MajorToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FormatCents renders cents for humans, e.g. "$5,050.00" or "1,250.50 EUR"
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := groupThousands(cents / 100)
	amount := fmt.Sprintf("%s.%02d", whole, cents%100)

	switch strings.ToLower(currency) {
	case "usd", "":
		return sign + "$" + amount
	case "eur":
		return sign + amount + " EUR"
	case "gbp":
		return sign + "£" + amount
	default:
		return sign + amount + " " + strings.ToUpper(currency)
	}
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
