package normalize

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/models"
)

var (
	errEmptyValue    = errors.New("empty value")
	errInvalidAmount = errors.New("invalid amount")
	errInvalidDate   = errors.New("invalid date")
)

var incomeKeywords = []string{"deposit", "credit", "income"}

// ParseAmount parses a signed amount. Currency symbols and codes are dropped;
// parentheses and a minus sign anywhere mean negative. When both separators
// appear the rightmost is the decimal one; a lone comma followed by at most
// two digits is a decimal comma.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmptyValue
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' || r == '−':
			neg = true
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return decimal.Zero, errInvalidAmount
	}

	lastDot, lastComma := strings.LastIndex(num, "."), strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(num, ",") == 1 && len(num)-lastComma-1 <= 2 {
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case strings.Count(num, ".") > 1:
		num = strings.ReplaceAll(num, ".", "")
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, errInvalidAmount
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// InferType applies the fixed precedence: an explicit type value decides
// first, the sign of the amount only when no explicit value exists.
func InferType(explicit string, signed decimal.Decimal) models.TransactionType {
	if e := strings.ToLower(strings.TrimSpace(explicit)); e != "" {
		for _, kw := range incomeKeywords {
			if strings.Contains(e, kw) {
				return models.Income
			}
		}
		return models.Expense
	}
	if signed.Sign() >= 0 {
		return models.Income
	}
	return models.Expense
}
