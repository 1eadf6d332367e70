// Package mapping infers which source columns feed which canonical
// transaction fields.
package mapping

import (
	"strings"

	"github.com/yurifrl/budgetimport/pkg/models"
)

type synonymSet struct {
	field    string
	synonyms []string
}

// synonyms is ordered: fields earlier in the list claim headers first, and
// within a field earlier synonyms win.
var synonyms = []synonymSet{
	{models.FieldDate, []string{"date", "transaction date", "posted date", "posting date", "booking date", "value date", "data"}},
	{models.FieldAmount, []string{"amount", "transaction amount", "amt", "value", "valor", "sum"}},
	{models.FieldPayee, []string{"payee", "merchant", "description", "name", "counterparty", "lançamento"}},
	{models.FieldDescription, []string{"memo", "details", "narrative", "notes", "reference", "description"}},
	{models.FieldType, []string{"type", "transaction type", "dr/cr", "credit/debit", "debit/credit", "kind"}},
	{models.FieldCategory, []string{"category", "categoria"}},
	{models.FieldInflow, []string{"inflow", "credit", "deposit", "money in", "paid in"}},
	{models.FieldOutflow, []string{"outflow", "debit", "withdrawal", "money out", "paid out"}},
}

// substringOrder lets "Credit Amount" / "Debit Amount" style headers land on
// inflow and outflow before the looser amount match sees them.
var substringOrder = func() []synonymSet {
	byField := make(map[string]synonymSet, len(synonyms))
	for _, s := range synonyms {
		byField[s.field] = s
	}
	order := []string{
		models.FieldDate,
		models.FieldType,
		models.FieldInflow,
		models.FieldOutflow,
		models.FieldAmount,
		models.FieldPayee,
		models.FieldDescription,
		models.FieldCategory,
	}
	out := make([]synonymSet, 0, len(order))
	for _, f := range order {
		out = append(out, byField[f])
	}
	return out
}()

// keywords that mark a single combined column.
var combinedKeywords = map[string][]string{
	models.FieldDate:        {"date"},
	models.FieldAmount:      {"amount", "value"},
	models.FieldDescription: {"description", "payee", "merchant", "memo"},
}

// Infer builds a mapping from header names. Matching is case-insensitive: an
// exact pass over every field runs before a substring pass, and each header
// feeds at most one field.
func Infer(headers []string) models.FieldMapping {
	m := models.FieldMapping{}
	if len(headers) == 0 {
		return m
	}

	if len(headers) == 1 && isCombined(headers[0]) {
		m[models.FieldDate] = headers[0]
		m[models.FieldAmount] = headers[0]
		m[models.FieldPayee] = headers[0]
		return m
	}

	lower := make([]string, len(headers))
	for i, h := range headers {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	claimed := make(map[int]bool, len(headers))

	match := func(order []synonymSet, accept func(header, synonym string) bool) {
		for _, set := range order {
			if _, done := m[set.field]; done {
				continue
			}
		synonymLoop:
			for _, syn := range set.synonyms {
				for i, h := range lower {
					if claimed[i] || !accept(h, syn) {
						continue
					}
					m[set.field] = headers[i]
					claimed[i] = true
					break synonymLoop
				}
			}
		}
	}
	match(synonyms, func(h, syn string) bool { return h == syn })
	match(substringOrder, func(h, syn string) bool { return strings.Contains(h, syn) })

	return m
}

// Resolve infers a mapping and lays the caller's override on top. An override
// entry with an empty value unmaps that field.
func Resolve(headers []string, override models.FieldMapping) models.FieldMapping {
	m := Infer(headers)
	for field, source := range override {
		if source == "" {
			delete(m, field)
			continue
		}
		m[field] = source
	}
	return m
}

// IsCombined reports whether the mapping points date, amount and payee at the
// same column.
func IsCombined(m models.FieldMapping) bool {
	d, ok := m[models.FieldDate]
	if !ok || d == "" {
		return false
	}
	return m[models.FieldAmount] == d && m[models.FieldPayee] == d
}

func isCombined(header string) bool {
	lower := strings.ToLower(header)
	hits := 0
	for _, words := range combinedKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
				break
			}
		}
	}
	return hits >= 2
}
