package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType carries the sign semantics of a transaction. Amounts are
// always stored as non-negative values.
type TransactionType string

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

// Transaction is the canonical record produced by an import.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Date         time.Time       `json:"date"`
	Payee        string          `json:"payee"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TransactionType `json:"type"`
	CategoryID   *string         `json:"category_id,omitempty"`
	Description  string          `json:"description"`
	IsCleared    bool            `json:"is_cleared"`
	IsReconciled bool            `json:"is_reconciled"`
	Tags         []string        `json:"tags,omitempty"`
	// SourceID is the source-native identifier ID was derived from. Empty when
	// the ID was synthesized.
	SourceID  string    `json:"source_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Signed returns the amount with the sign implied by Type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Category returns the category id or an empty string.
func (t Transaction) Category() string {
	if t.CategoryID == nil {
		return ""
	}
	return *t.CategoryID
}

// HasTag reports whether tag is present, ignoring case.
func (t Transaction) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if strings.EqualFold(existing, tag) {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with t.
func (t Transaction) Clone() Transaction {
	out := t
	if t.CategoryID != nil {
		c := *t.CategoryID
		out.CategoryID = &c
	}
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	return out
}

// MergeTags appends tags that are not present yet, keeping first-seen order.
func MergeTags(current []string, add ...string) []string {
	out := append([]string(nil), current...)
	seen := make(map[string]struct{}, len(out)+len(add))
	for _, tag := range out {
		seen[tag] = struct{}{}
	}
	for _, tag := range add {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
