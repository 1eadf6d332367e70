package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMode decides how a rule combines its conditions.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

type RuleAction struct {
	CategoryID string   `json:"category_id"`
	AddTags    []string `json:"add_tags,omitempty"`
}

// Rule is a categorization rule. Lower Priority values are evaluated first.
// A rule without conditions never matches.
type Rule struct {
	ID            string
	Name          string
	IsActive      bool
	Priority      int
	Mode          MatchMode
	Conditions    []Condition
	Action        RuleAction
	MatchCount    int
	LastMatchDate *time.Time
}

// Condition is one of TextCondition, AmountCondition or MetadataCondition.
type Condition interface {
	Negated() bool
	condition()
}

type TextField string

const (
	TextPayee       TextField = "payee"
	TextDescription TextField = "description"
)

type TextOperator string

const (
	TextContains   TextOperator = "contains"
	TextEquals     TextOperator = "equals"
	TextStartsWith TextOperator = "startsWith"
	TextEndsWith   TextOperator = "endsWith"
	TextRegex      TextOperator = "regex"
)

type TextCondition struct {
	Field         TextField
	Operator      TextOperator
	Value         string
	CaseSensitive bool
	IsNegated     bool
}

type AmountOperator string

const (
	AmountEquals      AmountOperator = "equals"
	AmountGreaterThan AmountOperator = "greaterThan"
	AmountLessThan    AmountOperator = "lessThan"
	AmountBetween     AmountOperator = "between"
)

// AmountCondition compares against the non-negative transaction amount.
// Value2 is required for AmountBetween.
type AmountCondition struct {
	Operator  AmountOperator
	Value     decimal.Decimal
	Value2    *decimal.Decimal
	IsNegated bool
}

type MetadataField string

const (
	MetaAccount MetadataField = "account"
	MetaType    MetadataField = "type"
	MetaDate    MetadataField = "date"
	MetaTags    MetadataField = "tags"
)

type DateOperator string

const (
	DateBefore DateOperator = "before"
	DateAfter  DateOperator = "after"
	DateOn     DateOperator = "on"
)

// MetadataCondition matches account ids, types or tags against Values (any
// of), or the transaction date against Date using DateOperator.
type MetadataCondition struct {
	Field        MetadataField
	Values       []string
	DateOperator DateOperator
	Date         time.Time
	IsNegated    bool
}

func (c TextCondition) Negated() bool     { return c.IsNegated }
func (c AmountCondition) Negated() bool   { return c.IsNegated }
func (c MetadataCondition) Negated() bool { return c.IsNegated }

func (TextCondition) condition()     {}
func (AmountCondition) condition()   {}
func (MetadataCondition) condition() {}

// Negate returns c with its negation flag flipped.
func Negate(c Condition) Condition {
	switch v := c.(type) {
	case TextCondition:
		v.IsNegated = !v.IsNegated
		return v
	case AmountCondition:
		v.IsNegated = !v.IsNegated
		return v
	case MetadataCondition:
		v.IsNegated = !v.IsNegated
		return v
	}
	return c
}

// RuleStatsUpdate describes the statistics a caller should persist for a rule
// after a categorization pass.
type RuleStatsUpdate struct {
	RuleID        string    `json:"rule_id"`
	MatchCount    int       `json:"match_count"`
	LastMatchDate time.Time `json:"last_match_date"`
}
