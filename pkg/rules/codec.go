package rules

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/yurifrl/budgetimport/pkg/models"
)

const (
	KindText     = "text"
	KindAmount   = "amount"
	KindMetadata = "metadata"
)

// File is the on-disk layout of a rules file.
type File struct {
	Rules []RuleSpec `yaml:"rules" json:"rules"`
}

// RuleSpec is the serialized form of a rule, shared by the YAML rules file
// and the JSON rule store.
type RuleSpec struct {
	ID            string          `yaml:"id" json:"id"`
	Name          string          `yaml:"name" json:"name"`
	Active        *bool           `yaml:"active,omitempty" json:"active,omitempty"`
	Priority      int             `yaml:"priority" json:"priority"`
	Mode          string          `yaml:"mode,omitempty" json:"mode,omitempty"`
	Conditions    []ConditionSpec `yaml:"conditions" json:"conditions"`
	Action        ActionSpec      `yaml:"action" json:"action"`
	MatchCount    int             `yaml:"match_count,omitempty" json:"match_count,omitempty"`
	LastMatchDate *time.Time      `yaml:"last_match_date,omitempty" json:"last_match_date,omitempty"`
}

type ActionSpec struct {
	Category string   `yaml:"category" json:"category"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// ConditionSpec flattens the three condition variants. Kind selects which
// fields apply.
type ConditionSpec struct {
	Kind          string   `yaml:"kind" json:"kind"`
	Field         string   `yaml:"field,omitempty" json:"field,omitempty"`
	Operator      string   `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value         string   `yaml:"value,omitempty" json:"value,omitempty"`
	Value2        string   `yaml:"value2,omitempty" json:"value2,omitempty"`
	Values        []string `yaml:"values,omitempty" json:"values,omitempty"`
	CaseSensitive bool     `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
	Negate        bool     `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// LoadFile reads a YAML rules file.
func LoadFile(path string) ([]models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML rules.
func Parse(data []byte) ([]models.Rule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return Decode(f.Rules)
}

// Marshal encodes rules as a YAML rules file.
func Marshal(rules []models.Rule) ([]byte, error) {
	return yaml.Marshal(File{Rules: Encode(rules)})
}

// Decode validates specs and converts them into rules.
func Decode(specs []RuleSpec) ([]models.Rule, error) {
	out := make([]models.Rule, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("rule %d: missing id", i+1)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", s.ID)
		}
		seen[s.ID] = true

		mode := models.MatchAll
		switch strings.ToLower(s.Mode) {
		case "", "all", "and":
		case "any", "or":
			mode = models.MatchAny
		default:
			return nil, fmt.Errorf("rule %s: unknown mode %q", s.ID, s.Mode)
		}

		rule := models.Rule{
			ID:            s.ID,
			Name:          s.Name,
			IsActive:      s.Active == nil || *s.Active,
			Priority:      s.Priority,
			Mode:          mode,
			Action:        models.RuleAction{CategoryID: s.Action.Category, AddTags: s.Action.Tags},
			MatchCount:    s.MatchCount,
			LastMatchDate: s.LastMatchDate,
		}
		for j, cs := range s.Conditions {
			c, err := decodeCondition(cs)
			if err != nil {
				return nil, fmt.Errorf("rule %s: condition %d: %w", s.ID, j+1, err)
			}
			rule.Conditions = append(rule.Conditions, c)
		}
		out = append(out, rule)
	}
	return out, nil
}

func decodeCondition(cs ConditionSpec) (models.Condition, error) {
	switch strings.ToLower(cs.Kind) {
	case KindText:
		field := models.TextField(cs.Field)
		if field == "" {
			field = models.TextPayee
		}
		if field != models.TextPayee && field != models.TextDescription {
			return nil, fmt.Errorf("unknown text field %q", cs.Field)
		}
		op := models.TextOperator(cs.Operator)
		switch op {
		case models.TextContains, models.TextEquals, models.TextStartsWith, models.TextEndsWith, models.TextRegex:
		default:
			return nil, fmt.Errorf("unknown text operator %q", cs.Operator)
		}
		return models.TextCondition{
			Field:         field,
			Operator:      op,
			Value:         cs.Value,
			CaseSensitive: cs.CaseSensitive,
			IsNegated:     cs.Negate,
		}, nil

	case KindAmount:
		op := models.AmountOperator(cs.Operator)
		switch op {
		case models.AmountEquals, models.AmountGreaterThan, models.AmountLessThan, models.AmountBetween:
		default:
			return nil, fmt.Errorf("unknown amount operator %q", cs.Operator)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(cs.Value))
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", cs.Value, err)
		}
		c := models.AmountCondition{Operator: op, Value: v, IsNegated: cs.Negate}
		if op == models.AmountBetween {
			if cs.Value2 == "" {
				return nil, fmt.Errorf("between requires value2")
			}
			v2, err := decimal.NewFromString(strings.TrimSpace(cs.Value2))
			if err != nil {
				return nil, fmt.Errorf("invalid amount %q: %w", cs.Value2, err)
			}
			c.Value2 = &v2
		}
		return c, nil

	case KindMetadata:
		c := models.MetadataCondition{Field: models.MetadataField(cs.Field), IsNegated: cs.Negate}
		switch c.Field {
		case models.MetaAccount, models.MetaType, models.MetaTags:
			c.Values = cs.Values
			if len(c.Values) == 0 && cs.Value != "" {
				c.Values = []string{cs.Value}
			}
		case models.MetaDate:
			c.DateOperator = models.DateOperator(cs.Operator)
			switch c.DateOperator {
			case models.DateBefore, models.DateAfter, models.DateOn:
			default:
				return nil, fmt.Errorf("unknown date operator %q", cs.Operator)
			}
			d, err := time.Parse("2006-01-02", strings.TrimSpace(cs.Value))
			if err != nil {
				return nil, fmt.Errorf("invalid date %q: %w", cs.Value, err)
			}
			c.Date = d
		default:
			return nil, fmt.Errorf("unknown metadata field %q", cs.Field)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown condition kind %q", cs.Kind)
}

// Encode converts rules into their serialized form.
func Encode(rules []models.Rule) []RuleSpec {
	out := make([]RuleSpec, 0, len(rules))
	for _, r := range rules {
		active := r.IsActive
		s := RuleSpec{
			ID:            r.ID,
			Name:          r.Name,
			Active:        &active,
			Priority:      r.Priority,
			Mode:          string(r.Mode),
			Action:        ActionSpec{Category: r.Action.CategoryID, Tags: r.Action.AddTags},
			MatchCount:    r.MatchCount,
			LastMatchDate: r.LastMatchDate,
		}
		for _, c := range r.Conditions {
			s.Conditions = append(s.Conditions, encodeCondition(c))
		}
		out = append(out, s)
	}
	return out
}

func encodeCondition(c models.Condition) ConditionSpec {
	switch v := c.(type) {
	case models.TextCondition:
		return ConditionSpec{
			Kind:          KindText,
			Field:         string(v.Field),
			Operator:      string(v.Operator),
			Value:         v.Value,
			CaseSensitive: v.CaseSensitive,
			Negate:        v.IsNegated,
		}
	case models.AmountCondition:
		s := ConditionSpec{Kind: KindAmount, Operator: string(v.Operator), Value: v.Value.String(), Negate: v.IsNegated}
		if v.Value2 != nil {
			s.Value2 = v.Value2.String()
		}
		return s
	case models.MetadataCondition:
		s := ConditionSpec{Kind: KindMetadata, Field: string(v.Field), Values: v.Values, Negate: v.IsNegated}
		if v.Field == models.MetaDate {
			s.Operator = string(v.DateOperator)
			s.Value = v.Date.Format("2006-01-02")
		}
		return s
	}
	return ConditionSpec{}
}
