// Package rules evaluates categorization rules against transactions. The
// engine never mutates rules; match statistics are returned for the caller to
// persist.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yurifrl/budgetimport/pkg/models"
)

type Option func(*Engine)

// WithClock replaces time.Now for LastMatchDate.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	logger *log.Logger
	now    func() time.Time
}

func New(logger *log.Logger, opts ...Option) *Engine {
	e := &Engine{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is the result of running a rule set over one transaction.
type Outcome struct {
	Transaction models.Transaction
	// Matched holds the ids of the rules whose action was applied, in order.
	Matched   []string
	Anomalies []*models.RuleAnomaly
}

// evaluation carries per-call state. Compiled patterns never outlive a call.
type evaluation struct {
	engine    *Engine
	rule      *models.Rule
	patterns  map[string]*regexp.Regexp
	anomalies []*models.RuleAnomaly
}

// Evaluate reports whether rule matches tx.
func (e *Engine) Evaluate(rule models.Rule, tx models.Transaction) bool {
	ev := e.newEvaluation(&rule)
	return ev.matches(tx)
}

// Apply applies rule's action to a copy of tx when the rule matches.
func (e *Engine) Apply(rule models.Rule, tx models.Transaction) (models.Transaction, bool) {
	if !e.Evaluate(rule, tx) {
		return tx, false
	}
	return applyAction(rule.Action, tx), true
}

// ApplyAll runs rules in ascending priority order. With stopOnFirstMatch only
// the first matching rule applies; otherwise every match applies in order, the
// last category wins and tags accumulate. Each rule is evaluated against the
// transaction as left by the rules before it, so a later rule can match on a
// tag or category an earlier one assigned.
func (e *Engine) ApplyAll(rules []models.Rule, tx models.Transaction, stopOnFirstMatch bool) Outcome {
	out := Outcome{Transaction: tx.Clone()}
	for _, rule := range Sort(rules) {
		rule := rule
		ev := e.newEvaluation(&rule)
		matched := ev.matches(out.Transaction)
		out.Anomalies = append(out.Anomalies, ev.anomalies...)
		if !matched {
			continue
		}
		out.Transaction = applyAction(rule.Action, out.Transaction)
		out.Matched = append(out.Matched, rule.ID)
		if stopOnFirstMatch {
			break
		}
	}
	return out
}

// Categorize runs ApplyAll over a batch and folds the matches into statistics
// updates, one per rule that matched at least once.
func (e *Engine) Categorize(rules []models.Rule, txs []models.Transaction, stopOnFirstMatch bool) ([]models.Transaction, []models.RuleStatsUpdate, []*models.RuleAnomaly) {
	out := make([]models.Transaction, 0, len(txs))
	counts := make(map[string]int)
	var anomalies []*models.RuleAnomaly
	for _, tx := range txs {
		res := e.ApplyAll(rules, tx, stopOnFirstMatch)
		out = append(out, res.Transaction)
		for _, id := range res.Matched {
			counts[id]++
		}
		anomalies = append(anomalies, res.Anomalies...)
	}

	now := e.now()
	var updates []models.RuleStatsUpdate
	for _, rule := range Sort(rules) {
		n, ok := counts[rule.ID]
		if !ok {
			continue
		}
		updates = append(updates, models.RuleStatsUpdate{
			RuleID:        rule.ID,
			MatchCount:    rule.MatchCount + n,
			LastMatchDate: now,
		})
		delete(counts, rule.ID)
	}
	e.logger.Debug("categorized batch", "transactions", len(txs), "rules", len(rules), "rules_matched", len(updates))
	return out, updates, anomalies
}

// Sort returns rules ordered by ascending priority, ties broken by id.
func Sort(rules []models.Rule) []models.Rule {
	sorted := append([]models.Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// CarryStats copies match statistics from stored onto a copy of rules,
// pairing rules by id. Rules without a stored counterpart keep their own.
func CarryStats(rules, stored []models.Rule) []models.Rule {
	byID := make(map[string]models.Rule, len(stored))
	for _, r := range stored {
		byID[r.ID] = r
	}
	out := append([]models.Rule(nil), rules...)
	for i := range out {
		if r, ok := byID[out[i].ID]; ok {
			out[i].MatchCount = r.MatchCount
			out[i].LastMatchDate = r.LastMatchDate
		}
	}
	return out
}

// ApplyStats folds updates into a copy of rules.
func ApplyStats(rules []models.Rule, updates []models.RuleStatsUpdate) []models.Rule {
	byID := make(map[string]models.RuleStatsUpdate, len(updates))
	for _, u := range updates {
		byID[u.RuleID] = u
	}
	out := append([]models.Rule(nil), rules...)
	for i := range out {
		u, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		out[i].MatchCount = u.MatchCount
		last := u.LastMatchDate
		out[i].LastMatchDate = &last
	}
	return out
}

func applyAction(action models.RuleAction, tx models.Transaction) models.Transaction {
	out := tx.Clone()
	if action.CategoryID != "" {
		c := action.CategoryID
		out.CategoryID = &c
	}
	if len(action.AddTags) > 0 {
		out.Tags = models.MergeTags(out.Tags, action.AddTags...)
	}
	return out
}

func (e *Engine) newEvaluation(rule *models.Rule) *evaluation {
	return &evaluation{engine: e, rule: rule, patterns: make(map[string]*regexp.Regexp)}
}

func (ev *evaluation) matches(tx models.Transaction) bool {
	r := ev.rule
	if !r.IsActive || len(r.Conditions) == 0 {
		return false
	}
	if r.Mode == models.MatchAny {
		for _, c := range r.Conditions {
			if ev.condition(c, tx) {
				return true
			}
		}
		return false
	}
	for _, c := range r.Conditions {
		if !ev.condition(c, tx) {
			return false
		}
	}
	return true
}

// condition evaluates the base comparison and then applies negation, the same
// way for every variant.
func (ev *evaluation) condition(c models.Condition, tx models.Transaction) bool {
	var base bool
	switch v := c.(type) {
	case models.TextCondition:
		base = ev.text(v, tx)
	case models.AmountCondition:
		base = amount(v, tx)
	case models.MetadataCondition:
		base = metadata(v, tx)
	default:
		ev.engine.logger.Warn("unknown condition type", "rule", ev.rule.ID, "type", fmt.Sprintf("%T", c))
		return false
	}
	if c.Negated() {
		return !base
	}
	return base
}

func (ev *evaluation) text(c models.TextCondition, tx models.Transaction) bool {
	subject := tx.Payee
	if c.Field == models.TextDescription {
		subject = tx.Description
	}
	value := c.Value

	if c.Operator == models.TextRegex {
		re, err := ev.pattern(value, c.CaseSensitive)
		if err != nil {
			return false
		}
		return re.MatchString(subject)
	}

	if !c.CaseSensitive {
		subject = strings.ToLower(subject)
		value = strings.ToLower(value)
	}
	switch c.Operator {
	case models.TextContains:
		return strings.Contains(subject, value)
	case models.TextEquals:
		return subject == value
	case models.TextStartsWith:
		return strings.HasPrefix(subject, value)
	case models.TextEndsWith:
		return strings.HasSuffix(subject, value)
	}
	return false
}

func (ev *evaluation) pattern(expr string, caseSensitive bool) (*regexp.Regexp, error) {
	key := expr
	if !caseSensitive {
		key = "(?i)" + expr
	}
	if re, ok := ev.patterns[key]; ok {
		return re, nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		ev.engine.logger.Warn("invalid rule pattern", "rule", ev.rule.ID, "pattern", expr, "err", err)
		ev.anomalies = append(ev.anomalies, &models.RuleAnomaly{RuleID: ev.rule.ID, Pattern: expr, Err: err})
		return nil, err
	}
	ev.patterns[key] = re
	return re, nil
}

func amount(c models.AmountCondition, tx models.Transaction) bool {
	a := tx.Amount
	switch c.Operator {
	case models.AmountEquals:
		return a.Equal(c.Value)
	case models.AmountGreaterThan:
		return a.GreaterThan(c.Value)
	case models.AmountLessThan:
		return a.LessThan(c.Value)
	case models.AmountBetween:
		if c.Value2 == nil {
			return false
		}
		lo, hi := c.Value, *c.Value2
		if lo.GreaterThan(hi) {
			lo, hi = hi, lo
		}
		return a.GreaterThanOrEqual(lo) && a.LessThanOrEqual(hi)
	}
	return false
}

func metadata(c models.MetadataCondition, tx models.Transaction) bool {
	switch c.Field {
	case models.MetaAccount:
		return anyEqual(c.Values, tx.AccountID, false)
	case models.MetaType:
		return anyEqual(c.Values, string(tx.Type), true)
	case models.MetaTags:
		for _, v := range c.Values {
			if tx.HasTag(v) {
				return true
			}
		}
		return false
	case models.MetaDate:
		if tx.Date.IsZero() || c.Date.IsZero() {
			return false
		}
		switch c.DateOperator {
		case models.DateBefore:
			return tx.Date.Before(c.Date)
		case models.DateAfter:
			return tx.Date.After(c.Date)
		case models.DateOn:
			return sameDay(tx.Date, c.Date)
		}
	}
	return false
}

func anyEqual(values []string, s string, fold bool) bool {
	for _, v := range values {
		if v == s || (fold && strings.EqualFold(v, s)) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
