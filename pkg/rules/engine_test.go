package rules

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yurifrl/budgetimport/pkg/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return New(log.New(io.Discard), WithClock(func() time.Time { return fixedNow }))
}

func amountTx(amount string) models.Transaction {
	return models.Transaction{
		ID:        "t1",
		AccountID: "checking",
		Date:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		Payee:     "Starbucks Coffee #123",
		Amount:    decimal.RequireFromString(amount),
		Type:      models.Expense,
		Tags:      []string{"card"},
	}
}

func rule(id string, priority int, category string, conds ...models.Condition) models.Rule {
	return models.Rule{
		ID:         id,
		IsActive:   true,
		Priority:   priority,
		Mode:       models.MatchAll,
		Conditions: conds,
		Action:     models.RuleAction{CategoryID: category},
	}
}

func between(lo, hi int64) models.AmountCondition {
	v2 := decimal.NewFromInt(hi)
	return models.AmountCondition{Operator: models.AmountBetween, Value: decimal.NewFromInt(lo), Value2: &v2}
}

func TestEvaluateBetween(t *testing.T) {
	e := newTestEngine()
	r := rule("r", 1, "food", between(10, 50))

	assert.True(t, e.Evaluate(r, amountTx("30")))
	assert.False(t, e.Evaluate(r, amountTx("75")))
	assert.True(t, e.Evaluate(r, amountTx("10")), "lower bound is inclusive")
	assert.True(t, e.Evaluate(r, amountTx("50")), "upper bound is inclusive")

	// reversed bounds behave the same
	assert.True(t, e.Evaluate(rule("r", 1, "", between(50, 10)), amountTx("30")))

	// missing upper bound never matches
	assert.False(t, e.Evaluate(rule("r", 1, "", models.AmountCondition{Operator: models.AmountBetween, Value: decimal.NewFromInt(1)}), amountTx("30")))
}

func TestEvaluateConditions(t *testing.T) {
	tx := amountTx("4.50")
	tx.Description = "card purchase 1234"
	onDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"contains ignores case", models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "starbucks"}, true},
		{"contains case sensitive", models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "starbucks", CaseSensitive: true}, false},
		{"equals", models.TextCondition{Field: models.TextPayee, Operator: models.TextEquals, Value: "starbucks coffee #123"}, true},
		{"startsWith", models.TextCondition{Field: models.TextPayee, Operator: models.TextStartsWith, Value: "Star"}, true},
		{"endsWith", models.TextCondition{Field: models.TextPayee, Operator: models.TextEndsWith, Value: "#123"}, true},
		{"description field", models.TextCondition{Field: models.TextDescription, Operator: models.TextContains, Value: "purchase"}, true},
		{"regex", models.TextCondition{Field: models.TextPayee, Operator: models.TextRegex, Value: `^STARBUCKS.*#\d+$`}, true},
		{"regex case sensitive", models.TextCondition{Field: models.TextPayee, Operator: models.TextRegex, Value: `^STARBUCKS`, CaseSensitive: true}, false},
		{"amount equals", models.AmountCondition{Operator: models.AmountEquals, Value: decimal.RequireFromString("4.5")}, true},
		{"amount greaterThan", models.AmountCondition{Operator: models.AmountGreaterThan, Value: decimal.NewFromInt(4)}, true},
		{"amount lessThan", models.AmountCondition{Operator: models.AmountLessThan, Value: decimal.NewFromInt(4)}, false},
		{"account", models.MetadataCondition{Field: models.MetaAccount, Values: []string{"savings", "checking"}}, true},
		{"type", models.MetadataCondition{Field: models.MetaType, Values: []string{"EXPENSE"}}, true},
		{"tags", models.MetadataCondition{Field: models.MetaTags, Values: []string{"Card"}}, true},
		{"date on", models.MetadataCondition{Field: models.MetaDate, DateOperator: models.DateOn, Date: onDate}, true},
		{"date before", models.MetadataCondition{Field: models.MetaDate, DateOperator: models.DateBefore, Date: onDate}, false},
		{"date after", models.MetadataCondition{Field: models.MetaDate, DateOperator: models.DateAfter, Date: onDate.AddDate(0, 0, -5)}, true},
		{"date not after", models.MetadataCondition{Field: models.MetaDate, DateOperator: models.DateAfter, Date: onDate.AddDate(0, 0, 1)}, false},
	}

	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(rule("r", 1, "", tt.cond), tx))
		})
	}
}

// Negating a condition always flips a single-condition rule's result.
func TestNegationSymmetry(t *testing.T) {
	conds := []models.Condition{
		models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"},
		models.TextCondition{Field: models.TextPayee, Operator: models.TextRegex, Value: "(unclosed"},
		models.TextCondition{Field: models.TextDescription, Operator: models.TextEquals, Value: ""},
		between(1, 5),
		models.AmountCondition{Operator: models.AmountBetween, Value: decimal.NewFromInt(1)},
		models.MetadataCondition{Field: models.MetaAccount, Values: []string{"checking"}},
		models.MetadataCondition{Field: models.MetaTags, Values: []string{"none"}},
		models.MetadataCondition{Field: models.MetaDate, DateOperator: models.DateOn},
	}
	txs := []models.Transaction{amountTx("4.50"), amountTx("400"), {}}

	e := newTestEngine()
	for _, c := range conds {
		for _, tx := range txs {
			plain := e.Evaluate(rule("r", 1, "", c), tx)
			negated := e.Evaluate(rule("r", 1, "", models.Negate(c)), tx)
			assert.NotEqual(t, plain, negated, "%T %+v", c, c)
		}
	}
}

func TestInvalidRegexReportsAnomaly(t *testing.T) {
	e := newTestEngine()
	bad := rule("bad", 1, "x", models.TextCondition{Field: models.TextPayee, Operator: models.TextRegex, Value: "[a-"})
	good := rule("good", 2, "coffee", models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"})

	out := e.ApplyAll([]models.Rule{bad, good}, amountTx("4.50"), true)
	assert.Equal(t, "coffee", out.Transaction.Category())
	assert.Equal(t, []string{"good"}, out.Matched)
	require.Len(t, out.Anomalies, 1)
	assert.Equal(t, "bad", out.Anomalies[0].RuleID)
	assert.Equal(t, "[a-", out.Anomalies[0].Pattern)
}

func TestRuleModes(t *testing.T) {
	e := newTestEngine()
	tx := amountTx("30")
	hit := models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"}
	miss := models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "tea"}

	all := rule("r", 1, "", hit, miss)
	assert.False(t, e.Evaluate(all, tx))

	anyRule := all
	anyRule.Mode = models.MatchAny
	assert.True(t, e.Evaluate(anyRule, tx))

	inactive := rule("r", 1, "", hit)
	inactive.IsActive = false
	assert.False(t, e.Evaluate(inactive, tx))

	assert.False(t, e.Evaluate(rule("r", 1, ""), tx), "a rule without conditions never matches")
}

func TestApply(t *testing.T) {
	e := newTestEngine()
	tx := amountTx("30")
	r := rule("r", 1, "dining", between(10, 50))
	r.Action.AddTags = []string{"auto", "card"}

	got, ok := e.Apply(r, tx)
	require.True(t, ok)
	assert.Equal(t, "dining", got.Category())
	assert.Equal(t, []string{"card", "auto"}, got.Tags)
	// the input is untouched
	assert.Nil(t, tx.CategoryID)
	assert.Equal(t, []string{"card"}, tx.Tags)

	got, ok = e.Apply(r, amountTx("75"))
	assert.False(t, ok)
	assert.Nil(t, got.CategoryID)
}

func TestPriorityDeterminism(t *testing.T) {
	e := newTestEngine()
	cond := models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"}
	low := rule("b-low", 1, "coffee", cond)
	high := rule("a-high", 5, "misc", cond)
	tie := rule("a-tie", 1, "tie", cond)

	orders := [][]models.Rule{
		{low, high},
		{high, low},
	}
	for _, rs := range orders {
		out := e.ApplyAll(rs, amountTx("4"), true)
		assert.Equal(t, "coffee", out.Transaction.Category())
		assert.Equal(t, []string{"b-low"}, out.Matched)
	}

	// equal priorities fall back to id order
	for _, rs := range [][]models.Rule{{low, tie}, {tie, low}} {
		out := e.ApplyAll(rs, amountTx("4"), true)
		assert.Equal(t, "tie", out.Transaction.Category())
	}
}

func TestApplyAllMatches(t *testing.T) {
	e := newTestEngine()
	cond := models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"}
	first := rule("first", 1, "coffee", cond)
	first.Action.AddTags = []string{"caffeine"}
	second := rule("second", 2, "dining", cond)
	second.Action.AddTags = []string{"out", "caffeine"}

	out := e.ApplyAll([]models.Rule{second, first}, amountTx("4"), false)
	assert.Equal(t, []string{"first", "second"}, out.Matched)
	assert.Equal(t, "dining", out.Transaction.Category(), "later category overwrites")
	assert.Equal(t, []string{"card", "caffeine", "out"}, out.Transaction.Tags)
}

func TestApplyAllChainsEarlierActions(t *testing.T) {
	e := newTestEngine()
	tagger := rule("tagger", 1, "", models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"})
	tagger.Action.AddTags = []string{"caffeine"}
	byTag := rule("by-tag", 2, "treats", models.MetadataCondition{Field: models.MetaTags, Values: []string{"caffeine"}})
	// runs before the tag exists
	early := rule("early", 0, "early", models.MetadataCondition{Field: models.MetaTags, Values: []string{"caffeine"}})

	out := e.ApplyAll([]models.Rule{byTag, early, tagger}, amountTx("4"), false)
	assert.Equal(t, []string{"tagger", "by-tag"}, out.Matched)
	assert.Equal(t, "treats", out.Transaction.Category())

	// the incoming transaction is left untouched
	tx := amountTx("4")
	e.ApplyAll([]models.Rule{tagger}, tx, false)
	assert.Equal(t, []string{"card"}, tx.Tags)

	first := e.ApplyAll([]models.Rule{byTag, tagger}, amountTx("4"), true)
	assert.Equal(t, []string{"tagger"}, first.Matched)
	assert.Empty(t, first.Transaction.Category())
}

func TestCategorizeStats(t *testing.T) {
	e := newTestEngine()
	coffee := rule("coffee", 1, "coffee", models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "coffee"})
	coffee.MatchCount = 10
	big := rule("big", 2, "big", models.AmountCondition{Operator: models.AmountGreaterThan, Value: decimal.NewFromInt(100)})
	never := rule("never", 3, "never", models.TextCondition{Field: models.TextPayee, Operator: models.TextEquals, Value: "nope"})

	other := amountTx("500")
	other.Payee = "Landlord"
	txs := []models.Transaction{amountTx("4"), amountTx("5"), other}

	out, updates, anomalies := e.Categorize([]models.Rule{never, big, coffee}, txs, true)
	require.Len(t, out, 3)
	assert.Empty(t, anomalies)
	assert.Equal(t, "coffee", out[0].Category())
	assert.Equal(t, "big", out[2].Category())

	assert.Equal(t, []models.RuleStatsUpdate{
		{RuleID: "coffee", MatchCount: 12, LastMatchDate: fixedNow},
		{RuleID: "big", MatchCount: 1, LastMatchDate: fixedNow},
	}, updates)

	// rules are never mutated by categorization
	assert.Equal(t, 10, coffee.MatchCount)
	assert.Nil(t, coffee.LastMatchDate)

	updated := ApplyStats([]models.Rule{coffee, big, never}, updates)
	assert.Equal(t, 12, updated[0].MatchCount)
	require.NotNil(t, updated[0].LastMatchDate)
	assert.Equal(t, fixedNow, *updated[0].LastMatchDate)
	assert.Equal(t, 0, updated[2].MatchCount)
	assert.Nil(t, updated[2].LastMatchDate)
}

func TestCarryStats(t *testing.T) {
	last := fixedNow.AddDate(0, -1, 0)
	stored := []models.Rule{{ID: "coffee", MatchCount: 7, LastMatchDate: &last}, {ID: "gone", MatchCount: 3}}
	fromFile := []models.Rule{{ID: "coffee", MatchCount: 1}, {ID: "fresh", MatchCount: 2}}

	out := CarryStats(fromFile, stored)
	require.Len(t, out, 2)
	assert.Equal(t, 7, out[0].MatchCount)
	assert.Equal(t, &last, out[0].LastMatchDate)
	assert.Equal(t, 2, out[1].MatchCount)
	assert.Equal(t, 1, fromFile[0].MatchCount, "input is not modified")
}

func TestSort(t *testing.T) {
	rs := []models.Rule{{ID: "c", Priority: 2}, {ID: "b", Priority: 1}, {ID: "a", Priority: 2}}
	sorted := Sort(rs)
	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
	assert.Equal(t, "c", rs[0].ID, "input order is kept")
}
