package normalize

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yurifrl/budgetimport/pkg/mapping"
	"github.com/yurifrl/budgetimport/pkg/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer(opts ...Option) *Normalizer {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(log.New(io.Discard), opts...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "-42.50", want: "-42.5"},
		{in: "42.50", want: "42.5"},
		{in: "$1,234.56", want: "1234.56"},
		{in: "1.234,56", want: "1234.56"},
		{in: "R$ -1.234,56", want: "-1234.56"},
		{in: "(12.00)", want: "-12"},
		{in: "12,5", want: "12.5"},
		{in: "1,234", want: "1234"},
		{in: "1.234.567", want: "1234567"},
		{in: "EUR -3,00", want: "-3"},
		{in: "12-", want: "-12"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, got.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		explicit string
		amount   string
		want     models.TransactionType
	}{
		{"", "10", models.Income},
		{"", "0", models.Income},
		{"", "-10", models.Expense},
		{"Deposit", "-10", models.Income},
		{"CREDIT", "-10", models.Income},
		{"other income", "-1", models.Income},
		{"debit", "10", models.Expense},
		{"Withdrawal", "10", models.Expense},
		{"anything", "10", models.Expense},
	}

	for _, tt := range tests {
		t.Run(tt.explicit+"/"+tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.explicit, dec(tt.amount)))
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"01/15/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"1/5/24", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"2024/01/15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"2024.01.15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), true},
		{"Jan 15, 2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"15 Jan 2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		// day-first dates are read month-first and rejected when impossible
		{"15/01/2024", fixedNow, false},
		{"02/30/2024", fixedNow, false},
		{"yesterday", fixedNow, false},
		{"", fixedNow, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in, fixedNow)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestSplitCombined(t *testing.T) {
	date, amount, rest := SplitCombined("01/15/2024 Coffee Shop -42.50")
	assert.Equal(t, "01/15/2024", date)
	assert.Equal(t, "-42.50", amount)
	assert.Equal(t, "Coffee Shop", rest)

	date, amount, rest = SplitCombined("Groceries")
	assert.Empty(t, date)
	assert.Empty(t, amount)
	assert.Equal(t, "Groceries", rest)
}

func record(line int, headers []string, values ...string) models.RawRecord {
	return models.NewRawRecord(line, headers, values)
}

func TestFromRecord(t *testing.T) {
	n := newTestNormalizer()
	headers := []string{"Date", "Amount", "Description"}

	tx, anomalies := n.FromRecord(record(2, headers, "01/15/2024", "-42.50", "Coffee Shop"), mapping.Infer(headers), "checking")
	assert.Empty(t, anomalies)

	assert.Equal(t, "checking", tx.AccountID)
	assert.True(t, tx.Amount.Equal(dec("42.50")))
	assert.Equal(t, models.Expense, tx.Type)
	assert.Equal(t, "Coffee Shop", tx.Payee)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, fixedNow, tx.CreatedAt)
	assert.NotEmpty(t, tx.ID)
	assert.Empty(t, tx.SourceID)
	assert.Nil(t, tx.CategoryID)
}

func TestFromRecordExplicitType(t *testing.T) {
	n := newTestNormalizer()
	headers := []string{"Date", "Amount", "Payee", "Type", "Category"}
	m := mapping.Infer(headers)

	tx, _ := n.FromRecord(record(2, headers, "2024-03-01", "-100", "Employer", "Deposit", "salary"), m, "a")
	assert.Equal(t, models.Income, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("100")))
	require.NotNil(t, tx.CategoryID)
	assert.Equal(t, "salary", *tx.CategoryID)

	tx, _ = n.FromRecord(record(3, headers, "2024-03-02", "25", "Shop", "POS purchase", ""), m, "a")
	assert.Equal(t, models.Expense, tx.Type)
	assert.Nil(t, tx.CategoryID)
}

func TestFromRecordFlows(t *testing.T) {
	n := newTestNormalizer()
	headers := []string{"Date", "Payee", "Inflow", "Outflow"}
	m := mapping.Infer(headers)

	tx, anomalies := n.FromRecord(record(2, headers, "2024-01-02", "Rent", "", "1,200.00"), m, "a")
	assert.Empty(t, anomalies)
	assert.Equal(t, models.Expense, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("1200")))

	tx, _ = n.FromRecord(record(3, headers, "2024-01-03", "Refund", "15.00", ""), m, "a")
	assert.Equal(t, models.Income, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("15")))
}

func TestFromRecordDegrades(t *testing.T) {
	n := newTestNormalizer()
	headers := []string{"Date", "Amount", "Memo"}
	m := mapping.Infer(headers)

	tx, anomalies := n.FromRecord(record(7, headers, "not a date", "n/a", "mystery"), m, "a")
	require.Len(t, anomalies, 2)
	for _, a := range anomalies {
		assert.Equal(t, 7, a.Line)
	}
	assert.Equal(t, models.FieldAmount, anomalies[0].Field)
	assert.Equal(t, models.FieldDate, anomalies[1].Field)

	assert.Equal(t, fixedNow, tx.Date)
	assert.True(t, tx.Amount.IsZero())
	assert.Equal(t, models.Income, tx.Type)
	// payee falls back to the description
	assert.Equal(t, "mystery", tx.Payee)
}

func TestFromRecordCombinedColumn(t *testing.T) {
	n := newTestNormalizer()
	headers := []string{"Date Amount Description"}
	m := mapping.Infer(headers)
	require.True(t, mapping.IsCombined(m))

	tx, anomalies := n.FromRecord(record(2, headers, "01/15/2024 Coffee Shop -42.50"), m, "a")
	assert.Empty(t, anomalies)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, "Coffee Shop", tx.Payee)
	assert.True(t, tx.Amount.Equal(dec("42.50")))
	assert.Equal(t, models.Expense, tx.Type)
}

func TestRecordsAmountNeverNegative(t *testing.T) {
	n := newTestNormalizer()
	headers := []string{"Date", "Amount", "Payee"}
	var recs []models.RawRecord
	for i, v := range []string{"-1", "1", "(3.50)", "-0.01", "0", "1.234,56-"} {
		recs = append(recs, record(i+2, headers, "2024-01-01", v, "x"))
	}

	txs, _ := n.Records(recs, mapping.Infer(headers), "a")
	require.Len(t, txs, len(recs))
	for _, tx := range txs {
		assert.False(t, tx.Amount.IsNegative(), tx.Amount.String())
	}
}

func TestRowHashIDs(t *testing.T) {
	headers := []string{"Date", "Amount", "Payee"}
	recs := []models.RawRecord{
		record(2, headers, "2024-01-01", "-5", "Coffee"),
		record(3, headers, "2024-01-01", "-5", "Coffee"),
		record(4, headers, "2024-01-02", "-7", "Lunch"),
	}
	m := mapping.Infer(headers)

	first, _ := newTestNormalizer(WithRowHash(true)).Records(recs, m, "a")
	second, _ := newTestNormalizer(WithRowHash(true)).Records(recs, m, "a")

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].SourceID, second[i].SourceID)
	}
	// identical rows in one file stay distinct
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.Contains(t, first[0].SourceID, ":1")
	assert.Contains(t, first[1].SourceID, ":2")

	other, _ := newTestNormalizer(WithRowHash(true)).Records(recs, m, "b")
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestFromStatement(t *testing.T) {
	n := newTestNormalizer()
	st := models.Statement{AccountID: "12345-6"}

	tx := n.FromStatement(st, models.StatementTransaction{
		NativeID: "fit-1",
		Date:     time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		Amount:   dec("100.00"),
		Payee:    "Payroll",
	}, "")
	assert.Equal(t, models.Income, tx.Type)
	assert.True(t, tx.Amount.Equal(dec("100")))
	assert.Equal(t, "12345-6", tx.AccountID)
	assert.Equal(t, "fit-1", tx.SourceID)
	assert.Equal(t, StatementID("12345-6", "fit-1"), tx.ID)
	assert.True(t, tx.IsCleared)

	tx = n.FromStatement(st, models.StatementTransaction{
		NativeID: "fit-2",
		Amount:   dec("-250"),
		Memo:     "card payment",
		Kind:     models.KindTransfer,
	}, "card")
	assert.Equal(t, models.Transfer, tx.Type)
	assert.Equal(t, "card", tx.AccountID)
	assert.Equal(t, "card payment", tx.Payee)
	assert.True(t, tx.Amount.Equal(dec("250")))
}

func TestStatement(t *testing.T) {
	n := newTestNormalizer()
	doc := &models.StatementDocument{Statements: []models.Statement{
		{AccountID: "x", Transactions: []models.StatementTransaction{{NativeID: "1", Amount: dec("-1")}, {NativeID: "2", Amount: dec("2")}}},
		{AccountID: "y", Transactions: []models.StatementTransaction{{NativeID: "1", Amount: dec("3")}}},
	}}

	txs := n.Statement(doc, "")
	require.Len(t, txs, 3)
	assert.Equal(t, "y", txs[2].AccountID)
	assert.NotEqual(t, txs[0].ID, txs[2].ID)
}

func TestStatementRepeatedNativeID(t *testing.T) {
	n := newTestNormalizer()
	doc := &models.StatementDocument{Statements: []models.Statement{
		{AccountID: "x", Transactions: []models.StatementTransaction{
			{NativeID: "DUP", Payee: "Cafe", Amount: dec("-5.00")},
			{NativeID: "DUP", Payee: "Grocer", Amount: dec("-80.00")},
			{NativeID: "DUP", Payee: "Bakery", Amount: dec("-3.00")},
		}},
	}}

	txs := n.Statement(doc, "checking")
	require.Len(t, txs, 3)

	// the first occurrence keeps the plain id so re-imports still match it
	assert.Equal(t, StatementID("checking", "DUP"), txs[0].ID)
	assert.Equal(t, "DUP", txs[0].SourceID)
	assert.Equal(t, "DUP#2", txs[1].SourceID)
	assert.Equal(t, StatementID("checking", "DUP#2"), txs[1].ID)
	assert.Equal(t, "DUP#3", txs[2].SourceID)

	ids := map[string]bool{}
	for _, tx := range txs {
		ids[tx.ID] = true
	}
	assert.Len(t, ids, 3)

	again := n.Statement(doc, "checking")
	for i := range txs {
		assert.Equal(t, txs[i].ID, again[i].ID)
	}
}
