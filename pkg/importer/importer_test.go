package importer

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/normalize"
	"github.com/yurifrl/budgetimport/pkg/parser"
)

func newTestImporter(opts ...Option) *Importer {
	return New(log.New(io.Discard), opts...)
}

func TestImportDelimited(t *testing.T) {
	imp := newTestImporter()

	res, err := imp.Import([]byte("Date,Amount,Description\n01/15/2024,-42.50,Coffee Shop"), Request{AccountID: "checking"})
	require.NoError(t, err)

	assert.Equal(t, parser.FormatDelimited, res.Format)
	assert.Equal(t, ',', res.Delimiter)
	require.Len(t, res.Transactions, 1)

	tx := res.Transactions[0]
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, models.Expense, tx.Type)
	assert.Equal(t, "Coffee Shop", tx.Payee)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), tx.Date)
	assert.Equal(t, "checking", tx.AccountID)

	assert.Equal(t, models.ImportStats{Added: 1}, res.Stats)
}

func TestImportStatement(t *testing.T) {
	imp := newTestImporter()

	res, err := imp.Import([]byte("<STMTTRN><TRNAMT>100.00</TRNAMT><NAME>Payroll</NAME></STMTTRN>"), Request{AccountID: "checking"})
	require.NoError(t, err)

	assert.Equal(t, parser.FormatStatement, res.Format)
	require.NotNil(t, res.Document)
	require.Len(t, res.Transactions, 1)

	tx := res.Transactions[0]
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, models.Income, tx.Type)
	assert.Equal(t, "Payroll", tx.Payee)
	// the missing posted date is a degraded field
	assert.Equal(t, 1, res.Stats.Errors)
}

func TestImportStatementIsIdempotent(t *testing.T) {
	imp := newTestImporter()
	data := []byte("OFXHEADER:100\n\n<OFX><BANKMSGSRSV1><STMTTRNRS><STMTRS><BANKACCTFROM><ACCTID>1\n</BANKACCTFROM><BANKTRANLIST>" +
		"<STMTTRN><DTPOSTED>20240105\n<TRNAMT>-10\n<FITID>a\n<NAME>Books\n</STMTTRN>" +
		"<STMTTRN><DTPOSTED>20240106\n<TRNAMT>-20\n<FITID>b\n<NAME>Lunch\n</STMTTRN>" +
		"</BANKTRANLIST></STMTRS></STMTTRNRS></BANKMSGSRSV1></OFX>")

	first, err := imp.Import(data, Request{AccountID: "checking"})
	require.NoError(t, err)
	require.Equal(t, 2, first.Stats.Added)

	second, err := imp.Import(data, Request{AccountID: "checking", Existing: first.Transactions})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStats{Duplicates: 2}, second.Stats)
	assert.Empty(t, second.Transactions)
}

func TestImportStatementSharedFITID(t *testing.T) {
	imp := newTestImporter()
	data := []byte("OFXHEADER:100\n\n<OFX><BANKMSGSRSV1><STMTTRNRS><STMTRS><BANKACCTFROM><ACCTID>1\n</BANKACCTFROM><BANKTRANLIST>" +
		"<STMTTRN><DTPOSTED>20240105\n<TRNAMT>-5.00\n<FITID>DUP\n<NAME>Cafe\n</STMTTRN>" +
		"<STMTTRN><DTPOSTED>20240106\n<TRNAMT>-80.00\n<FITID>DUP\n<NAME>Grocer\n</STMTTRN>" +
		"</BANKTRANLIST></STMTRS></STMTTRNRS></BANKMSGSRSV1></OFX>")

	first, err := imp.Import(data, Request{AccountID: "checking"})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.NotEqual(t, first.Transactions[0].ID, first.Transactions[1].ID)
	assert.Equal(t, 2, first.Stats.Added)

	second, err := imp.Import(data, Request{AccountID: "checking", Existing: first.Transactions})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStats{Duplicates: 2}, second.Stats)
	assert.Empty(t, second.Updated)
}

func TestImportFallsBackToDelimited(t *testing.T) {
	imp := newTestImporter()

	res, err := imp.Import([]byte("Date,Amount,Payee\n2024-01-01,5,OFXHEADER export\n"), Request{AccountID: "a"})
	require.NoError(t, err)
	assert.Equal(t, parser.FormatDelimited, res.Format)
	assert.Len(t, res.Transactions, 1)
}

func TestImportForcedFormatFails(t *testing.T) {
	imp := newTestImporter()

	_, err := imp.Import([]byte("Date,Amount\n2024-01-01,5\n"), Request{Format: parser.FormatStatement})
	var parseErr *models.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, string(parser.FormatStatement), parseErr.Format)
}

func TestImportErrors(t *testing.T) {
	imp := newTestImporter()

	_, err := imp.Import([]byte("  \n"), Request{})
	var inputErr *models.InputError
	assert.ErrorAs(t, err, &inputErr)

	_, err = imp.Import([]byte("Date,Amount\n"), Request{})
	assert.True(t, errors.Is(err, models.ErrNoDataRows))
}

func TestImportMappingOverride(t *testing.T) {
	imp := newTestImporter()
	data := []byte("When;What;How much\n2024-02-01;Rent;-1.200,00\n")

	res, err := imp.Import(data, Request{
		AccountID: "a",
		Mapping:   models.FieldMapping{"date": "When", "payee": "What", "amount": "How much"},
	})
	require.NoError(t, err)
	assert.Equal(t, ';', res.Delimiter)
	require.Len(t, res.Transactions, 1)
	assert.True(t, res.Transactions[0].Amount.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "Rent", res.Transactions[0].Payee)
	assert.Equal(t, 0, res.Stats.Errors)
}

func TestImportCategorizesUniqueOnly(t *testing.T) {
	imp := newTestImporter(WithNormalizer(normalize.New(log.New(io.Discard), normalize.WithRowHash(true))))
	data := []byte("Date,Amount,Payee\n2024-01-01,-4.50,Starbucks\n2024-01-02,-60,Grocer\n")
	coffee := models.Rule{
		ID:         "coffee",
		IsActive:   true,
		Priority:   1,
		Conditions: []models.Condition{models.TextCondition{Field: models.TextPayee, Operator: models.TextContains, Value: "starbucks"}},
		Action:     models.RuleAction{CategoryID: "dining", AddTags: []string{"auto"}},
	}

	first, err := imp.Import(data, Request{AccountID: "a", Rules: []models.Rule{coffee}})
	require.NoError(t, err)
	require.Len(t, first.Added, 2)
	assert.Equal(t, "dining", first.Added[0].Category())
	assert.Equal(t, []string{"auto"}, first.Added[0].Tags)
	assert.Nil(t, first.Added[1].CategoryID)
	require.Len(t, first.RuleUpdates, 1)
	assert.Equal(t, 1, first.RuleUpdates[0].MatchCount)

	// re-importing the same file: nothing new, the rule sees nothing
	second, err := imp.Import(data, Request{AccountID: "a", Rules: []models.Rule{coffee}, Existing: first.Added})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Stats.Duplicates)
	assert.Empty(t, second.RuleUpdates)
}

func TestImportCountsAnomalies(t *testing.T) {
	imp := newTestImporter()
	data := []byte("Date,Amount,Payee\nnot-a-date,abc,Shop\n2024-01-01,1,Bar\n")

	res, err := imp.Import(data, Request{AccountID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Added)
	assert.Equal(t, 2, res.Stats.Errors)
	assert.Len(t, res.Anomalies, 2)
}
