// Package normalize turns parsed records into canonical transactions. It
// never fails a record: bad fields fall back to defaults and are reported as
// anomalies.
package normalize

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/mapping"
	"github.com/yurifrl/budgetimport/pkg/models"
)

// namespace scopes deterministic transaction ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/yurifrl/budgetimport/transactions"))

type Option func(*Normalizer)

// WithClock replaces time.Now, used for fallback dates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithRowHash derives delimited-text ids from record content instead of
// random ids, so re-importing the same file matches on identity.
func WithRowHash(enabled bool) Option {
	return func(n *Normalizer) { n.rowHash = enabled }
}

type Normalizer struct {
	logger  *log.Logger
	now     func() time.Time
	rowHash bool
}

func New(logger *log.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// StatementID returns the deterministic id for a statement record.
func StatementID(accountID, nativeID string) string {
	return uuid.NewSHA1(namespace, []byte(accountID+"|"+nativeID)).String()
}

// Records normalizes a batch of delimited or spreadsheet rows.
func (n *Normalizer) Records(recs []models.RawRecord, m models.FieldMapping, accountID string) ([]models.Transaction, []*models.FieldAnomaly) {
	var (
		out       = make([]models.Transaction, 0, len(recs))
		anomalies []*models.FieldAnomaly
		seen      = make(map[string]int)
	)
	for _, rec := range recs {
		tx, errs := n.record(rec, m, accountID, seen)
		out = append(out, tx)
		anomalies = append(anomalies, errs...)
	}
	return out, anomalies
}

// FromRecord normalizes a single row.
func (n *Normalizer) FromRecord(rec models.RawRecord, m models.FieldMapping, accountID string) (models.Transaction, []*models.FieldAnomaly) {
	return n.record(rec, m, accountID, make(map[string]int))
}

func (n *Normalizer) record(rec models.RawRecord, m models.FieldMapping, accountID string, seen map[string]int) (models.Transaction, []*models.FieldAnomaly) {
	var anomalies []*models.FieldAnomaly
	degrade := func(field, value string, err error) {
		anomalies = append(anomalies, &models.FieldAnomaly{Line: rec.Line, Field: field, Value: value, Err: err})
	}
	get := func(field string) (string, bool) {
		src, ok := m[field]
		if !ok {
			return "", false
		}
		v, _ := rec.Get(src)
		return strings.TrimSpace(v), true
	}

	dateRaw, dateMapped := get(models.FieldDate)
	amountRaw, amountMapped := get(models.FieldAmount)
	payee, _ := get(models.FieldPayee)
	description, _ := get(models.FieldDescription)
	if mapping.IsCombined(m) {
		dateRaw, amountRaw, payee = SplitCombined(dateRaw)
	}

	signed := decimal.Zero
	inflowRaw, hasInflow := get(models.FieldInflow)
	outflowRaw, hasOutflow := get(models.FieldOutflow)
	switch {
	case amountMapped && amountRaw != "":
		v, err := ParseAmount(amountRaw)
		if err != nil {
			degrade(models.FieldAmount, amountRaw, err)
		}
		signed = v
	case hasInflow || hasOutflow:
		signed = n.flows(inflowRaw, outflowRaw, degrade)
	case amountMapped:
		degrade(models.FieldAmount, amountRaw, errEmptyValue)
	}

	now := n.now()
	date, ok := ParseDate(dateRaw, now)
	if !ok && dateMapped {
		degrade(models.FieldDate, dateRaw, errInvalidDate)
	}

	explicit, _ := get(models.FieldType)
	if payee == "" {
		payee = description
	}

	tx := models.Transaction{
		AccountID:   accountID,
		Date:        date,
		Payee:       payee,
		Amount:      signed.Abs(),
		Type:        InferType(explicit, signed),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if category, _ := get(models.FieldCategory); category != "" {
		tx.CategoryID = &category
	}

	if n.rowHash {
		fp := fingerprint(date, payee, signed)
		seen[fp]++
		tx.SourceID = fmt.Sprintf("row:%s:%d", fp, seen[fp])
		tx.ID = uuid.NewSHA1(namespace, []byte(accountID+"|"+tx.SourceID)).String()
	} else {
		tx.ID = uuid.NewString()
	}

	if len(anomalies) > 0 {
		n.logger.Debug("record degraded", "line", rec.Line, "anomalies", len(anomalies))
	}
	return tx, anomalies
}

// flows combines separate inflow and outflow columns into one signed amount.
func (n *Normalizer) flows(inflowRaw, outflowRaw string, degrade func(string, string, error)) decimal.Decimal {
	total := decimal.Zero
	if inflowRaw != "" {
		v, err := ParseAmount(inflowRaw)
		if err != nil {
			degrade(models.FieldInflow, inflowRaw, err)
		}
		total = total.Add(v.Abs())
	}
	if outflowRaw != "" {
		v, err := ParseAmount(outflowRaw)
		if err != nil {
			degrade(models.FieldOutflow, outflowRaw, err)
		}
		total = total.Sub(v.Abs())
	}
	return total
}

// FromStatement converts one statement record. accountID overrides the
// statement's own account id when set.
func (n *Normalizer) FromStatement(st models.Statement, str models.StatementTransaction, accountID string) models.Transaction {
	return n.statementRecord(st, str, accountID, make(map[string]int))
}

// statementRecord keys identity on account and native id. A native id seen
// again in the same batch gets a "#n" suffix so ids stay unique while the
// first occurrence keeps the id a re-import will match.
func (n *Normalizer) statementRecord(st models.Statement, str models.StatementTransaction, accountID string, seen map[string]int) models.Transaction {
	if accountID == "" {
		accountID = st.AccountID
	}
	now := n.now()

	txType := InferType("", str.Amount)
	if str.Kind == models.KindTransfer {
		txType = models.Transfer
	}

	payee := str.Payee
	if payee == "" {
		payee = str.Memo
	}

	tx := models.Transaction{
		AccountID:   accountID,
		Date:        str.Date,
		Payee:       payee,
		Amount:      str.Amount.Abs(),
		Type:        txType,
		Description: str.Memo,
		IsCleared:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if str.NativeID != "" {
		key := accountID + "|" + str.NativeID
		seen[key]++
		tx.SourceID = str.NativeID
		if seen[key] > 1 {
			tx.SourceID = fmt.Sprintf("%s#%d", str.NativeID, seen[key])
		}
		tx.ID = StatementID(accountID, tx.SourceID)
	} else {
		tx.ID = uuid.NewString()
	}
	return tx
}

// Statement converts every record of a parsed document.
func (n *Normalizer) Statement(doc *models.StatementDocument, accountID string) []models.Transaction {
	var out []models.Transaction
	seen := make(map[string]int)
	for _, st := range doc.Statements {
		for _, str := range st.Transactions {
			out = append(out, n.statementRecord(st, str, accountID, seen))
		}
	}
	return out
}

// fingerprint hashes the identifying content of a row.
func fingerprint(date time.Time, payee string, signed decimal.Decimal) string {
	input := fmt.Sprintf("%s|%s|%s", date.Format("2006-01-02"), strings.ToLower(strings.TrimSpace(payee)), signed.StringFixed(2))
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)[:16]
}
