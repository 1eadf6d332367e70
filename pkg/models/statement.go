package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dialect identifies the flavour of a statement markup document.
type Dialect string

const (
	DialectUnknown Dialect = ""
	DialectSGML    Dialect = "sgml"
	DialectXML     Dialect = "xml"
)

// AccountKind distinguishes bank statements from credit card statements.
type AccountKind string

const (
	BankAccount       AccountKind = "bank"
	CreditCardAccount AccountKind = "creditcard"
)

// TransactionKind is the statement's own classification of a record (TRNTYPE).
// It is a hint only; the amount sign decides income versus expense.
type TransactionKind string

const (
	KindCredit   TransactionKind = "CREDIT"
	KindDebit    TransactionKind = "DEBIT"
	KindTransfer TransactionKind = "XFER"
	KindCheck    TransactionKind = "CHECK"
	KindPayment  TransactionKind = "PAYMENT"
	KindFee      TransactionKind = "FEE"
	KindOther    TransactionKind = "OTHER"
)

// ParseTransactionKind maps a TRNTYPE value onto a known kind.
func ParseTransactionKind(s string) TransactionKind {
	switch k := TransactionKind(s); k {
	case KindCredit, KindDebit, KindTransfer, KindCheck, KindPayment, KindFee:
		return k
	case "DEP", "DIRECTDEP", "INT", "DIV":
		return KindCredit
	case "POS", "ATM", "DIRECTDEBIT", "REPEATPMT", "SRVCHG":
		return KindDebit
	}
	return KindOther
}

type Institution struct {
	Org string `json:"org,omitempty"`
	FID string `json:"fid,omitempty"`
}

type Balance struct {
	Amount decimal.Decimal `json:"amount"`
	AsOf   time.Time       `json:"as_of"`
}

// StatementTransaction is one STMTTRN record. Amount keeps the native sign.
type StatementTransaction struct {
	NativeID    string          `json:"native_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Payee       string          `json:"payee,omitempty"`
	Memo        string          `json:"memo,omitempty"`
	CheckNumber string          `json:"check_number,omitempty"`
	Kind        TransactionKind `json:"kind"`
}

type Statement struct {
	Currency         string                 `json:"currency"`
	AccountID        string                 `json:"account_id"`
	BankID           string                 `json:"bank_id,omitempty"`
	AccountType      string                 `json:"account_type"`
	Kind             AccountKind            `json:"kind"`
	StartDate        time.Time              `json:"start_date"`
	EndDate          time.Time              `json:"end_date"`
	LedgerBalance    *Balance               `json:"ledger_balance,omitempty"`
	AvailableBalance *Balance               `json:"available_balance,omitempty"`
	Transactions     []StatementTransaction `json:"transactions"`
}

// StatementDocument is the result of parsing one statement markup file. A
// failed parse sets Error and leaves Statements empty.
type StatementDocument struct {
	Dialect     Dialect     `json:"dialect"`
	Institution Institution `json:"institution"`
	Statements  []Statement `json:"statements"`
	Error       string      `json:"error,omitempty"`

	DateFallbacks   int `json:"date_fallbacks"`
	AmountFallbacks int `json:"amount_fallbacks"`
}

// OK reports whether the document parsed without a structural error.
func (d *StatementDocument) OK() bool {
	return d != nil && d.Error == ""
}

// TransactionCount sums the records over all statements.
func (d *StatementDocument) TransactionCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, st := range d.Statements {
		n += len(st.Transactions)
	}
	return n
}
