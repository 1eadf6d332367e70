package ynab

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brunomvsouza/ynab.go"
	"github.com/brunomvsouza/ynab.go/api"
	"github.com/brunomvsouza/ynab.go/api/account"
	"github.com/brunomvsouza/ynab.go/api/budget"
	"github.com/brunomvsouza/ynab.go/api/transaction"
	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/models"
)

const maxMemoLength = 200

// YNABClient wraps the YNAB client with conversions to canonical transactions.
type YNABClient struct {
	client ynab.ClientServicer
}

func New(token string) *YNABClient {
	return &YNABClient{
		client: ynab.NewClient(token),
	}
}

func (c *YNABClient) Budget() *budget.Service {
	return c.client.Budget()
}

func (c *YNABClient) Account() *account.Service {
	return c.client.Account()
}

// Ledger fetches an account's remote transactions as an existing-ledger
// snapshot. accountID is the local account the snapshot is compared under.
func (c *YNABClient) Ledger(budgetID, remoteAccountID, accountID string) ([]models.Transaction, error) {
	remote, err := c.client.Transaction().GetTransactionsByAccount(budgetID, remoteAccountID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	out := make([]models.Transaction, 0, len(remote))
	for _, tx := range remote {
		if tx == nil || tx.Deleted {
			continue
		}
		out = append(out, ToCanonical(tx, accountID))
	}
	return out, nil
}

// Push creates transactions on the remote account in one call.
func (c *YNABClient) Push(budgetID, remoteAccountID string, txs []models.Transaction) error {
	payloads := Payloads(remoteAccountID, txs)
	if len(payloads) == 0 {
		return nil
	}
	if _, err := c.client.Transaction().CreateTransactions(budgetID, payloads); err != nil {
		return fmt.Errorf("failed to create transactions: %w", err)
	}
	return nil
}

// CustomID extracts the local id stored as the first comma-separated field of
// the memo.
func CustomID(tx *transaction.Transaction) (string, string) {
	if tx == nil || tx.Memo == nil {
		return "", ""
	}
	memo := strings.Trim(*tx.Memo, "\"")
	if idx := strings.Index(memo, ","); idx > 0 {
		return memo[:idx], memo[idx+1:]
	}
	return "", memo
}

// ToCanonical converts a remote transaction. Amounts arrive in milliunits.
func ToCanonical(tx *transaction.Transaction, accountID string) models.Transaction {
	id, memo := CustomID(tx)
	out := models.Transaction{
		ID:           id,
		SourceID:     id,
		AccountID:    accountID,
		Date:         tx.Date.Time,
		Amount:       decimal.New(tx.Amount, -3).Abs(),
		Description:  memo,
		CategoryID:   tx.CategoryID,
		IsCleared:    tx.Cleared != transaction.ClearingStatusUncleared,
		IsReconciled: tx.Cleared == transaction.ClearingStatusReconciled,
	}
	if id == "" {
		out.ID = "ynab:" + tx.ID
		out.SourceID = ""
	}
	if tx.PayeeName != nil {
		out.Payee = *tx.PayeeName
	}
	switch {
	case tx.TransferAccountID != nil:
		out.Type = models.Transfer
	case tx.Amount < 0:
		out.Type = models.Expense
	default:
		out.Type = models.Income
	}
	return out
}

// Payloads converts canonical transactions into create payloads, encoding the
// local id into the memo so later imports can match on identity.
func Payloads(remoteAccountID string, txs []models.Transaction) []transaction.PayloadTransaction {
	out := make([]transaction.PayloadTransaction, 0, len(txs))
	for _, tx := range txs {
		memo := truncateMemo(tx.ID + "," + tx.Description)
		payee := tx.Payee
		cleared := transaction.ClearingStatusUncleared
		if tx.IsCleared {
			cleared = transaction.ClearingStatusCleared
		}
		out = append(out, transaction.PayloadTransaction{
			AccountID: remoteAccountID,
			Date:      api.Date{Time: tx.Date},
			Amount:    Milliunits(tx),
			Cleared:   cleared,
			Approved:  true,
			PayeeName: &payee,
			Memo:      &memo,
		})
	}
	return out
}

// truncateMemo cuts s to at most maxMemoLength bytes without splitting a rune.
func truncateMemo(s string) string {
	if len(s) <= maxMemoLength {
		return s
	}
	s = s[:maxMemoLength]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// Milliunits returns the signed amount in YNAB milliunits.
func Milliunits(tx models.Transaction) int64 {
	return tx.Signed().Shift(3).Round(0).IntPart()
}
