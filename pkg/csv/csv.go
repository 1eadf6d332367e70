package csv

import (
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/yurifrl/budgetimport/pkg/models"
)

type FilterFunc func(models.Transaction) bool

// Row is the exported CSV layout. Outflow/Inflow follow the YNAB import
// format; the remaining columns carry the canonical fields.
type Row struct {
	Date      string `csv:"Date"`
	Payee     string `csv:"Payee"`
	Memo      string `csv:"Memo"`
	Outflow   string `csv:"Outflow"`
	Inflow    string `csv:"Inflow"`
	Type      string `csv:"Type"`
	Category  string `csv:"Category"`
	Tags      string `csv:"Tags"`
	ID        string `csv:"ID"`
	AccountID string `csv:"Account"`
}

func toRow(tx models.Transaction) Row {
	r := Row{
		Date:      tx.Date.Format("2006-01-02"),
		Payee:     tx.Payee,
		Memo:      tx.Description,
		Type:      string(tx.Type),
		Category:  tx.Category(),
		Tags:      strings.Join(tx.Tags, ";"),
		ID:        tx.ID,
		AccountID: tx.AccountID,
	}
	if tx.Type == models.Expense {
		r.Outflow = tx.Amount.StringFixed(2)
	} else {
		r.Inflow = tx.Amount.StringFixed(2)
	}
	return r
}

// Create renders the transactions accepted by filter (all when nil).
func Create(txs []models.Transaction, filter FilterFunc) ([]byte, error) {
	rows := make([]Row, 0, len(txs))
	for _, tx := range txs {
		if filter == nil || filter(tx) {
			rows = append(rows, toRow(tx))
		}
	}
	out, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to render csv: %w", err)
	}
	return out, nil
}
