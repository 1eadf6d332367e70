package executors

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/yurifrl/budgetimport/pkg/importer"
	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/reconcile"
)

var (
	duplicateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
	addedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	updatedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
)

// Lines renders one styled line per incoming transaction. Added lines show
// the category assigned by the rules.
func Lines(res *importer.Result) []string {
	if res == nil || res.Report == nil {
		return nil
	}
	categorized := make(map[string]models.Transaction, len(res.Added))
	for _, tx := range res.Added {
		categorized[tx.ID] = tx
	}

	lines := make([]string, 0, len(res.Report.Items))
	for _, entry := range res.Report.Items {
		switch entry.Status {
		case reconcile.StatusDuplicate:
			lines = append(lines, duplicateStyle.Render("= "+line(entry.Incoming)))
		case reconcile.StatusUpdated:
			lines = append(lines, updatedStyle.Render("~ "+line(entry.Incoming)))
		default:
			tx := entry.Incoming
			if c, ok := categorized[tx.ID]; ok {
				tx = c
			}
			lines = append(lines, addedStyle.Render("+ "+line(tx)))
		}
	}
	return lines
}

func line(tx models.Transaction) string {
	category := tx.Category()
	if category == "" {
		category = "-"
	}
	return fmt.Sprintf("%s | %-30s | %8s %-7s | %-16s | %s",
		tx.Date.Format("2006/01/02"), truncate(tx.Payee, 30), tx.Amount.StringFixed(2), tx.Type, category, tx.ID)
}

// Summary renders the import statistics line.
func Summary(res *importer.Result) string {
	s := res.Stats
	out := fmt.Sprintf("Plan: %d to add, %d duplicate(s), %d to update", s.Added, s.Duplicates, s.Updated)
	if s.Errors > 0 {
		out += warnStyle.Render(fmt.Sprintf(", %d record(s) degraded", s.Errors))
	}
	if n := len(res.RuleAnomalies); n > 0 {
		out += warnStyle.Render(fmt.Sprintf(", %d rule error(s)", n))
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
