package executors

import (
	"context"
	"fmt"

	"github.com/yurifrl/budgetimport/pkg/plan"
	"github.com/yurifrl/budgetimport/pkg/rules"
)

// Apply imports every manifest statement, stores the resulting ledger, folds
// rule statistics into the stored rules and pushes added transactions to YNAB
// when configured.
func (e *Executor) Apply(ctx context.Context, p *plan.Plan) error {
	e.logger.Debug("applying manifest")

	rs, err := e.rules(ctx, p)
	if err != nil {
		return err
	}

	for _, st := range p.Statements {
		res, err := e.run(ctx, p, st, rs)
		if err != nil {
			return err
		}

		if _, err := e.ledger.Merge(ctx, st.Account, res.Added, res.Updated); err != nil {
			return fmt.Errorf("failed to store ledger %s: %w", st.Account, err)
		}
		e.logger.Info("stored transactions", "account", st.Account, "added", res.Stats.Added, "updated", res.Stats.Updated)

		if len(res.RuleUpdates) > 0 {
			rs = rules.ApplyStats(rs, res.RuleUpdates)
			if err := e.recordStats(ctx, rs, res.RuleUpdates); err != nil {
				return fmt.Errorf("failed to store rule stats: %w", err)
			}
		}

		if e.ynab != nil && st.YNABAccount != "" && len(res.Added) > 0 {
			if err := e.ynab.Push(e.budgetID(p), st.YNABAccount, res.Added); err != nil {
				return err
			}
			e.logger.Info("created transactions", "count", len(res.Added), "ynab_account", st.YNABAccount)
		}

		fmt.Println(Summary(res))
	}
	return nil
}
