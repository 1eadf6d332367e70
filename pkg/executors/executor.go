package executors

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/yurifrl/budgetimport/pkg/config"
	"github.com/yurifrl/budgetimport/pkg/importer"
	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/plan"
	"github.com/yurifrl/budgetimport/pkg/rules"
	"github.com/yurifrl/budgetimport/pkg/store"
	"github.com/yurifrl/budgetimport/pkg/ynab"
)

type Executor struct {
	logger   *log.Logger
	config   *config.Config
	importer *importer.Importer
	ledger   *store.Ledger
	ynab     *ynab.YNABClient
}

// New builds an executor. ynab may be nil when no remote budget is used.
func New(logger *log.Logger, config *config.Config, imp *importer.Importer, ledger *store.Ledger, ynab *ynab.YNABClient) *Executor {
	return &Executor{
		logger:   logger,
		config:   config,
		importer: imp,
		ledger:   ledger,
		ynab:     ynab,
	}
}

// run imports one manifest statement against the stored ledger and, when
// configured, the remote YNAB account.
func (e *Executor) run(ctx context.Context, p *plan.Plan, st plan.Statement, rs []models.Rule) (*importer.Result, error) {
	path, err := p.Path(st.File)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement file %s: %w", path, err)
	}

	existing, err := e.ledger.Transactions(ctx, st.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger %s: %w", st.Account, err)
	}
	if remote, err := e.remoteLedger(p, st); err != nil {
		return nil, err
	} else if len(remote) > 0 {
		existing = append(existing, remote...)
	}

	res, err := e.importer.Import(data, importer.Request{
		Format:          st.FormatOf(),
		Mapping:         st.FieldMapping(),
		AccountID:       st.Account,
		Existing:        existing,
		Rules:           rs,
		ApplyAllMatches: e.config.Import.ApplyAllMatches,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return res, nil
}

func (e *Executor) remoteLedger(p *plan.Plan, st plan.Statement) ([]models.Transaction, error) {
	if e.ynab == nil || st.YNABAccount == "" {
		return nil, nil
	}
	budgetID := e.budgetID(p)
	if budgetID == "" {
		return nil, fmt.Errorf("statement %s: ynab_account set but no budget id", st.File)
	}
	e.logger.Debug("fetching remote ledger", "budget_id", budgetID, "ynab_account", st.YNABAccount)
	return e.ynab.Ledger(budgetID, st.YNABAccount, st.Account)
}

func (e *Executor) budgetID(p *plan.Plan) string {
	if p.YNAB.BudgetID != "" {
		return p.YNAB.BudgetID
	}
	return e.config.YNAB.BudgetID
}

// rules loads the manifest's rules file, falling back to the configured file
// and then to the rules kept in the store. File rules carry the stored
// statistics of the rule with the same id.
func (e *Executor) rules(ctx context.Context, p *plan.Plan) ([]models.Rule, error) {
	stored, err := e.ledger.Rules(ctx)
	if err != nil {
		return nil, err
	}

	file := p.Rules
	if file == "" {
		file = e.config.Rules.File
	}
	if file == "" {
		return stored, nil
	}
	path, err := p.Path(file)
	if err != nil {
		return nil, err
	}
	rs, err := rules.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return rules.CarryStats(rs, stored), nil
}

// recordStats folds a run's statistics into the stored rules. An empty store
// is seeded with rs, which already carries the updates.
func (e *Executor) recordStats(ctx context.Context, rs []models.Rule, updates []models.RuleStatsUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	stored, err := e.ledger.Rules(ctx)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return e.ledger.SaveRules(ctx, rs)
	}
	return e.ledger.RecordRuleStats(ctx, updates)
}
