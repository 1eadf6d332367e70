package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/csv"
	"github.com/yurifrl/budgetimport/pkg/executors"
	"github.com/yurifrl/budgetimport/pkg/importer"
	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/parser"
	"github.com/yurifrl/budgetimport/pkg/rules"
	"github.com/yurifrl/budgetimport/pkg/store"
)

type filters struct {
	startDate string
	endDate   string
	minAmount float64
	maxAmount float64
	payee     string
}

type importOptions struct {
	account   string
	format    string
	mapping   map[string]string
	out       string
	rulesFile string
	apply     bool
	applyAll  bool
}

type FileProcessor struct {
	logger   *log.Logger
	importer *importer.Importer
	ledger   *store.Ledger
	filters  *filters
	opts     *importOptions
}

func (f *filters) toFilterFunc() csv.FilterFunc {
	return func(t models.Transaction) bool {
		day := t.Date.Format("2006/01/02")
		if f.startDate != "" && day < f.startDate {
			return false
		}
		if f.endDate != "" && day > f.endDate {
			return false
		}
		if f.minAmount != 0 && t.Amount.LessThan(decimal.NewFromFloat(f.minAmount)) {
			return false
		}
		if f.maxAmount != 0 && t.Amount.GreaterThan(decimal.NewFromFloat(f.maxAmount)) {
			return false
		}
		if f.payee != "" && !strings.Contains(strings.ToLower(t.Payee), strings.ToLower(f.payee)) {
			return false
		}
		return true
	}
}

func (f *filters) validate() error {
	for _, d := range []string{f.startDate, f.endDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006/01/02", d); err != nil {
			return fmt.Errorf("invalid date filter %q, want YYYY/MM/DD", d)
		}
	}
	return nil
}

func NewFileProcessor(logger *log.Logger, imp *importer.Importer, ledger *store.Ledger, filters *filters, opts *importOptions) *FileProcessor {
	return &FileProcessor{
		logger:   logger,
		importer: imp,
		ledger:   ledger,
		filters:  filters,
		opts:     opts,
	}
}

func (p *FileProcessor) ProcessDirectory(ctx context.Context, inputDir string) error {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if err := p.ProcessFile(ctx, filepath.Join(inputDir, entry.Name())); err != nil {
			p.logger.Warn("error processing file", "error", err)
		}
	}

	return nil
}

func (p *FileProcessor) ProcessFile(ctx context.Context, inputPath string) error {
	if err := p.filters.validate(); err != nil {
		return err
	}
	format, ok := parser.ParseFormat(p.opts.format)
	if !ok {
		return fmt.Errorf("unknown format %q", p.opts.format)
	}

	fileBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	existing, err := p.ledger.Transactions(ctx, p.opts.account)
	if err != nil {
		return err
	}
	rs, err := p.rules(ctx)
	if err != nil {
		return err
	}

	res, err := p.importer.Import(fileBytes, importer.Request{
		Format:          format,
		Mapping:         models.FieldMapping(p.opts.mapping),
		AccountID:       p.opts.account,
		Existing:        existing,
		Rules:           rs,
		ApplyAllMatches: p.opts.applyAll,
	})
	if err != nil {
		return fmt.Errorf("failed to process file: %w", err)
	}

	if err := p.print(inputPath, res); err != nil {
		return err
	}

	if !p.opts.apply {
		return nil
	}
	if _, err := p.ledger.Merge(ctx, p.opts.account, res.Added, res.Updated); err != nil {
		return err
	}
	if err := p.recordStats(ctx, rs, res.RuleUpdates); err != nil {
		return err
	}
	p.logger.Info("stored transactions", "file", filepath.Base(inputPath), "account", p.opts.account, "added", res.Stats.Added, "updated", res.Stats.Updated)
	return nil
}

func (p *FileProcessor) print(inputPath string, res *importer.Result) error {
	if p.opts.out == "csv" {
		txs := append([]models.Transaction(nil), res.Transactions...)
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].Date.Before(txs[j].Date)
		})
		out, err := csv.Create(txs, p.filters.toFilterFunc())
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	fmt.Printf("\n%s -> %s\n", inputPath, p.opts.account)
	for _, line := range executors.Lines(res) {
		fmt.Println(line)
	}
	fmt.Println(executors.Summary(res))
	return nil
}

// recordStats folds statistics into the stored rules, seeding an empty store
// with the rules this run used.
func (p *FileProcessor) recordStats(ctx context.Context, rs []models.Rule, updates []models.RuleStatsUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	stored, err := p.ledger.Rules(ctx)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return p.ledger.SaveRules(ctx, rules.ApplyStats(rs, updates))
	}
	return p.ledger.RecordRuleStats(ctx, updates)
}

// rules prefers the --rules file, carrying the stored statistics so recorded
// match counts keep accumulating.
func (p *FileProcessor) rules(ctx context.Context) ([]models.Rule, error) {
	stored, err := p.ledger.Rules(ctx)
	if err != nil {
		return nil, err
	}
	if p.opts.rulesFile == "" {
		return stored, nil
	}
	rs, err := rules.LoadFile(p.opts.rulesFile)
	if err != nil {
		return nil, err
	}
	return rules.CarryStats(rs, stored), nil
}
