package importer

import (
	"bytes"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/yurifrl/budgetimport/pkg/mapping"
	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/normalize"
	"github.com/yurifrl/budgetimport/pkg/parser"
	"github.com/yurifrl/budgetimport/pkg/reconcile"
	"github.com/yurifrl/budgetimport/pkg/rules"
)

// Request describes one import. Existing and Rules are read, never modified.
type Request struct {
	// Format overrides signature detection when set.
	Format    parser.Format
	Mapping   models.FieldMapping
	AccountID string
	Existing  []models.Transaction
	Rules     []models.Rule
	// ApplyAllMatches applies every matching rule instead of stopping at the
	// first one.
	ApplyAllMatches bool
}

// Result is everything one import produced. Transactions holds the added
// records followed by the updated ones.
type Result struct {
	Format    parser.Format
	Delimiter rune
	Headers   []string
	Mapping   models.FieldMapping
	Document  *models.StatementDocument

	Transactions []models.Transaction
	Added        []models.Transaction
	Duplicates   []models.Transaction
	Updated      []models.Transaction
	Report       *reconcile.Report

	Stats         models.ImportStats
	RuleUpdates   []models.RuleStatsUpdate
	Anomalies     []*models.FieldAnomaly
	RuleAnomalies []*models.RuleAnomaly
}

type Option func(*Importer)

// WithCommaBias treats auto-detected delimited input as declared delimited
// text when sniffing.
func WithCommaBias(enabled bool) Option {
	return func(i *Importer) { i.commaBias = enabled }
}

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(i *Importer) { i.normalizer = n }
}

func WithMatcher(m *reconcile.Matcher) Option {
	return func(i *Importer) { i.matcher = m }
}

func WithEngine(e *rules.Engine) Option {
	return func(i *Importer) { i.engine = e }
}

// Importer runs parse, map, normalize, match and categorize over a single
// batch. It holds no per-import state and never persists anything.
type Importer struct {
	logger     *log.Logger
	parser     *parser.Parser
	normalizer *normalize.Normalizer
	matcher    *reconcile.Matcher
	engine     *rules.Engine
	commaBias  bool
}

// New returns a new Importer instance.
func New(logger *log.Logger, opts ...Option) *Importer {
	i := &Importer{logger: logger, parser: parser.New(logger)}
	for _, opt := range opts {
		opt(i)
	}
	if i.normalizer == nil {
		i.normalizer = normalize.New(logger)
	}
	if i.matcher == nil {
		i.matcher = reconcile.New(logger)
	}
	if i.engine == nil {
		i.engine = rules.New(logger)
	}
	return i
}

// Import runs the whole pipeline. Only structural failures return an error;
// record-level problems are counted in Stats.Errors.
func (i *Importer) Import(data []byte, req Request) (*Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &models.InputError{Err: models.ErrEmptyInput}
	}

	format := req.Format
	detected := format == parser.FormatAuto
	if detected {
		format = parser.Detect(data)
		i.logger.Debug("detected format", "format", format)
	}

	res := &Result{Format: format}
	var (
		txs       []models.Transaction
		fallbacks int
		err       error
	)
	switch format {
	case parser.FormatStatement:
		doc := i.parser.ParseStatement(string(data))
		if doc.OK() {
			res.Document = doc
			txs = i.normalizer.Statement(doc, req.AccountID)
			fallbacks = doc.DateFallbacks + doc.AmountFallbacks
			break
		}
		if !detected {
			return nil, &models.ParseError{Format: string(parser.FormatStatement), Err: errors.New(doc.Error)}
		}
		i.logger.Warn("statement parse failed, retrying as delimited text", "err", doc.Error)
		res.Format = parser.FormatDelimited
		txs, err = i.delimited(data, req, res, i.commaBias)
	case parser.FormatSpreadsheet:
		var table *parser.Table
		table, err = i.parser.ParseSpreadsheet(data)
		if err == nil {
			txs = i.fromTable(table, req, res)
		}
	default:
		txs, err = i.delimited(data, req, res, !detected || i.commaBias)
	}
	if err != nil {
		return nil, err
	}

	res.Report = i.matcher.Report(txs, req.Existing)
	matched := res.Report.Result()

	added, updates, ruleAnomalies := i.engine.Categorize(req.Rules, matched.Unique, !req.ApplyAllMatches)
	res.Added = added
	res.Duplicates = matched.Duplicates
	res.Updated = matched.Updated
	res.RuleUpdates = updates
	res.RuleAnomalies = ruleAnomalies
	res.Transactions = make([]models.Transaction, 0, len(added)+len(matched.Updated))
	res.Transactions = append(res.Transactions, added...)
	res.Transactions = append(res.Transactions, matched.Updated...)

	res.Stats = models.ImportStats{
		Added:      len(added),
		Duplicates: len(matched.Duplicates),
		Updated:    len(matched.Updated),
		Errors:     len(res.Anomalies) + fallbacks,
	}
	i.logger.Info("import complete",
		"format", res.Format,
		"account_id", req.AccountID,
		"added", res.Stats.Added,
		"duplicates", res.Stats.Duplicates,
		"updated", res.Stats.Updated,
		"errors", res.Stats.Errors,
	)
	if res.Stats.Errors > 0 {
		i.logger.Warn("import finished with degraded records", "errors", res.Stats.Errors)
	}
	return res, nil
}

func (i *Importer) delimited(data []byte, req Request, res *Result, declared bool) ([]models.Transaction, error) {
	table, err := i.parser.ParseDelimited(parser.Text(data), declared)
	if err != nil {
		return nil, err
	}
	return i.fromTable(table, req, res), nil
}

func (i *Importer) fromTable(table *parser.Table, req Request, res *Result) []models.Transaction {
	res.Headers = table.Headers
	res.Delimiter = table.Delimiter

	m := mapping.Resolve(table.Headers, req.Mapping)
	res.Mapping = m
	if _, ok := m[models.FieldDate]; !ok {
		i.logger.Warn("no date column mapped", "headers", table.Headers)
	}
	_, hasAmount := m[models.FieldAmount]
	_, hasInflow := m[models.FieldInflow]
	_, hasOutflow := m[models.FieldOutflow]
	if !hasAmount && !hasInflow && !hasOutflow {
		i.logger.Warn("no amount column mapped", "headers", table.Headers)
	}

	txs, anomalies := i.normalizer.Records(table.Rows, m, req.AccountID)
	res.Anomalies = append(append(res.Anomalies, table.Anomalies...), anomalies...)
	return txs
}
