package config

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/importer"
	"github.com/yurifrl/budgetimport/pkg/normalize"
	"github.com/yurifrl/budgetimport/pkg/reconcile"
	"github.com/yurifrl/budgetimport/pkg/rules"
)

// NewImporter wires an importer from the import section.
func (c *Config) NewImporter(logger *log.Logger) (*importer.Importer, error) {
	matchOpts := []reconcile.Option{
		reconcile.WithWindowDays(c.Import.DateWindowDays),
		reconcile.WithPayeeSimilarity(c.Import.PayeeSimilarity),
	}
	if c.Import.AmountEpsilon != "" {
		eps, err := decimal.NewFromString(c.Import.AmountEpsilon)
		if err != nil {
			return nil, fmt.Errorf("invalid import.amount_epsilon %q: %w", c.Import.AmountEpsilon, err)
		}
		matchOpts = append(matchOpts, reconcile.WithEpsilon(eps))
	}

	return importer.New(logger,
		importer.WithCommaBias(c.Import.CommaBias),
		importer.WithNormalizer(normalize.New(logger, normalize.WithRowHash(c.Import.RowHashIDs))),
		importer.WithMatcher(reconcile.New(logger, matchOpts...)),
		importer.WithEngine(rules.New(logger)),
	), nil
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
