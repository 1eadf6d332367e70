package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/yurifrl/budgetimport/pkg/config"
	"github.com/yurifrl/budgetimport/pkg/executors"
	"github.com/yurifrl/budgetimport/pkg/mapping"
	"github.com/yurifrl/budgetimport/pkg/parser"
	"github.com/yurifrl/budgetimport/pkg/plan"
	"github.com/yurifrl/budgetimport/pkg/rules"
	"github.com/yurifrl/budgetimport/pkg/store"
	"github.com/yurifrl/budgetimport/pkg/ynab"
)

var (
	cliFilters filters
	importOpts importOptions
	cfgFile    string
)

var rootCmd = &cobra.Command{
	Use:           "budgetimport",
	Short:         "Import bank statements and categorize transactions",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// env bundles what every subcommand needs.
type env struct {
	config *config.Config
	logger *log.Logger
	store  store.Store
	ledger *store.Ledger
}

func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("failed to close store", "err", err)
		}
	}
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Build(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "budgetimport",
		Level:           cfg.LogLevel(),
	})

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	logger.Debug("opened store", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	return &env{config: cfg, logger: logger, store: st, ledger: store.NewLedger(st)}, nil
}

var importCmd = &cobra.Command{
	Use:   "import [flags] <input_path>",
	Short: "Import statement files into an account ledger",
	Long: "Import parses every file matching input_path (a file, glob or directory), " +
		"drops duplicates of the stored ledger and applies the categorization rules. " +
		"Nothing is stored unless --apply is given.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if importOpts.account == "" {
			return fmt.Errorf("--account is required")
		}
		imp, err := e.config.NewImporter(e.logger)
		if err != nil {
			return err
		}
		importOpts.applyAll = e.config.Import.ApplyAllMatches
		processor := NewFileProcessor(e.logger, imp, e.ledger, &cliFilters, &importOpts)

		matches, err := filepath.Glob(args[0])
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("no files found matching pattern %s", args[0])
		}

		ctx := cmd.Context()
		for _, match := range matches {
			fileInfo, err := os.Stat(match)
			if err != nil {
				e.logger.Warn("failed to stat file", "error", err, "file", match)
				continue
			}

			if fileInfo.IsDir() {
				if err := processor.ProcessDirectory(ctx, match); err != nil {
					e.logger.Warn("failed to process directory", "error", err, "dir", match)
				}
			} else {
				if err := processor.ProcessFile(ctx, match); err != nil {
					e.logger.Warn("failed to process file", "error", err, "file", match)
				}
			}
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <plan_file>",
	Short: "Preview a YAML plan of statements (dry-run)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd, args[0], false)
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <plan_file>",
	Short: "Import a YAML plan of statements and store the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd, args[0], true)
	},
}

func runPlan(cmd *cobra.Command, planPath string, apply bool) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	imp, err := e.config.NewImporter(e.logger)
	if err != nil {
		return err
	}

	exec := executors.New(e.logger, e.config, imp, e.ledger, remoteClient(e, p))
	if !apply {
		fmt.Printf("Plan preview for %s\n", planPath)
		p.Print()
		return exec.Plan(cmd.Context(), p)
	}
	return exec.Apply(cmd.Context(), p)
}

// remoteClient returns a YNAB client when a token is available.
func remoteClient(e *env, p *plan.Plan) *ynab.YNABClient {
	tokenEnv := e.config.YNAB.TokenEnv
	if p.YNAB.TokenEnv != "" {
		tokenEnv = p.YNAB.TokenEnv
	}
	token := config.YNABConfig{TokenEnv: tokenEnv}.Token()
	if token == "" {
		e.logger.Debug("no ynab token, remote ledger disabled", "token_env", tokenEnv)
		return nil
	}
	return ynab.New(token)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show how a file is detected, parsed and mapped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "budgetimport"})
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		p := parser.New(logger)
		format := parser.Detect(data)
		fmt.Printf("format: %s\n", format)

		switch format {
		case parser.FormatStatement:
			pp.Println(p.ParseStatement(parser.Text(data)))
			return nil
		case parser.FormatSpreadsheet:
			table, err := p.ParseSpreadsheet(data)
			if err != nil {
				return err
			}
			pp.Println(table)
			pp.Println(mapping.Infer(table.Headers))
			return nil
		}

		text := parser.Text(data)
		fmt.Printf("preview:\n%s\n", strings.Join(parser.Preview(text, 5), "\n"))
		table, err := p.ParseDelimited(text, true)
		if err != nil {
			return err
		}
		fmt.Printf("delimiter: %s\n", parser.DelimiterName(table.Delimiter))
		pp.Println(table.Headers)
		pp.Println(mapping.Infer(table.Headers))
		if len(table.Anomalies) > 0 {
			pp.Println(table.Anomalies)
		}
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage stored categorization rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the stored rules as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		rs, err := e.ledger.Rules(cmd.Context())
		if err != nil {
			return err
		}
		out, err := rules.Marshal(rs)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <rules_file>",
	Short: "Replace the stored rules with a YAML rules file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		rs, err := rules.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := e.ledger.SaveRules(cmd.Context(), rs); err != nil {
			return err
		}
		e.logger.Info("stored rules", "count", len(rs))
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default is config.yaml)")
	rootCmd.PersistentFlags().String("store.path", "", "Ledger database path")
	rootCmd.PersistentFlags().String("store.driver", "", "Ledger store driver (sqlite or memory)")
	rootCmd.PersistentFlags().String("log.level", "", "Log level")

	// Filter flags (global)
	rootCmd.PersistentFlags().StringVar(&cliFilters.startDate, "start", "", "Start date (YYYY/MM/DD)")
	rootCmd.PersistentFlags().StringVar(&cliFilters.endDate, "end", "", "End date (YYYY/MM/DD)")
	rootCmd.PersistentFlags().Float64Var(&cliFilters.minAmount, "min", 0, "Minimum amount")
	rootCmd.PersistentFlags().Float64Var(&cliFilters.maxAmount, "max", 0, "Maximum amount")
	rootCmd.PersistentFlags().StringVar(&cliFilters.payee, "payee", "", "Filter by payee (case insensitive)")

	importCmd.Flags().StringVarP(&importOpts.account, "account", "a", "", "Account the transactions belong to")
	importCmd.Flags().StringVarP(&importOpts.format, "format", "f", "", "Input format (csv, ofx, xls); detected when empty")
	importCmd.Flags().StringToStringVarP(&importOpts.mapping, "map", "m", nil, "Field mapping override, e.g. date=Posted,amount=Value")
	importCmd.Flags().StringVarP(&importOpts.out, "out", "o", "table", "Output: table or csv")
	importCmd.Flags().StringVar(&importOpts.rulesFile, "rules", "", "Rules file (default: stored rules)")
	importCmd.Flags().BoolVar(&importOpts.apply, "apply", false, "Store the imported transactions")
	importCmd.Flags().Bool("import.apply_all_matches", false, "Apply every matching rule instead of the first")
	importCmd.Flags().Bool("import.row_hash_ids", false, "Derive ids from row content")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesImportCmd)

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(rulesCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
