package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/parser"
)

type YNABConfig struct {
	BudgetID string `yaml:"budget_id"`
	TokenEnv string `yaml:"token_env"`
}

// Plan is an import manifest: which files go to which accounts.
type Plan struct {
	YNAB       YNABConfig  `yaml:"ynab"`
	Rules      string      `yaml:"rules"`
	Statements []Statement `yaml:"statements"`

	dir string
}

type Statement struct {
	File        string            `yaml:"file"`
	Account     string            `yaml:"account"`
	Format      string            `yaml:"format"`
	Mapping     map[string]string `yaml:"mapping"`
	YNABAccount string            `yaml:"ynab_account"`
}

func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	p.dir = filepath.Dir(path)
	return p, nil
}

func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	if len(p.Statements) == 0 {
		return nil, fmt.Errorf("plan has no statements")
	}
	for i, st := range p.Statements {
		if st.File == "" {
			return nil, fmt.Errorf("statement %d: missing file", i+1)
		}
		if st.Account == "" {
			return nil, fmt.Errorf("statement %s: missing account", st.File)
		}
		if _, ok := parser.ParseFormat(st.Format); !ok {
			return nil, fmt.Errorf("statement %s: unknown format %q", st.File, st.Format)
		}
		for field := range st.Mapping {
			if !models.IsCanonicalField(field) {
				return nil, fmt.Errorf("statement %s: unknown mapping field %q", st.File, field)
			}
		}
	}
	return &p, nil
}

// Path resolves a statement or rules path: ~ expands to the home directory
// and relative paths are taken from the plan file's directory.
func (p *Plan) Path(file string) (string, error) {
	if strings.HasPrefix(file, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, file[2:]), nil
	}
	if filepath.IsAbs(file) || p.dir == "" {
		return file, nil
	}
	return filepath.Join(p.dir, file), nil
}

// FormatOf returns the parsed format override of a statement.
func (s Statement) FormatOf() parser.Format {
	f, _ := parser.ParseFormat(s.Format)
	return f
}

// FieldMapping returns the statement's mapping override, or nil.
func (s Statement) FieldMapping() models.FieldMapping {
	if len(s.Mapping) == 0 {
		return nil
	}
	return models.FieldMapping(s.Mapping)
}

func (p *Plan) Print() {
	if p.YNAB.BudgetID != "" {
		fmt.Printf("YNAB budget: %s\n", p.YNAB.BudgetID)
	}
	if p.Rules != "" {
		fmt.Printf("Rules: %s\n", p.Rules)
	}
	for i, st := range p.Statements {
		format := st.Format
		if format == "" {
			format = "auto"
		}
		fmt.Printf("[%d] file=%s account=%s format=%s\n", i+1, st.File, st.Account, format)
	}
}
