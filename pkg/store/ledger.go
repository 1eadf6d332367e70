package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yurifrl/budgetimport/pkg/models"
	"github.com/yurifrl/budgetimport/pkg/rules"
)

const (
	ledgerPrefix = "ledger/"
	rulesKey     = "rules"
)

// Ledger keeps per-account transaction lists and the rule set in a Store.
// Callers serialize imports against the same account.
type Ledger struct {
	store Store
}

func NewLedger(s Store) *Ledger {
	return &Ledger{store: s}
}

// Transactions returns the stored transactions of an account, or nil.
func (l *Ledger) Transactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	data, err := l.store.Get(ctx, ledgerPrefix+accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var txs []models.Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", accountID, err)
	}
	return txs, nil
}

// Accounts lists the account ids that have a ledger.
func (l *Ledger) Accounts(ctx context.Context) ([]string, error) {
	keys, err := l.store.Keys(ctx, ledgerPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, ledgerPrefix))
	}
	return out, nil
}

// Merge appends added transactions and replaces updated ones by id, then
// stores the account ledger sorted by date.
func (l *Ledger) Merge(ctx context.Context, accountID string, added, updated []models.Transaction) ([]models.Transaction, error) {
	current, err := l.Transactions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(current))
	for i, tx := range current {
		index[tx.ID] = i
	}
	for _, tx := range updated {
		if i, ok := index[tx.ID]; ok {
			current[i] = tx
			continue
		}
		index[tx.ID] = len(current)
		current = append(current, tx)
	}
	for _, tx := range added {
		if _, ok := index[tx.ID]; ok {
			continue
		}
		index[tx.ID] = len(current)
		current = append(current, tx)
	}
	sort.SliceStable(current, func(i, j int) bool { return current[i].Date.Before(current[j].Date) })

	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger %s: %w", accountID, err)
	}
	if err := l.store.Put(ctx, ledgerPrefix+accountID, data); err != nil {
		return nil, err
	}
	return current, nil
}

// Rules returns the stored rule set, or nil when none was saved.
func (l *Ledger) Rules(ctx context.Context) ([]models.Rule, error) {
	data, err := l.store.Get(ctx, rulesKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var specs []rules.RuleSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return rules.Decode(specs)
}

// SaveRules replaces the stored rule set.
func (l *Ledger) SaveRules(ctx context.Context, rs []models.Rule) error {
	data, err := json.Marshal(rules.Encode(rs))
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	return l.store.Put(ctx, rulesKey, data)
}

// RecordRuleStats folds statistics updates into the stored rules.
func (l *Ledger) RecordRuleStats(ctx context.Context, updates []models.RuleStatsUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	current, err := l.Rules(ctx)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}
	return l.SaveRules(ctx, rules.ApplyStats(current, updates))
}
