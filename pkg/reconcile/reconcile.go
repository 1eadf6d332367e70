// Package reconcile compares an incoming batch of canonical transactions with
// the ledger they are about to join.
package reconcile

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/models"
)

const (
	DefaultWindowDays = 3
)

// DefaultEpsilon is the largest amount difference still treated as equal.
var DefaultEpsilon = decimal.New(1, -2)

// Status indicates what happens to an incoming transaction.
//
//   - StatusNew:       no counterpart, will be added.
//   - StatusDuplicate: already present, nothing to do.
//   - StatusUpdated:   same identity with changed content.
type Status int

const (
	StatusNew Status = iota
	StatusDuplicate
	StatusUpdated
)

func (s Status) String() string {
	switch s {
	case StatusDuplicate:
		return "duplicate"
	case StatusUpdated:
		return "updated"
	}
	return "new"
}

type Option func(*Matcher)

func WithWindowDays(days int) Option {
	return func(m *Matcher) {
		if days >= 0 {
			m.windowDays = days
		}
	}
}

func WithEpsilon(eps decimal.Decimal) Option {
	return func(m *Matcher) { m.epsilon = eps.Abs() }
}

// WithPayeeSimilarity relaxes the exact payee comparison of the heuristic
// tier. 1 (the default) keeps exact matching; lower values accept payees
// whose normalized edit-distance similarity reaches the threshold.
func WithPayeeSimilarity(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.similarity = threshold
		}
	}
}

// WithClock replaces time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

type Matcher struct {
	logger     *log.Logger
	windowDays int
	epsilon    decimal.Decimal
	similarity float64
	now        func() time.Time
}

func New(logger *log.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		logger:     logger,
		windowDays: DefaultWindowDays,
		epsilon:    DefaultEpsilon,
		similarity: 1,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry links an incoming transaction with the existing one it matched, if
// any.
type Entry struct {
	Incoming models.Transaction
	Existing *models.Transaction
	Status   Status
}

// Report lists every incoming transaction with its status, in input order.
type Report struct {
	Items []Entry
}

// Match partitions incoming against existing. Neither slice is modified.
func (m *Matcher) Match(incoming, existing []models.Transaction) models.MatchResult {
	return m.Report(incoming, existing).Result()
}

// Report runs both tiers and keeps the per-transaction detail.
func (m *Matcher) Report(incoming, existing []models.Transaction) *Report {
	byID := make(map[string]int, len(existing))
	bySource := make(map[string]int, len(existing))
	for i, ex := range existing {
		byID[ex.ID] = i
		if ex.SourceID != "" {
			bySource[sourceKey(ex.AccountID, ex.SourceID)] = i
		}
	}

	consumed := make(map[int]bool)
	items := make([]Entry, 0, len(incoming))
	for _, in := range incoming {
		idx, ok := byID[in.ID]
		if !ok && in.SourceID != "" {
			idx, ok = bySource[sourceKey(in.AccountID, in.SourceID)]
		}
		if ok {
			ex := existing[idx]
			consumed[idx] = true
			if contentChanged(in, ex) {
				items = append(items, Entry{Incoming: m.refresh(in, ex), Existing: &ex, Status: StatusUpdated})
				continue
			}
			items = append(items, Entry{Incoming: in, Existing: &ex, Status: StatusDuplicate})
			continue
		}

		if in.Date.IsZero() {
			m.logger.Debug("incoming transaction has no usable date, keeping it", "id", in.ID)
			items = append(items, Entry{Incoming: in, Status: StatusNew})
			continue
		}

		found := -1
		for i := range existing {
			if consumed[i] {
				continue
			}
			if m.similar(in, existing[i]) {
				found = i
				break
			}
		}
		if found < 0 {
			items = append(items, Entry{Incoming: in, Status: StatusNew})
			continue
		}
		consumed[found] = true
		ex := existing[found]
		items = append(items, Entry{Incoming: in, Existing: &ex, Status: StatusDuplicate})
	}

	r := &Report{Items: items}
	m.logger.Debug("matched batch", "incoming", len(incoming), "existing", len(existing),
		"new", r.AddedCount(), "duplicates", r.DuplicateCount(), "updated", r.UpdatedCount())
	return r
}

// similar is the heuristic tier: dates within the window, amounts within
// epsilon, same payee.
func (m *Matcher) similar(in, ex models.Transaction) bool {
	if ex.Date.IsZero() {
		return false
	}
	if dayDistance(in.Date, ex.Date) > m.windowDays {
		return false
	}
	if in.Amount.Sub(ex.Amount).Abs().GreaterThanOrEqual(m.epsilon) {
		return false
	}
	return m.samePayee(in.Payee, ex.Payee)
}

func (m *Matcher) samePayee(a, b string) bool {
	if a == b {
		return true
	}
	if m.similarity >= 1 {
		return false
	}
	return PayeeSimilarity(a, b) >= m.similarity
}

// refresh carries the existing identity and user-assigned data onto the
// incoming content.
func (m *Matcher) refresh(in, ex models.Transaction) models.Transaction {
	out := in.Clone()
	out.ID = ex.ID
	out.CreatedAt = ex.CreatedAt
	out.UpdatedAt = m.now()
	out.IsReconciled = ex.IsReconciled
	if out.CategoryID == nil && ex.CategoryID != nil {
		c := *ex.CategoryID
		out.CategoryID = &c
	}
	out.Tags = models.MergeTags(ex.Tags, in.Tags...)
	return out
}

// PayeeSimilarity returns 1 - distance/maxLen over lower-cased payees.
func PayeeSimilarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func contentChanged(in, ex models.Transaction) bool {
	return !in.Amount.Equal(ex.Amount) || in.Payee != ex.Payee || in.Description != ex.Description
}

func sourceKey(accountID, sourceID string) string {
	return accountID + "\x00" + sourceID
}

// dayDistance compares calendar days so time-of-day never widens the window.
func dayDistance(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	diff := da.Sub(db).Hours() / 24
	if diff < 0 {
		diff = -diff
	}
	return int(diff + 0.5)
}

// Result converts the report into the three-way partition.
func (r *Report) Result() models.MatchResult {
	var res models.MatchResult
	for _, e := range r.Items {
		switch e.Status {
		case StatusDuplicate:
			res.Duplicates = append(res.Duplicates, e.Incoming)
		case StatusUpdated:
			res.Updated = append(res.Updated, e.Incoming)
		default:
			res.Unique = append(res.Unique, e.Incoming)
		}
	}
	return res
}

// AddedCount returns how many incoming transactions are new.
func (r *Report) AddedCount() int { return r.count(StatusNew) }

// DuplicateCount returns how many incoming transactions already exist.
func (r *Report) DuplicateCount() int { return r.count(StatusDuplicate) }

// UpdatedCount returns how many incoming transactions refresh existing ones.
func (r *Report) UpdatedCount() int { return r.count(StatusUpdated) }

func (r *Report) count(s Status) int {
	n := 0
	for _, e := range r.Items {
		if e.Status == s {
			n++
		}
	}
	return n
}
