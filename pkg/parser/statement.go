package parser

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/yurifrl/budgetimport/pkg/models"
)

const maxTagDepth = 64

var (
	openTagPattern = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_.]*)>`)
	leafPattern    = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_.]*)>([^<]*)`)
	piPattern      = regexp.MustCompile(`(?s)<\?.*?\?>`)
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// cleanups holds the only dialect-specific step. Everything after it is shared.
var cleanups = map[models.Dialect]func(string) string{
	models.DialectSGML: cleanSGML,
	models.DialectXML:  cleanXML,
}

type node struct {
	name     string
	text     string
	children []*node
}

func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) childrenNamed(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// value follows path through direct children and returns the leaf text.
func (n *node) value(path ...string) string {
	cur := n
	for _, name := range path {
		cur = cur.child(name)
		if cur == nil {
			return ""
		}
	}
	return cur.text
}

// find returns the first descendant named name, depth first.
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant named name without descending into matches.
func (n *node) findAll(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// walk returns the top-level tags of content. Inner content that holds more
// tags is walked recursively; anything else becomes the node's text.
func walk(content string, depth int) []*node {
	var out []*node
	pos := 0
	for pos < len(content) {
		loc := openTagPattern.FindStringSubmatchIndex(content[pos:])
		if loc == nil {
			break
		}
		name := content[pos+loc[2] : pos+loc[3]]
		innerStart := pos + loc[1]

		end, closeLen := findClose(content, innerStart, name)
		if end < 0 {
			stop := len(content)
			if next := strings.IndexByte(content[innerStart:], '<'); next >= 0 {
				stop = innerStart + next
			}
			out = append(out, &node{name: strings.ToUpper(name), text: leafText(content[innerStart:stop])})
			pos = stop
			continue
		}

		inner := content[innerStart:end]
		n := &node{name: strings.ToUpper(name)}
		if depth < maxTagDepth && openTagPattern.MatchString(inner) {
			n.children = walk(inner, depth+1)
		} else {
			n.text = leafText(inner)
		}
		out = append(out, n)
		pos = end + closeLen
	}
	return out
}

// findClose locates the close tag pairing with an open tag that ended at
// from, counting nested tags of the same name.
func findClose(content string, from int, name string) (int, int) {
	open := "<" + name + ">"
	closing := "</" + name + ">"
	depth := 1
	i := from
	for {
		nc := strings.Index(content[i:], closing)
		if nc < 0 {
			return -1, 0
		}
		if no := strings.Index(content[i:], open); no >= 0 && no < nc {
			depth++
			i += no + len(open)
			continue
		}
		depth--
		if depth == 0 {
			return i + nc, len(closing)
		}
		i += nc + len(closing)
	}
}

func leafText(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}

func detectDialect(text string) models.Dialect {
	head := text
	if len(head) > 4096 {
		head = head[:4096]
	}
	upper := strings.ToUpper(head)
	switch {
	case strings.HasPrefix(strings.TrimSpace(upper), "<?XML"), strings.Contains(upper, "<?OFX"):
		return models.DialectXML
	case strings.Contains(upper, "OFXHEADER"):
		return models.DialectSGML
	case strings.Contains(upper, "<OFX>"), strings.Contains(upper, "<STMTTRN>"):
		return models.DialectSGML
	}
	return models.DialectUnknown
}

// cleanSGML drops the colon-separated header block and closes leaf elements,
// which the legacy dialect may leave open.
func cleanSGML(text string) string {
	if i := strings.Index(strings.ToUpper(text), "<OFX>"); i >= 0 {
		text = text[i:]
	}
	text = commentPattern.ReplaceAllString(text, "")
	return closeLeaves(text)
}

func cleanXML(text string) string {
	text = piPattern.ReplaceAllString(text, "")
	return commentPattern.ReplaceAllString(text, "")
}

// closeLeaves turns "<TAG>value" into "<TAG>value</TAG>" when the close tag
// is missing.
func closeLeaves(s string) string {
	var b strings.Builder
	last := 0
	for _, m := range leafPattern.FindAllStringSubmatchIndex(s, -1) {
		name, value := s[m[2]:m[3]], s[m[4]:m[5]]
		if strings.TrimSpace(value) == "" {
			continue
		}
		closing := "</" + name + ">"
		if strings.HasPrefix(s[m[5]:], closing) {
			continue
		}
		trimmed := strings.TrimRightFunc(value, unicode.IsSpace)
		b.WriteString(s[last:m[4]])
		b.WriteString(trimmed)
		b.WriteString(closing)
		b.WriteString(value[len(trimmed):])
		last = m[5]
	}
	b.WriteString(s[last:])
	return b.String()
}

// ParseStatement parses statement markup. It never fails outright: problems
// are reported through the document's Error field so callers can fall back to
// another format.
func (p *Parser) ParseStatement(text string) (doc *models.StatementDocument) {
	doc = &models.StatementDocument{}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("statement parse panic", "panic", r)
			doc = &models.StatementDocument{Error: fmt.Sprintf("statement parse failed: %v", r)}
		}
	}()

	text = Text([]byte(text))
	if strings.TrimSpace(text) == "" {
		doc.Error = models.ErrEmptyInput.Error()
		return doc
	}

	doc.Dialect = detectDialect(text)
	clean, ok := cleanups[doc.Dialect]
	if !ok {
		doc.Error = "unrecognized statement markup"
		return doc
	}

	root := &node{name: "ROOT", children: walk(clean(text), 0)}
	ex := &extractor{doc: doc, now: time.Now}

	if fi := root.find("FI"); fi != nil {
		doc.Institution = models.Institution{Org: fi.value("ORG"), FID: fi.value("FID")}
	}
	for _, rs := range root.findAll("STMTRS") {
		doc.Statements = append(doc.Statements, ex.statement(rs, models.BankAccount))
	}
	for _, rs := range root.findAll("CCSTMTRS") {
		doc.Statements = append(doc.Statements, ex.statement(rs, models.CreditCardAccount))
	}
	if len(doc.Statements) == 0 {
		if trns := root.findAll("STMTTRN"); len(trns) > 0 {
			st := models.Statement{Kind: models.BankAccount}
			for _, t := range trns {
				st.Transactions = append(st.Transactions, ex.transaction(t))
			}
			doc.Statements = append(doc.Statements, st)
		}
	}
	if len(doc.Statements) == 0 {
		doc.Error = models.ErrNoStatement.Error()
		return doc
	}

	p.logger.Debug("parsed statement",
		"dialect", doc.Dialect,
		"statements", len(doc.Statements),
		"transactions", doc.TransactionCount(),
		"date_fallbacks", doc.DateFallbacks,
	)
	return doc
}

type extractor struct {
	doc *models.StatementDocument
	now func() time.Time
}

func (e *extractor) statement(rs *node, kind models.AccountKind) models.Statement {
	st := models.Statement{Kind: kind, Currency: rs.value("CURDEF")}

	acct := rs.child("BANKACCTFROM")
	if kind == models.CreditCardAccount {
		acct = rs.child("CCACCTFROM")
	}
	if acct != nil {
		st.AccountID = acct.value("ACCTID")
		st.BankID = acct.value("BANKID")
		st.AccountType = acct.value("ACCTTYPE")
	}
	if kind == models.CreditCardAccount && st.AccountType == "" {
		st.AccountType = "CREDITCARD"
	}

	if list := rs.child("BANKTRANLIST"); list != nil {
		st.StartDate = e.optionalDate(list.value("DTSTART"))
		st.EndDate = e.optionalDate(list.value("DTEND"))
		for _, t := range list.childrenNamed("STMTTRN") {
			st.Transactions = append(st.Transactions, e.transaction(t))
		}
	}
	st.LedgerBalance = e.balance(rs.child("LEDGERBAL"))
	st.AvailableBalance = e.balance(rs.child("AVAILBAL"))
	return st
}

func (e *extractor) transaction(t *node) models.StatementTransaction {
	raw := t.value("DTPOSTED")
	if raw == "" {
		raw = t.value("DTUSER")
	}
	date, ok := ParseStatementDate(raw)
	if !ok {
		e.doc.DateFallbacks++
		date = e.now()
	}

	amount, ok := ParseStatementAmount(t.value("TRNAMT"))
	if !ok {
		e.doc.AmountFallbacks++
	}

	payee := t.value("NAME")
	if payee == "" {
		payee = t.value("PAYEE", "NAME")
	}

	return models.StatementTransaction{
		NativeID:    t.value("FITID"),
		Date:        date,
		Amount:      amount,
		Payee:       payee,
		Memo:        t.value("MEMO"),
		CheckNumber: t.value("CHECKNUM"),
		Kind:        models.ParseTransactionKind(strings.ToUpper(t.value("TRNTYPE"))),
	}
}

func (e *extractor) optionalDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	d, ok := ParseStatementDate(raw)
	if !ok {
		e.doc.DateFallbacks++
		return e.now()
	}
	return d
}

func (e *extractor) balance(n *node) *models.Balance {
	if n == nil {
		return nil
	}
	amount, ok := ParseStatementAmount(n.value("BALAMT"))
	if !ok {
		return nil
	}
	return &models.Balance{Amount: amount, AsOf: e.optionalDate(n.value("DTASOF"))}
}

// ParseStatementDate reads YYYYMMDD[HHMMSS[.fff]][tz] in UTC. The timezone
// bracket and fractional seconds are ignored.
func ParseStatementDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 14 {
		s = s[:14]
	}
	if len(s) < 8 {
		return time.Time{}, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}

	field := func(from, to int) int {
		if len(s) < to {
			return 0
		}
		n, _ := strconv.Atoi(s[from:to])
		return n
	}
	y, m, d := field(0, 4), field(4, 6), field(6, 8)
	hh, mm, ss := field(8, 10), field(10, 12), field(12, 14)
	if m < 1 || m > 12 || d < 1 || d > 31 || hh > 23 || mm > 59 || ss > 59 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, hh, mm, ss, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// ParseStatementAmount parses a signed TRNAMT value. Decimal commas are
// accepted since some banks emit them.
func ParseStatementAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
