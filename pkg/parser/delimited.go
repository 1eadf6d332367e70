package parser

import (
	"fmt"
	"strings"

	"github.com/yurifrl/budgetimport/pkg/models"
)

const (
	sniffOccurrenceLines  = 5
	sniffConsistencyLines = 10
)

// Candidate delimiters in preference order.
var delimiters = []rune{',', ';', '\t', '|'}

// Table is a fully parsed delimited file.
type Table struct {
	Delimiter rune
	Headers   []string
	Rows      []models.RawRecord
	Anomalies []*models.FieldAnomaly
}

type delimiterScore struct {
	delim       rune
	occurrences int
	consistency int
	viable      bool
}

// ParseDelimited sniffs the delimiter and parses text into headers and rows.
// declared marks input the caller already knows to be delimited text, which
// lets comma win ties.
func (p *Parser) ParseDelimited(text string, declared bool) (*Table, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &models.InputError{Err: models.ErrEmptyInput}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	delim := SniffDelimiter(text, declared)
	p.logger.Debug("sniffed delimiter", "delimiter", string(delim))

	records := tokenize(text, delim)

	headerIdx := -1
	for i, rec := range records {
		if !rec.blank() {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &models.InputError{Err: models.ErrEmptyInput}
	}

	header := records[headerIdx]
	headers := cleanHeaders(header.fields)
	resplit := false
	if len(headers) == 1 && strings.ContainsRune(headers[0], delim) {
		headers = cleanHeaders(splitLine(headers[0], delim))
		resplit = true
		p.logger.Debug("re-split single header", "headers", len(headers))
	}
	if allEmpty(headers) {
		return nil, &models.ParseError{Format: string(FormatDelimited), Line: header.line, Err: models.ErrNoHeaders}
	}
	headers = uniqueHeaders(headers)

	table := &Table{Delimiter: delim, Headers: headers}
	for _, rec := range records[headerIdx+1:] {
		if rec.blank() || allEmpty(rec.fields) {
			continue
		}
		fields := trimAll(rec.fields)
		if resplit && len(fields) == 1 && strings.ContainsRune(fields[0], delim) {
			fields = trimAll(splitLine(fields[0], delim))
		}
		fields, anomaly := fitRow(fields, len(headers), rec.line)
		if anomaly != nil {
			p.logger.Debug("row field count mismatch", "line", rec.line, "err", anomaly.Err)
			table.Anomalies = append(table.Anomalies, anomaly)
		}
		table.Rows = append(table.Rows, models.NewRawRecord(rec.line, headers, fields))
	}

	if len(table.Rows) == 0 {
		return nil, &models.ParseError{Format: string(FormatDelimited), Line: header.line, Err: models.ErrNoDataRows}
	}
	return table, nil
}

// SniffDelimiter picks the candidate that splits the most lines into the same
// number of fields, breaking ties by raw occurrences.
func SniffDelimiter(text string, declared bool) rune {
	lines := nonBlankLines(text, sniffConsistencyLines)

	scores := make([]delimiterScore, 0, len(delimiters))
	for _, d := range delimiters {
		s := delimiterScore{delim: d}
		counts := make(map[int]int)
		for i, line := range lines {
			if i < sniffOccurrenceLines {
				s.occurrences += strings.Count(line, string(d))
			}
			counts[len(splitLine(line, d))]++
		}
		for n, c := range counts {
			if n < 2 {
				continue
			}
			s.viable = true
			if c > s.consistency {
				s.consistency = c
			}
		}
		scores = append(scores, s)
	}

	var best *delimiterScore
	for i := range scores {
		s := &scores[i]
		if !s.viable {
			continue
		}
		if best == nil || better(s, best, declared) {
			best = s
		}
	}
	if best == nil {
		return ','
	}
	return best.delim
}

func better(a, b *delimiterScore, commaBias bool) bool {
	if a.consistency != b.consistency {
		return a.consistency > b.consistency
	}
	if commaBias {
		if a.delim == ',' {
			return true
		}
		if b.delim == ',' {
			return false
		}
	}
	return a.occurrences > b.occurrences
}

type scannedRecord struct {
	line   int
	fields []string
}

func (r scannedRecord) blank() bool {
	return len(r.fields) == 0 || (len(r.fields) == 1 && strings.TrimSpace(r.fields[0]) == "")
}

// tokenize scans text once. A quote opens a quoted field only at the start of
// a field; inside quotes, "" and \" are literal quotes and newlines are kept.
func tokenize(text string, delim rune) []scannedRecord {
	var (
		out      []scannedRecord
		fields   []string
		field    strings.Builder
		inQuotes bool
		line     = 1
		start    = 1
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inQuotes && c == '\\' && i+1 < len(runes) && runes[i+1] == '"':
			field.WriteRune('"')
			i++
		case inQuotes && c == '"':
			if i+1 < len(runes) && runes[i+1] == '"' {
				field.WriteRune('"')
				i++
				continue
			}
			inQuotes = false
		case c == '"' && strings.TrimSpace(field.String()) == "":
			field.Reset()
			inQuotes = true
		case c == delim && !inQuotes:
			fields = append(fields, field.String())
			field.Reset()
		case c == '\n':
			if inQuotes {
				field.WriteRune(c)
				line++
				continue
			}
			fields = append(fields, field.String())
			field.Reset()
			out = append(out, scannedRecord{line: start, fields: fields})
			fields = nil
			line++
			start = line
		default:
			field.WriteRune(c)
		}
	}
	if field.Len() > 0 || len(fields) > 0 {
		fields = append(fields, field.String())
		out = append(out, scannedRecord{line: start, fields: fields})
	}
	return out
}

func splitLine(line string, delim rune) []string {
	recs := tokenize(line, delim)
	if len(recs) == 0 {
		return []string{""}
	}
	return recs[0].fields
}

// fitRow pads or truncates fields to want. Off-by-one rows are routine; larger
// mismatches come back as an anomaly.
func fitRow(fields []string, want, line int) ([]string, *models.FieldAnomaly) {
	diff := len(fields) - want
	var anomaly *models.FieldAnomaly
	if diff < -1 || diff > 1 {
		anomaly = &models.FieldAnomaly{
			Line:  line,
			Field: "*",
			Value: strings.Join(fields, " "),
			Err:   fmt.Errorf("expected %d fields, got %d", want, len(fields)),
		}
	}
	switch {
	case diff < 0:
		for len(fields) < want {
			fields = append(fields, "")
		}
	case diff > 0:
		fields = fields[:want]
	}
	return fields, anomaly
}

func cleanHeaders(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if len(h) >= 2 && h[0] == '"' && h[len(h)-1] == '"' {
			h = strings.TrimSpace(h[1 : len(h)-1])
		}
		out[i] = h
	}
	return out
}

// uniqueHeaders names blank columns by position and suffixes repeated names,
// since rows are keyed by header.
func uniqueHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s_%d", h, n)
		}
		out[i] = h
	}
	return out
}

func trimAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

func allEmpty(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func nonBlankLines(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}
