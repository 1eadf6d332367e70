package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/extrame/xls"

	"github.com/yurifrl/budgetimport/pkg/models"
)

const maxSpreadsheetRows = 10000

// headerHints are words that usually appear on the header row of bank
// spreadsheets, which often start with a few rows of account information.
var headerHints = []string{"date", "data", "amount", "valor", "value", "description", "descrição", "payee", "lançamento", "memo"}

// ParseSpreadsheet reads the first sheet of a legacy .xls workbook into the
// same table shape the delimited parser produces.
func (p *Parser) ParseSpreadsheet(data []byte) (*Table, error) {
	if len(data) == 0 {
		return nil, &models.InputError{Err: models.ErrEmptyInput}
	}

	workbook, err := xls.OpenReader(bytes.NewReader(data), "cp1252")
	if err != nil {
		return nil, &models.ParseError{Format: string(FormatSpreadsheet), Err: fmt.Errorf("failed to open workbook: %w", err)}
	}

	rows := workbook.ReadAllCells(maxSpreadsheetRows)
	if len(rows) == 0 {
		return nil, &models.ParseError{Format: string(FormatSpreadsheet), Err: models.ErrNoHeaders}
	}

	headerIdx := findHeaderRow(rows)
	if headerIdx < 0 {
		return nil, &models.ParseError{Format: string(FormatSpreadsheet), Err: models.ErrNoHeaders}
	}
	headers := uniqueHeaders(cleanHeaders(rows[headerIdx]))
	p.logger.Debug("spreadsheet header", "row", headerIdx+1, "headers", headers)

	table := &Table{Headers: headers}
	for i, row := range rows[headerIdx+1:] {
		line := headerIdx + i + 2
		if allEmpty(row) {
			continue
		}
		fields, anomaly := fitRow(trimAll(row), len(headers), line)
		if anomaly != nil {
			table.Anomalies = append(table.Anomalies, anomaly)
		}
		table.Rows = append(table.Rows, models.NewRawRecord(line, headers, fields))
	}
	if len(table.Rows) == 0 {
		return nil, &models.ParseError{Format: string(FormatSpreadsheet), Line: headerIdx + 1, Err: models.ErrNoDataRows}
	}
	return table, nil
}

func findHeaderRow(rows [][]string) int {
	first := -1
	for i, row := range rows {
		if filled(row) < 2 {
			continue
		}
		if first < 0 {
			first = i
		}
		for _, cell := range row {
			lower := strings.ToLower(strings.TrimSpace(cell))
			for _, hint := range headerHints {
				if lower == hint || strings.HasPrefix(lower, hint+" ") {
					return i
				}
			}
		}
	}
	return first
}

func filled(row []string) int {
	n := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}
