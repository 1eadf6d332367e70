package parser

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/log"
)

// Format is the input family a file is parsed as.
type Format string

const (
	FormatAuto        Format = ""
	FormatDelimited   Format = "delimited"
	FormatStatement   Format = "statement"
	FormatSpreadsheet Format = "spreadsheet"
)

// ParseFormat accepts the user-facing names for a format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, true
	case "delimited", "csv", "tsv", "txt":
		return FormatDelimited, true
	case "statement", "ofx", "qfx":
		return FormatStatement, true
	case "spreadsheet", "xls":
		return FormatSpreadsheet, true
	}
	return FormatAuto, false
}

var ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

type Parser struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Parser {
	return &Parser{
		logger: logger,
	}
}

// Detect sniffs the content signature. The file name is never consulted.
func Detect(data []byte) Format {
	if bytes.HasPrefix(data, ole2Magic) {
		return FormatSpreadsheet
	}
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	upper := strings.ToUpper(string(head))
	switch {
	case strings.Contains(upper, "OFXHEADER"),
		strings.Contains(upper, "<?OFX"),
		strings.Contains(upper, "<OFX>"),
		strings.Contains(upper, "<STMTTRN>"):
		return FormatStatement
	}
	return FormatDelimited
}

// Text decodes raw bytes for the text parsers: strips a UTF-8 BOM and
// normalizes line endings.
func Text(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
