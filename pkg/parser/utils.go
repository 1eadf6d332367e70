package parser

import "strings"

// Preview returns the first n non-blank lines of text, for diagnostics.
func Preview(text string, n int) []string {
	return nonBlankLines(strings.ReplaceAll(text, "\r\n", "\n"), n)
}

// DelimiterName renders a delimiter for logs and CLI output.
func DelimiterName(d rune) string {
	switch d {
	case '\t':
		return "tab"
	case ',':
		return "comma"
	case ';':
		return "semicolon"
	case '|':
		return "pipe"
	case 0:
		return "none"
	}
	return string(d)
}
