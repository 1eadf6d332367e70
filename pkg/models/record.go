package models

import (
	"strconv"
	"strings"
)

// Canonical field names a FieldMapping may target.
const (
	FieldDate        = "date"
	FieldAmount      = "amount"
	FieldPayee       = "payee"
	FieldDescription = "description"
	FieldType        = "type"
	FieldCategory    = "category"
	FieldInflow      = "inflow"
	FieldOutflow     = "outflow"
)

// CanonicalFields lists every field a mapping may target, in resolution order.
var CanonicalFields = []string{
	FieldDate,
	FieldAmount,
	FieldPayee,
	FieldDescription,
	FieldType,
	FieldCategory,
	FieldInflow,
	FieldOutflow,
}

// IsCanonicalField reports whether name is a known canonical field.
func IsCanonicalField(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// FieldMapping maps a canonical field to a source field identifier (a header
// name or a positional index). Missing keys mean the field is unmapped.
type FieldMapping map[string]string

// Clone returns an independent copy of m.
func (m FieldMapping) Clone() FieldMapping {
	out := make(FieldMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RawRecord is one parsed row: an ordered mapping from source field to value.
type RawRecord struct {
	Line   int
	Fields []string
	Values map[string]string
}

// NewRawRecord builds a record from parallel header and value slices.
func NewRawRecord(line int, headers, values []string) RawRecord {
	rec := RawRecord{
		Line:   line,
		Fields: append([]string(nil), headers...),
		Values: make(map[string]string, len(headers)),
	}
	for i, h := range headers {
		if i < len(values) {
			rec.Values[h] = values[i]
		} else {
			rec.Values[h] = ""
		}
	}
	return rec
}

// Get resolves a source identifier: exact field name, then case-insensitive
// name, then positional index.
func (r RawRecord) Get(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	if v, ok := r.Values[id]; ok {
		return v, true
	}
	for _, f := range r.Fields {
		if strings.EqualFold(strings.TrimSpace(f), strings.TrimSpace(id)) {
			return r.Values[f], true
		}
	}
	if idx, err := strconv.Atoi(id); err == nil && idx >= 0 && idx < len(r.Fields) {
		return r.Values[r.Fields[idx]], true
	}
	return "", false
}

// Ordered returns the values in field order.
func (r RawRecord) Ordered() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = r.Values[f]
	}
	return out
}
