// Package domain defines the records, backend contracts, table catalog and
// error taxonomy shared by the erpcore table engine and its adapters.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Well-known column names present on every table.
const (
	FieldID        = "id"
	FieldSortOrder = "sort_order"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// ReservedID is the draft-row sentinel. Backends refuse to persist a record
// carrying it.
const ReservedID = "__pending__"

// Record is one table row keyed by column name. Field names are validated
// against a TableSpec at the boundary; the engine treats records as opaque.
type Record map[string]any

// ID returns the record identifier in string form.
func (r Record) ID() string {
	return IDOf(r[FieldID])
}

// SortOrder returns the record's sort_order when present and numeric.
func (r Record) SortOrder() (int, bool) {
	v, ok := r[FieldSortOrder]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Text returns the named field rendered as a string; nil and missing
// fields yield "".
func (r Record) Text(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the named field as a number. Numeric strings such as
// "1,200,000" (grouped won amounts) are accepted.
func (r Record) Float(field string) float64 {
	f, _ := toFloat(r[field])
	return f
}

// Has reports whether the field is present and non-empty.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}

// Clone returns a deep copy of the record. Nested maps and slices produced
// by JSON decoding are copied so mutations never alias the source.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Without returns a copy of the record with the named fields removed.
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// CloneRecords deep-copies a record slice.
func CloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// IDOf normalizes an identifier value (string, JSON number, integer) to its
// string form. Postgres bigint ids decoded from JSON arrive as float64.
func IDOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []Attachment:
		return append([]Attachment(nil), t...)
	default:
		return v
	}
}
