package models

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Filter maps an indexed field to its allowed values. Values of one field
// are OR-ed, fields are AND-ed.
type Filter map[string][]string

// Validate rejects fields without a secondary index and empty value sets
func (f Filter) Validate() error {
	for field, values := range f {
		if !slices.Contains(IndexedFields, field) {
			return fmt.Errorf("%w: field %q is not indexed", ErrInvalidFilter, field)
		}
		if len(values) == 0 {
			return fmt.Errorf("%w: field %q has no values", ErrInvalidFilter, field)
		}
	}
	return nil
}

// Matches reports whether a payload satisfies every condition
func (f Filter) Matches(p Payload) bool {
	for field, values := range f {
		if !slices.Contains(values, p.Field(field)) {
			return false
		}
	}
	return true
}

// Fields returns the filtered field names in sorted order
func (f Filter) Fields() []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// String renders the filter canonically, with fields and values sorted
func (f Filter) String() string {
	var b strings.Builder
	for i, field := range f.Fields() {
		if i > 0 {
			b.WriteByte(';')
		}
		values := slices.Clone(f[field])
		sort.Strings(values)
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}

// ParseFilter reads "field=v1,v2" expressions
func ParseFilter(exprs []string) (Filter, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	f := Filter{}
	for _, expr := range exprs {
		field, values, ok := strings.Cut(expr, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not field=value", ErrInvalidFilter, expr)
		}
		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				f[strings.TrimSpace(field)] = append(f[strings.TrimSpace(field)], v)
			}
		}
	}
	return f, f.Validate()
}

// Stats aggregates payload values over the collection
type Stats struct {
	TotalVectors       int            `json:"total_vectors"`
	DocumentTypeCounts map[string]int `json:"document_type_counts"`
	FileCounts         map[string]int `json:"file_counts"`
	ContentTypeCounts  map[string]int `json:"content_type_counts"`
	Scanned            int            `json:"scanned"`
}

// ListPage is one page of a type-filtered listing. HasMore is set when the
// page is exactly limit long and does not guarantee a further page.
type ListPage struct {
	Documents []Payload `json:"documents"`
	Total     int       `json:"total"`
	HasMore   bool      `json:"has_more"`
}
