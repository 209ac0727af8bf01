// Package datagrid builds list queries from filter parameters and pages
// through their results.
package datagrid

import "strings"

// Sort directions.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// Criterion restricts a query by one filtered field.
type Criterion struct {
	Field    string
	Type     string
	Operator string
	Value    string
}

// Query describes which objects of a class a list, batch or export acts on.
// MaxResults of zero means unbounded.
type Query struct {
	Class       string
	Criteria    []Criterion
	SortBy      string
	SortOrder   string
	FirstResult int
	MaxResults  int
	Identifiers []string
}

// NewQuery returns an unbounded query over class.
func NewQuery(class string) *Query {
	return &Query{Class: class, SortOrder: SortAsc}
}

// ResetBounds drops pagination so the query covers the full matching set.
func (q *Query) ResetBounds() {
	q.FirstResult = 0
	q.MaxResults = 0
}

// RestrictTo limits the query to the given identifiers, keeping the filters.
func (q *Query) RestrictTo(ids []string) {
	q.Identifiers = append([]string(nil), ids...)
}

// IsRestricted reports whether an identifier restriction applies.
func (q *Query) IsRestricted() bool {
	return len(q.Identifiers) > 0
}

// Descending reports whether results are sorted in descending order.
func (q *Query) Descending() bool {
	return strings.EqualFold(q.SortOrder, SortDesc)
}

// Clone returns a deep copy of the query.
func (q *Query) Clone() *Query {
	c := *q
	c.Criteria = append([]Criterion(nil), q.Criteria...)
	c.Identifiers = append([]string(nil), q.Identifiers...)
	return &c
}
