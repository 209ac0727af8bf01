package datagrid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Filter operators.
const (
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpEqual       = "eq"
	OpNotEqual    = "neq"
	OpGreater     = "gt"
	OpGreaterEq   = "gte"
	OpLess        = "lt"
	OpLessEq      = "lte"
)

// ArgFunc registers a query argument and returns its placeholder.
type ArgFunc func(v any) string

// FilterType knows how to apply one kind of filter, both to in-memory values
// and as a SQL condition. The first operator is the default.
type FilterType struct {
	Name      string
	Aliases   []string
	Operators []string

	// Match reports whether a stored field value satisfies the filter.
	Match func(field any, op, value string) bool
	// SQL renders a condition over expr, which evaluates to the field as text.
	SQL func(expr, op, value string, arg ArgFunc) (string, error)
}

// DefaultOperator returns the operator applied when none is requested.
func (t FilterType) DefaultOperator() string {
	if len(t.Operators) == 0 {
		return OpEqual
	}
	return t.Operators[0]
}

// Supports reports whether op is one of the type's operators.
func (t FilterType) Supports(op string) bool {
	for _, o := range t.Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Registry maps filter type names and aliases to filter types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]FilterType
	names map[string]string
}

// NewRegistry returns an empty filter registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]FilterType),
		names: make(map[string]string),
	}
}

// DefaultRegistry returns a registry holding the built-in filter types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range builtinTypes() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a filter type. Names and aliases share one namespace and must
// be unique.
func (r *Registry) Register(t FilterType) error {
	if t.Name == "" {
		return fmt.Errorf("datagrid: filter type name is required")
	}
	if t.Match == nil || t.SQL == nil {
		return fmt.Errorf("datagrid: filter type %q must implement Match and SQL", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{t.Name}, t.Aliases...)
	for _, k := range keys {
		if owner, ok := r.names[k]; ok {
			return fmt.Errorf("datagrid: filter name %q already registered by %q", k, owner)
		}
	}
	r.types[t.Name] = t
	for _, k := range keys {
		r.names[k] = t.Name
	}
	return nil
}

// Get resolves a filter type by name or alias.
func (r *Registry) Get(name string) (FilterType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.names[name]
	if !ok {
		return FilterType{}, false
	}
	return r.types[canonical], true
}

// Names returns the canonical names of all registered types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for n := range r.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func builtinTypes() []FilterType {
	return []FilterType{
		{
			Name:      "string",
			Aliases:   []string{"text"},
			Operators: []string{OpContains, OpNotContains, OpEqual},
			Match: func(field any, op, value string) bool {
				s := strings.ToLower(stringify(field))
				v := strings.ToLower(value)
				switch op {
				case OpNotContains:
					return !strings.Contains(s, v)
				case OpEqual:
					return s == v
				default:
					return strings.Contains(s, v)
				}
			},
			SQL: func(expr, op, value string, arg ArgFunc) (string, error) {
				switch op {
				case OpNotContains:
					return fmt.Sprintf("COALESCE(%s, '') NOT ILIKE %s", expr, arg("%"+escapeLike(value)+"%")), nil
				case OpEqual:
					return fmt.Sprintf("LOWER(%s) = LOWER(%s)", expr, arg(value)), nil
				default:
					return fmt.Sprintf("%s ILIKE %s", expr, arg("%"+escapeLike(value)+"%")), nil
				}
			},
		},
		{
			Name:      "exact",
			Operators: []string{OpEqual, OpNotEqual},
			Match: func(field any, op, value string) bool {
				eq := stringify(field) == value
				if op == OpNotEqual {
					return !eq
				}
				return eq
			},
			SQL: equalitySQL,
		},
		{
			Name:      "choice",
			Aliases:   []string{"select"},
			Operators: []string{OpEqual, OpNotEqual},
			Match: func(field any, op, value string) bool {
				eq := stringify(field) == value
				if op == OpNotEqual {
					return !eq
				}
				return eq
			},
			SQL: equalitySQL,
		},
		{
			Name:      "number",
			Aliases:   []string{"integer"},
			Operators: []string{OpEqual, OpGreater, OpGreaterEq, OpLess, OpLessEq},
			Match: func(field any, op, value string) bool {
				f, err := strconv.ParseFloat(stringify(field), 64)
				if err != nil {
					return false
				}
				v, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return false
				}
				switch op {
				case OpGreater:
					return f > v
				case OpGreaterEq:
					return f >= v
				case OpLess:
					return f < v
				case OpLessEq:
					return f <= v
				default:
					return f == v
				}
			},
			SQL: func(expr, op, value string, arg ArgFunc) (string, error) {
				v, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return "", fmt.Errorf("datagrid: %q is not a number", value)
				}
				sym := map[string]string{OpGreater: ">", OpGreaterEq: ">=", OpLess: "<", OpLessEq: "<="}[op]
				if sym == "" {
					sym = "="
				}
				return fmt.Sprintf("(%s)::numeric %s %s", expr, sym, arg(v)), nil
			},
		},
		{
			Name:      "boolean",
			Aliases:   []string{"bool"},
			Operators: []string{OpEqual},
			Match: func(field any, _ string, value string) bool {
				want, ok := parseBool(value)
				if !ok {
					return false
				}
				got, _ := parseBool(stringify(field))
				return got == want
			},
			SQL: func(expr, _ string, value string, arg ArgFunc) (string, error) {
				want, ok := parseBool(value)
				if !ok {
					return "", fmt.Errorf("datagrid: %q is not a boolean", value)
				}
				return fmt.Sprintf("COALESCE((%s)::boolean, false) = %s", expr, arg(want)), nil
			},
		},
	}
}

func equalitySQL(expr, op, value string, arg ArgFunc) (string, error) {
	if op == OpNotEqual {
		return fmt.Sprintf("%s IS DISTINCT FROM %s", expr, arg(value)), nil
	}
	return fmt.Sprintf("%s = %s", expr, arg(value)), nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off", "":
		return false, true
	}
	return false, false
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
