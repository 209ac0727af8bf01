package datagrid

import (
	"fmt"
	"testing"
)

func TestRegistry_builtinsAndAliases(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"string", "text", "exact", "choice", "select", "number", "integer", "boolean", "bool"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("Get(%q) not found", name)
		}
	}
	ft, _ := r.Get("integer")
	if ft.Name != "number" {
		t.Errorf("alias resolved to %q, want number", ft.Name)
	}
	if got := len(r.Names()); got != 5 {
		t.Errorf("Names() = %d entries, want 5", got)
	}
}

func TestRegistry_rejectsDuplicates(t *testing.T) {
	r := DefaultRegistry()
	noop := func(any, string, string) bool { return true }
	noSQL := func(string, string, string, ArgFunc) (string, error) { return "", nil }

	if err := r.Register(FilterType{Name: "string", Match: noop, SQL: noSQL}); err == nil {
		t.Error("duplicate name should be rejected")
	}
	if err := r.Register(FilterType{Name: "date", Aliases: []string{"text"}, Match: noop, SQL: noSQL}); err == nil {
		t.Error("alias colliding with an existing alias should be rejected")
	}
	if err := r.Register(FilterType{Name: "date"}); err == nil {
		t.Error("type without Match/SQL should be rejected")
	}
	if err := r.Register(FilterType{Name: "date", Aliases: []string{"datetime"}, Match: noop, SQL: noSQL}); err != nil {
		t.Fatalf("Register(date) error = %v", err)
	}
	if _, ok := r.Get("datetime"); !ok {
		t.Error("new alias should resolve")
	}
}

func TestFilterType_Match(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		typ, op, value string
		field          any
		want           bool
	}{
		{"string", OpContains, "GO", "Learning Go", true},
		{"string", OpNotContains, "go", "Learning Go", false},
		{"string", OpEqual, "learning go", "Learning Go", true},
		{"exact", OpEqual, "draft", "draft", true},
		{"exact", OpNotEqual, "draft", "draft", false},
		{"number", OpGreater, "10", 11, true},
		{"number", OpLessEq, "10", 10.0, true},
		{"number", OpEqual, "abc", 1, false},
		{"number", OpEqual, "1", nil, false},
		{"boolean", OpEqual, "1", true, true},
		{"boolean", OpEqual, "false", nil, true},
		{"boolean", OpEqual, "maybe", true, false},
		{"choice", OpNotEqual, "draft", "published", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s_%v", tt.typ, tt.op, tt.field), func(t *testing.T) {
			ft, _ := r.Get(tt.typ)
			if got := ft.Match(tt.field, tt.op, tt.value); got != tt.want {
				t.Errorf("Match(%v, %s, %s) = %v, want %v", tt.field, tt.op, tt.value, got, tt.want)
			}
		})
	}
}

func TestFilterType_SQL(t *testing.T) {
	r := DefaultRegistry()
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	ft, _ := r.Get("string")
	got, err := ft.SQL("title", OpContains, "50%", arg)
	if err != nil {
		t.Fatalf("SQL() error = %v", err)
	}
	if got != "title ILIKE $1" {
		t.Errorf("SQL() = %q", got)
	}
	if args[0] != `%50\%%` {
		t.Errorf("arg = %v, want escaped pattern", args[0])
	}

	num, _ := r.Get("number")
	if _, err := num.SQL("x", OpGreater, "ten", arg); err == nil {
		t.Error("non-numeric value should fail")
	}
	got, _ = num.SQL("x", OpLess, "3", arg)
	if got != "(x)::numeric < $2" {
		t.Errorf("number SQL = %q", got)
	}
}
