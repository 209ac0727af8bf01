package form

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/crudadmin/model"
)

// ChoiceFieldMask maps each value of a choice field to the fields that are
// shown while that value is selected.
type ChoiceFieldMask struct {
	mapping map[string][]string
}

// NewChoiceFieldMask builds a mask from a choice value to field names map.
func NewChoiceFieldMask(mapping map[string][]string) ChoiceFieldMask {
	return ChoiceFieldMask{mapping: mapping}
}

// SanitizeFieldName makes a field path safe to use as an element id: "__"
// becomes "____" first, then "." becomes "__".
func SanitizeFieldName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "__", "____"), ".", "__")
}

// Map returns the mask with sanitized field names.
func (m ChoiceFieldMask) Map() map[string][]string {
	out := make(map[string][]string, len(m.mapping))
	for value, fields := range m.mapping {
		s := make([]string, 0, len(fields))
		for _, f := range fields {
			s = append(s, SanitizeFieldName(f))
		}
		out[value] = s
	}
	return out
}

// AllFields returns every sanitized field the mask controls, without
// duplicates, sorted.
func (m ChoiceFieldMask) AllFields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, fields := range m.mapping {
		for _, f := range fields {
			s := SanitizeFieldName(f)
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Hidden returns the raw field names the mask hides for the selected value.
func (m ChoiceFieldMask) Hidden(selected string) map[string]bool {
	shown := make(map[string]bool)
	for _, f := range m.mapping[selected] {
		shown[f] = true
	}
	hidden := make(map[string]bool)
	for _, fields := range m.mapping {
		for _, f := range fields {
			if !shown[f] {
				hidden[f] = true
			}
		}
	}
	return hidden
}

func hiddenByMasks(fields []model.FieldDefinition, data map[string]any) map[string]bool {
	hidden := make(map[string]bool)
	for _, fd := range fields {
		if fd.Type != model.FieldChoiceMask {
			continue
		}
		selected := ""
		if v, ok := data[fd.Field]; ok && v != nil {
			selected = fmt.Sprint(v)
		}
		for f := range NewChoiceFieldMask(fd.Map).Hidden(selected) {
			hidden[f] = true
		}
	}
	return hidden
}
