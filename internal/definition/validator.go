package definition

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var validListModes = map[string]bool{"list": true, "mosaic": true}

var validFieldTypes = map[string]bool{
	model.FieldText: true, model.FieldTextarea: true, model.FieldEmail: true,
	model.FieldInteger: true, model.FieldNumber: true, model.FieldBoolean: true,
	model.FieldDate: true, model.FieldChoice: true, model.FieldChoiceMask: true,
}

// Validator checks definitions structurally and against the registered
// filter types and export formats.
type Validator struct {
	filters       *datagrid.Registry
	exportFormats []string
}

// NewValidator creates a Validator. A nil filter registry skips filter type
// checks; an empty format list skips export format checks.
func NewValidator(filters *datagrid.Registry, exportFormats []string) *Validator {
	return &Validator{filters: filters, exportFormats: exportFormats}
}

// Validate checks all files, including references between admins.
func (v *Validator) Validate(files []model.DefinitionFile) []VError {
	var errs []VError

	codes := make(map[string]string)
	for i, f := range files {
		for j, a := range f.Admins {
			if a.Code == "" {
				continue
			}
			path := fmt.Sprintf("definitions[%d].admins[%d].code", i, j)
			if first, dup := codes[a.Code]; dup {
				errs = append(errs, VError{
					Path:    path,
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("admin code %q already declared at %s", a.Code, first),
				})
				continue
			}
			codes[a.Code] = path
		}
	}

	for i, f := range files {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if f.Group == "" {
			errs = append(errs, VError{Path: prefix + ".group", Code: "REQUIRED", Message: "group is required"})
		}
		if f.Version == "" {
			errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
		}
		if len(f.Admins) == 0 {
			errs = append(errs, VError{Path: prefix + ".admins", Code: "REQUIRED", Message: "at least one admin is required"})
		}
		for j, a := range f.Admins {
			errs = append(errs, v.validateAdmin(fmt.Sprintf("%s.admins[%d]", prefix, j), a, codes)...)
		}
	}
	return errs
}

func (v *Validator) validateAdmin(prefix string, a model.AdminDefinition, codes map[string]string) []VError {
	var errs []VError

	if a.Code == "" {
		errs = append(errs, VError{Path: prefix + ".code", Code: "REQUIRED", Message: "code is required"})
	}
	if a.Class == "" {
		errs = append(errs, VError{Path: prefix + ".class", Code: "REQUIRED", Message: "class is required"})
	}
	if a.PerPage < 0 {
		errs = append(errs, VError{Path: prefix + ".per_page", Code: "RANGE", Message: "per_page must not be negative"})
	}

	for _, r := range a.Routes {
		if !slices.Contains(model.AllRoutes, r) {
			errs = append(errs, VError{Path: prefix + ".routes", Code: "INVALID_ENUM", Message: fmt.Sprintf("unknown route %q", r)})
		}
	}

	if a.Parent != "" {
		switch {
		case a.Parent == a.Code:
			errs = append(errs, VError{Path: prefix + ".parent", Code: "INVALID_REF", Message: "an admin cannot be its own parent"})
		case codes[a.Parent] == "":
			errs = append(errs, VError{Path: prefix + ".parent", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("parent admin %q not found", a.Parent)})
		}
		if a.ParentAssociation == "" {
			errs = append(errs, VError{Path: prefix + ".parent_association", Code: "REQUIRED", Message: "parent_association is required for child admins"})
		}
	}

	if a.Abstract && len(a.Subclasses) == 0 {
		errs = append(errs, VError{Path: prefix + ".subclasses", Code: "REQUIRED", Message: "abstract admins need at least one subclass"})
	}
	for i, s := range a.Subclasses {
		if s.Name == "" || s.Class == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.subclasses[%d]", prefix, i), Code: "REQUIRED", Message: "subclass name and class are required"})
		}
	}

	for _, m := range a.ListModes {
		if !validListModes[m] {
			errs = append(errs, VError{Path: prefix + ".list_modes", Code: "INVALID_ENUM", Message: fmt.Sprintf("unknown list mode %q", m)})
		}
	}

	if a.HasRoute(model.RouteExport) && len(a.ExportFormats) == 0 {
		errs = append(errs, VError{Path: prefix + ".export_formats", Code: "REQUIRED", Message: "export route requires at least one export format"})
	}
	if len(v.exportFormats) > 0 {
		for _, f := range a.ExportFormats {
			if !slices.Contains(v.exportFormats, f) {
				errs = append(errs, VError{Path: prefix + ".export_formats", Code: "INVALID_ENUM", Message: fmt.Sprintf("unsupported export format %q", f)})
			}
		}
	}

	errs = append(errs, v.validateFields(prefix+".fields", a.Fields)...)

	for i, c := range a.ListFields {
		if c.Field == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.list_fields[%d].field", prefix, i), Code: "REQUIRED", Message: "field is required"})
		}
	}
	for i, c := range a.ShowFields {
		if c.Field == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.show_fields[%d].field", prefix, i), Code: "REQUIRED", Message: "field is required"})
		}
	}

	for i, f := range a.Filters {
		fp := fmt.Sprintf("%s.filters[%d]", prefix, i)
		if f.Field == "" {
			errs = append(errs, VError{Path: fp + ".field", Code: "REQUIRED", Message: "field is required"})
		}
		if v.filters == nil {
			continue
		}
		if _, ok := v.filters.Get(f.Type); !ok {
			errs = append(errs, VError{Path: fp + ".type", Code: "UNKNOWN_FILTER_TYPE", Message: fmt.Sprintf("unknown filter type %q", f.Type)})
		}
	}

	names := make(map[string]bool)
	for i, b := range a.BatchActions {
		bp := fmt.Sprintf("%s.batch_actions[%d]", prefix, i)
		if b.Name == "" {
			errs = append(errs, VError{Path: bp + ".name", Code: "REQUIRED", Message: "name is required"})
			continue
		}
		if names[b.Name] {
			errs = append(errs, VError{Path: bp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("batch action %q declared twice", b.Name)})
		}
		names[b.Name] = true
	}
	if len(a.BatchActions) > 0 && !a.HasRoute(model.RouteBatch) {
		errs = append(errs, VError{Path: prefix + ".batch_actions", Code: "ROUTE_MISSING", Message: "batch actions require the batch route"})
	}

	return errs
}

func (v *Validator) validateFields(prefix string, fields []model.FieldDefinition) []VError {
	var errs []VError

	declared := make(map[string]bool, len(fields))
	for _, f := range fields {
		declared[f.Field] = true
	}

	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		fp := fmt.Sprintf("%s[%d]", prefix, i)
		if f.Field == "" {
			errs = append(errs, VError{Path: fp + ".field", Code: "REQUIRED", Message: "field is required"})
		} else if seen[f.Field] {
			errs = append(errs, VError{Path: fp + ".field", Code: "DUPLICATE", Message: fmt.Sprintf("field %q declared twice", f.Field)})
		}
		seen[f.Field] = true

		if !validFieldTypes[f.Type] {
			errs = append(errs, VError{Path: fp + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("unknown field type %q", f.Type)})
		}
		if (f.Type == model.FieldChoice || f.Type == model.FieldChoiceMask) && len(f.Choices) == 0 {
			errs = append(errs, VError{Path: fp + ".choices", Code: "REQUIRED", Message: "choice fields need choices"})
		}
		if f.Type == model.FieldChoiceMask {
			for choice, shown := range f.Map {
				for _, name := range shown {
					if !declared[name] {
						errs = append(errs, VError{
							Path:    fmt.Sprintf("%s.map[%s]", fp, choice),
							Code:    "REF_NOT_FOUND",
							Message: fmt.Sprintf("masked field %q is not declared", name),
						})
					}
				}
			}
		}

		if f.Validation == nil {
			continue
		}
		if f.Validation.Pattern != "" {
			if _, err := regexp.Compile(f.Validation.Pattern); err != nil {
				errs = append(errs, VError{Path: fp + ".validation.pattern", Code: "INVALID_PATTERN", Message: err.Error()})
			}
		}
		if f.Validation.Min != nil && f.Validation.Max != nil && *f.Validation.Min > *f.Validation.Max {
			errs = append(errs, VError{Path: fp + ".validation", Code: "RANGE", Message: "min is greater than max"})
		}
		if f.Validation.MinLength != nil && f.Validation.MaxLength != nil && *f.Validation.MinLength > *f.Validation.MaxLength {
			errs = append(errs, VError{Path: fp + ".validation", Code: "RANGE", Message: "min_length is greater than max_length"})
		}
	}
	return errs
}
