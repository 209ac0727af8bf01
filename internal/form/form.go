// Package form binds submitted request values onto admin objects and
// validates them against field definitions.
package form

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pitabwire/crudadmin/model"
)

// Form is a single bound form instance. Request keys take the shape
// "<name>[<field>]".
type Form struct {
	name      string
	fields    []model.FieldDefinition
	data      map[string]any
	submitted bool
	errors    []model.FieldError
	hidden    map[string]bool
}

// New creates a form populated from obj. obj may be nil for an empty form.
func New(name string, fields []model.FieldDefinition, obj *model.Object) *Form {
	f := &Form{
		name:   name,
		fields: fields,
		data:   make(map[string]any, len(fields)),
		hidden: make(map[string]bool),
	}
	for _, fd := range fields {
		if obj != nil {
			if v, ok := obj.Fields[fd.Field]; ok {
				f.data[fd.Field] = v
			}
		}
	}
	f.hidden = hiddenByMasks(fields, f.data)
	return f
}

// Name returns the form name used as request key prefix.
func (f *Form) Name() string { return f.name }

// FullName returns the request key of a field.
func (f *Form) FullName(field string) string {
	return f.name + "[" + field + "]"
}

// HandleRequest binds values when the request submits this form. A form is
// submitted by any non-GET request carrying at least one "<name>[...]" key.
func (f *Form) HandleRequest(method string, values url.Values) {
	if method == http.MethodGet || method == http.MethodHead {
		return
	}
	prefix := f.name + "["
	found := false
	for k := range values {
		if strings.HasPrefix(k, prefix) {
			found = true
			break
		}
	}
	if !found {
		return
	}

	f.submitted = true
	f.errors = nil
	raw := make(map[string]string, len(f.fields))
	for _, fd := range f.fields {
		if fd.ReadOnly {
			continue
		}
		key := f.FullName(fd.Field)
		if fd.Type == model.FieldBoolean {
			f.data[fd.Field] = isTruthy(values.Get(key))
			continue
		}
		raw[fd.Field] = strings.TrimSpace(values.Get(key))
	}

	for k, v := range raw {
		f.data[k] = v
	}
	f.hidden = hiddenByMasks(f.fields, f.data)

	for _, fd := range f.fields {
		if fd.ReadOnly || fd.Type == model.FieldBoolean || f.hidden[fd.Field] {
			continue
		}
		value, ferr := validateField(fd, raw[fd.Field])
		if ferr != nil {
			f.errors = append(f.errors, *ferr)
			continue
		}
		f.data[fd.Field] = value
	}
}

// IsSubmitted reports whether the request submitted this form.
func (f *Form) IsSubmitted() bool { return f.submitted }

// IsValid reports whether the submitted data passed validation.
func (f *Form) IsValid() bool { return f.submitted && len(f.errors) == 0 }

// AddError attaches an error to the form, turning it invalid. An empty Field
// marks a form-level error.
func (f *Form) AddError(e model.FieldError) {
	f.errors = append(f.errors, e)
}

// Errors returns the field errors collected so far.
func (f *Form) Errors() []model.FieldError { return f.errors }

// ErrorMessages returns one message per error, in field order.
func (f *Form) ErrorMessages() []string {
	msgs := make([]string, 0, len(f.errors))
	for _, e := range f.errors {
		msgs = append(msgs, e.Message)
	}
	return msgs
}

// Data returns the bound values keyed by field.
func (f *Form) Data() map[string]any { return f.data }

// ApplyTo writes the bound, visible, writable values onto obj.
func (f *Form) ApplyTo(obj *model.Object) {
	for _, fd := range f.fields {
		if fd.ReadOnly || f.hidden[fd.Field] {
			continue
		}
		if v, ok := f.data[fd.Field]; ok {
			obj.Set(fd.Field, v)
		}
	}
}

// Descriptor renders the form for the frontend.
func (f *Form) Descriptor(action string) model.FormDescriptor {
	desc := model.FormDescriptor{
		Name:      f.name,
		UniqID:    f.name,
		Action:    action,
		Submitted: f.submitted,
		Valid:     f.IsValid(),
		Errors:    f.errors,
	}
	for _, fd := range f.fields {
		d := model.FieldDescriptor{
			Field:      fd.Field,
			FullName:   f.FullName(fd.Field),
			Label:      fd.Label,
			Type:       fd.Type,
			ReadOnly:   fd.ReadOnly,
			Required:   fd.Required,
			Hidden:     f.hidden[fd.Field],
			Validation: fd.Validation,
			HelpText:   fd.HelpText,
			Value:      f.data[fd.Field],
		}
		for _, c := range fd.Choices {
			d.Options = append(d.Options, model.OptionDescriptor{Label: c.Label, Value: c.Value})
		}
		if fd.Type == model.FieldChoiceMask {
			mask := NewChoiceFieldMask(fd.Map)
			d.Mask = mask.Map()
			d.AllFields = mask.AllFields()
		}
		desc.Fields = append(desc.Fields, d)
	}
	return desc
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func label(fd model.FieldDefinition) string {
	if fd.Label != "" {
		return fd.Label
	}
	return fd.Field
}

func fieldError(fd model.FieldDefinition, code, format string, args ...any) *model.FieldError {
	msg := fmt.Sprintf(format, args...)
	if fd.Validation != nil && fd.Validation.Message != "" && code != "REQUIRED" {
		msg = fd.Validation.Message
	}
	return &model.FieldError{Field: fd.Field, Code: code, Message: msg}
}
