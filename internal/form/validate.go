package form

import (
	"net/mail"
	"regexp"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pitabwire/crudadmin/model"
)

var patterns sync.Map

func compiled(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Store(pattern, re)
	return re, nil
}

// validateField checks one raw value and converts it to the field's type.
// Only the first failing rule is reported.
func validateField(fd model.FieldDefinition, raw string) (any, *model.FieldError) {
	if raw == "" {
		if fd.Required {
			return nil, fieldError(fd, "REQUIRED", "%s is required", label(fd))
		}
		return nil, nil
	}

	v := fd.Validation
	switch fd.Type {
	case model.FieldInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fieldError(fd, "INVALID_INTEGER", "%s must be a whole number", label(fd))
		}
		if ferr := checkRange(fd, float64(n)); ferr != nil {
			return nil, ferr
		}
		return n, nil
	case model.FieldNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fieldError(fd, "INVALID_NUMBER", "%s must be a number", label(fd))
		}
		if ferr := checkRange(fd, n); ferr != nil {
			return nil, ferr
		}
		return n, nil
	case model.FieldDate:
		if _, err := time.Parse(time.DateOnly, raw); err != nil {
			return nil, fieldError(fd, "INVALID_DATE", "%s must be a date (YYYY-MM-DD)", label(fd))
		}
		return raw, nil
	case model.FieldChoice, model.FieldChoiceMask:
		if !hasChoice(fd, raw) {
			return nil, fieldError(fd, "INVALID_CHOICE", "%s has an invalid choice", label(fd))
		}
		return raw, nil
	case model.FieldEmail:
		if _, err := mail.ParseAddress(raw); err != nil {
			return nil, fieldError(fd, "INVALID_EMAIL", "%s must be a valid email address", label(fd))
		}
	}

	if v != nil {
		n := utf8.RuneCountInString(raw)
		if v.MinLength != nil && n < *v.MinLength {
			return nil, fieldError(fd, "MIN_LENGTH", "%s must be at least %d characters", label(fd), *v.MinLength)
		}
		if v.MaxLength != nil && n > *v.MaxLength {
			return nil, fieldError(fd, "MAX_LENGTH", "%s must be at most %d characters", label(fd), *v.MaxLength)
		}
		if v.Pattern != "" {
			re, err := compiled(v.Pattern)
			if err != nil || !re.MatchString(raw) {
				return nil, fieldError(fd, "PATTERN", "%s has an invalid format", label(fd))
			}
		}
	}
	return raw, nil
}

func checkRange(fd model.FieldDefinition, n float64) *model.FieldError {
	v := fd.Validation
	if v == nil {
		return nil
	}
	if v.Min != nil && n < *v.Min {
		return fieldError(fd, "MIN", "%s must be at least %v", label(fd), *v.Min)
	}
	if v.Max != nil && n > *v.Max {
		return fieldError(fd, "MAX", "%s must be at most %v", label(fd), *v.Max)
	}
	return nil
}

func hasChoice(fd model.FieldDefinition, value string) bool {
	for _, c := range fd.Choices {
		if c.Value == value {
			return true
		}
	}
	if fd.Type == model.FieldChoiceMask && len(fd.Choices) == 0 {
		_, ok := fd.Map[value]
		return ok
	}
	return false
}
