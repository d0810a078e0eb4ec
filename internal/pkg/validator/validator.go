package validator

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"bizdash/internal/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Get returns the shared validator. Field names in errors follow the json tags.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s and returns a *errors.ValidationError listing every violated field.
func Struct(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.NewValidationError("unknown", err.Error())
	}

	violations := make([]errors.FieldViolation, len(fieldErrs))
	for i, fe := range fieldErrs {
		field := fieldPath(fe)
		violations[i] = errors.FieldViolation{
			Field:   field,
			Tag:     fe.Tag(),
			Message: translate(fe, field),
		}
	}
	return &errors.ValidationError{Fields: violations}
}

// DecodeJSON strictly decodes data into dst and validates it. Type mismatches
// (e.g. a string where a number belongs) are reported as field violations
// alongside every schema violation of the remaining fields.
func DecodeJSON(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	err := dec.Decode(dst)
	if err == nil {
		if dec.More() {
			return errors.NewValidationError("body", "body must contain a single JSON object")
		}
		return Struct(dst)
	}

	typeViolations, ok := decodeFields(data, dst)
	if !ok {
		return decodeError(err)
	}
	return merge(typeViolations, Struct(dst))
}

// decodeFields decodes each top-level field of the struct dst points to on
// its own, leaving fields that do not decode at their zero value. It reports
// false when data is not a JSON object or dst is not a struct pointer.
func decodeFields(data []byte, dst interface{}) ([]errors.FieldViolation, bool) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}

	st := rv.Elem()
	st.Set(reflect.Zero(st.Type()))

	var violations []errors.FieldViolation
	for i := 0; i < st.NumField(); i++ {
		sf := st.Type().Field(i)
		if !sf.IsExported() {
			continue
		}
		name := strings.SplitN(sf.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		value, found := lookup(raw, name)
		if !found {
			continue
		}
		fv := st.Field(i)
		if err := json.Unmarshal(value, fv.Addr().Interface()); err != nil {
			fv.Set(reflect.Zero(fv.Type()))
			violations = append(violations, errors.FieldViolation{
				Field:   name,
				Tag:     "type",
				Message: fmt.Sprintf("%s must be of type %s", name, kindName(sf.Type)),
			})
		}
	}
	return violations, len(violations) > 0
}

// lookup matches keys the way the decoder does: exact first, then case-insensitive.
func lookup(raw map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if v, ok := raw[name]; ok {
		return v, true
	}
	for k, v := range raw {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func kindName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return t.String()
	}
}

// merge appends the schema violations to the type violations, skipping those
// on fields that already failed to decode.
func merge(typeViolations []errors.FieldViolation, structErr error) error {
	out := &errors.ValidationError{Fields: typeViolations}

	var verr *errors.ValidationError
	if !stderrors.As(structErr, &verr) {
		return out
	}
	failed := make(map[string]bool, len(typeViolations))
	for _, v := range typeViolations {
		failed[v.Field] = true
	}
	for _, v := range verr.Fields {
		if !failed[rootField(v.Field)] {
			out.Fields = append(out.Fields, v)
		}
	}
	return out
}

// rootField returns the top-level name of a path like "items[0].name".
func rootField(path string) string {
	if i := strings.IndexAny(path, ".["); i >= 0 {
		return path[:i]
	}
	return path
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case stderrors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return &errors.ValidationError{Fields: []errors.FieldViolation{{
			Field:   field,
			Tag:     "type",
			Message: fmt.Sprintf("%s must be of type %s", field, typeErr.Type.String()),
		}}}
	case stderrors.As(err, &syntaxErr), stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.NewValidationError("body", "body must be valid JSON")
	default:
		return errors.NewValidationError("body", err.Error())
	}
}

// fieldPath drops the root struct name from the namespace: "payload.items[0].name" -> "items[0].name".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

var messages = map[string]string{
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"url":      "%s must be a valid URL",
}

var messagesWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func translate(fe validator.FieldError, field string) string {
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}

	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
