package validation

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type FieldErrors map[string]string

// FromBindError turns a gin bind error into field -> message pairs keyed by
// the JSON name. dst is the struct pointer that was bound.
func FromBindError(err error, dst any) FieldErrors {
	out := FieldErrors{}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fieldKey(dst, fe)] = messageForTag(fe.Tag(), fe.Param())
		}
		return out
	}

	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		out[te.Field] = "Has the wrong type."
		return out
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		out["_"] = "Request body is not valid JSON."
		return out
	}

	out["_"] = "Request body is invalid."
	return out
}

// fieldKey rebuilds the JSON path of the failing field, e.g.
// "delivery_address.postcode" or "medicines[0].name".
func fieldKey(dst any, fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	} else {
		return jsonName(reflect.TypeOf(dst), fe.StructField())
	}

	t := reflect.TypeOf(dst)
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		name, index, _ := strings.Cut(p, "[")
		key := jsonName(t, name)
		if index != "" {
			key += "[" + index
		}
		parts[i] = key
		t = fieldType(t, name)
	}
	return strings.Join(parts, ".")
}

func structType(t reflect.Type) reflect.Type {
	for t != nil && (t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		t = t.Elem()
	}
	return t
}

func fieldType(t reflect.Type, name string) reflect.Type {
	t = structType(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	f, ok := t.FieldByName(name)
	if !ok {
		return nil
	}
	return f.Type
}

func jsonName(t reflect.Type, field string) string {
	t = structType(t)
	if t == nil || t.Kind() != reflect.Struct {
		return strings.ToLower(field)
	}
	f, ok := t.FieldByName(field)
	if !ok {
		return strings.ToLower(field)
	}
	tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if tag == "" || tag == "-" {
		tag, _, _ = strings.Cut(f.Tag.Get("form"), ",")
	}
	if tag == "" || tag == "-" {
		return strings.ToLower(field)
	}
	return tag
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required."
	case "email":
		return "Must be a valid email address."
	case "min":
		return "Must be at least " + param + "."
	case "max":
		return "Must be at most " + param + "."
	case "len":
		return "Must be exactly " + param + " long."
	case "gt":
		return "Must be greater than " + param + "."
	case "oneof":
		return "Must be one of: " + param + "."
	default:
		return "Invalid value."
	}
}
