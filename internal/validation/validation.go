// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package validation wraps go-playground/validator with field-level messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// CodeValidationFailed marks struct validation errors.
const CodeValidationFailed = "VALIDATION_FAILED"

// validate is the shared validator instance. It is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their serialized name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "yaml"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Struct validates s and returns a VALIDATION_FAILED error whose "fields"
// context maps each failing field to a readable message.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.Code(CodeValidationFailed).Wrap(err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = message(fe)
	}

	return oops.Code(CodeValidationFailed).
		With("fields", fields).
		Errorf("validation failed: %s", summary(fields))
}

// Fields extracts the field messages from a VALIDATION_FAILED error.
func Fields(err error) map[string]string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	fields, _ := oopsErr.Context()["fields"].(map[string]string)
	return fields
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a host:port address", field)
	case "contains":
		return fmt.Sprintf("%s must contain %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s validation failed on '%s' tag", field, fe.Tag())
	}
}

func summary(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, m := range fields {
		msgs = append(msgs, m)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
