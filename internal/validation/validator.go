// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package validation wraps a shared go-playground/validator instance with the
// custom tags used by collection requests and configuration:
//
//   - timeofday: "HH:MM" in 24h form
//   - listref:   "watchlist", "<user>/<slug>" or a numeric list id
//
// Field names in errors come from the json tag so API clients see the same
// names they sent.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	timeOfDayRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	userListRe  = regexp.MustCompile(`^[A-Za-z0-9_.\-]+/[A-Za-z0-9_.\-]+$`)
	numericRe   = regexp.MustCompile(`^[0-9]+$`)
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Error is returned by ValidateStruct when any rule fails.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Details renders the field errors for the API error envelope.
func (e *Error) Details() map[string]any {
	return map[string]any{"fields": e.Fields}
}

// IsTimeOfDay reports whether s is a 24h "HH:MM" value.
func IsTimeOfDay(s string) bool {
	return timeOfDayRe.MatchString(s)
}

// IsListRef reports whether s is a list reference the list provider understands.
func IsListRef(s string) bool {
	return s == "watchlist" || userListRe.MatchString(s) || numericRe.MatchString(s)
}

// Get returns the shared validator, building it on first use.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				if k := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]; k != "" {
					return k
				}
				return fld.Name
			}
			return name
		})
		mustRegister(v, "timeofday", func(fl validator.FieldLevel) bool {
			return IsTimeOfDay(fl.Field().String())
		})
		mustRegister(v, "listref", func(fl validator.FieldLevel) bool {
			return IsListRef(fl.Field().String())
		})
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

// ValidateStruct returns nil or an *Error describing every failed rule.
func ValidateStruct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(verrs))}
	for i, fe := range verrs {
		out.Fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		}
	}
	return out
}

var simpleMessages = map[string]string{
	"required":  "%s is required",
	"url":       "%s must be a valid URL",
	"timeofday": "%s must be a time of day in HH:MM form",
	"listref":   "%s must be 'watchlist', '<user>/<slug>' or a numeric list id",
	"dive":      "%s contains an invalid element",
	"unique":    "%s must not contain duplicates",
}

var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func message(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()
	if tmpl, ok := simpleMessages[tag]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[tag]; ok {
		return fmt.Sprintf(tmpl, field, param)
	}

	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch tag {
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", field, param, unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", field, param, unit)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
