package common

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
)

// Config values may reference key/value store entries with {key-name}
// placeholders so secrets stay out of config files:
//
//	api_key = "{anthropic_api_key}"
//
// Resolution is case-sensitive. Unresolved references are left in place and
// logged, never treated as errors.

// keyRefPattern matches {key-name} placeholders: alphanumerics, hyphens,
// underscores.
var keyRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// ReplaceKeyReferences resolves every {key-name} placeholder in input
// against kvMap. Unknown keys keep their placeholder.
func ReplaceKeyReferences(input string, kvMap map[string]string, logger arbor.ILogger) string {
	if input == "" || !strings.Contains(input, "{") {
		return input
	}

	missing := map[string]bool{}
	out := keyRefPattern.ReplaceAllStringFunc(input, func(ref string) string {
		name := ref[1 : len(ref)-1]
		if value, ok := kvMap[name]; ok {
			return value
		}
		missing[name] = true
		return ref
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		logger.Warn().
			Str("keys", strings.Join(names, ", ")).
			Msg("Unresolved key references left in place")
	}
	return out
}

// ReplaceInStruct resolves {key-name} placeholders in every reachable string
// field of a struct: nested structs, struct pointers, string slices, and
// string-valued maps. v must be a struct pointer so fields mutate in place.
func ReplaceInStruct(v interface{}, kvMap map[string]string, logger arbor.ILogger) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ReplaceInStruct requires a struct pointer, got %T", v)
	}

	rewriteStrings(val.Elem(), func(s string) string {
		return ReplaceKeyReferences(s, kvMap, logger)
	})
	return nil
}

// rewriteStrings applies a transform to every settable string reachable from
// val. Unexported fields are skipped; reflect cannot write through them.
func rewriteStrings(val reflect.Value, apply func(string) string) {
	switch val.Kind() {
	case reflect.String:
		if val.CanSet() {
			val.SetString(apply(val.String()))
		}

	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			if !val.Type().Field(i).IsExported() {
				continue
			}
			rewriteStrings(val.Field(i), apply)
		}

	case reflect.Ptr:
		if !val.IsNil() {
			rewriteStrings(val.Elem(), apply)
		}

	case reflect.Slice:
		for i := 0; i < val.Len(); i++ {
			rewriteStrings(val.Index(i), apply)
		}

	case reflect.Map:
		if val.Type().Key().Kind() == reflect.String && val.Type().Elem().Kind() == reflect.String {
			for _, key := range val.MapKeys() {
				val.SetMapIndex(key, reflect.ValueOf(apply(val.MapIndex(key).String())))
			}
		}
	}
}
