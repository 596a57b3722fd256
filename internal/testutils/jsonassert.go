package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in an expected document matches any actual value
// as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// MustJSON renders v or panics. Test-only convenience.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls how loosely documents are compared.
type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	NilToEmptyArray          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// JSONOption mutates the asserter's options.
type JSONOption func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithNilToEmptyArray(normalize bool) JSONOption {
	return func(o *JSONAssertOptions) { o.NilToEmptyArray = normalize }
}

func WithPresencePlaceholder(allow bool) JSONOption {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents semantically and reports
// structured diffs instead of string mismatches.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t *testing.T, opts ...JSONOption) *JSONAsserter {
	return NewJSONAsserterWithInterface(t, opts...)
}

func NewJSONAsserterWithInterface(t TestingT, opts ...JSONOption) *JSONAsserter {
	options := JSONAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &JSONAsserter{t: t, options: options}
}

// Assert fails the test when actualJSON differs from expectedJSON under
// the configured comparison rules.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects, not root-level arrays; wrap both.
	if isArray(expected) && isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		adoptPresent(expected, actual)
	}
	if ja.options.NilToEmptyArray {
		normalizeNilArrays(expected, actual)
	}
	if len(ja.options.IgnoredFields) > 0 {
		dropFields(expected, actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	out, _ := f.Format(diff)
	return out
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// adoptPresent copies actual values over placeholder markers so the
// comparison only checks existence.
func adoptPresent(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if actVal, exists := act[k]; exists {
					exp[k] = actVal
				}
				continue
			}
			adoptPresent(v, act[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				adoptPresent(exp[i], act[i])
			}
		}
	}
}

// normalizeNilArrays equates null and [] when the other side is empty,
// since Go marshals nil slices as null.
func normalizeNilArrays(expected, actual interface{}) {
	exp, okE := expected.(map[string]interface{})
	act, okA := actual.(map[string]interface{})
	if okE && okA {
		for k := range exp {
			if emptyOrNilPair(exp[k], act[k]) {
				if exp[k] == nil {
					exp[k] = []interface{}{}
				}
				if act[k] == nil {
					act[k] = []interface{}{}
				}
				continue
			}
			normalizeNilArrays(exp[k], act[k])
		}
		return
	}

	expArr, okE := expected.([]interface{})
	actArr, okA := actual.([]interface{})
	if okE && okA {
		for i := range expArr {
			if i < len(actArr) {
				normalizeNilArrays(expArr[i], actArr[i])
			}
		}
	}
}

func emptyOrNilPair(a, b interface{}) bool {
	isEmptyish := func(v interface{}) bool {
		if v == nil {
			return true
		}
		arr, ok := v.([]interface{})
		return ok && len(arr) == 0
	}
	return (a == nil || b == nil) && isEmptyish(a) && isEmptyish(b)
}

// dropFields deletes named keys everywhere in both documents.
func dropFields(expected, actual interface{}, fields []string) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for _, f := range fields {
			delete(exp, f)
			delete(act, f)
		}
		for k := range exp {
			dropFields(exp[k], act[k], fields)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				dropFields(exp[i], act[i], fields)
			}
		}
	}
}

// pruneExtraKeys removes keys from actual that expected never mentions.
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
