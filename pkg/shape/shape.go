// Package shape extracts fields from JSON documents whose layout varies
// between backends. Each lookup takes an ordered list of gjson paths and
// returns the first one that resolves.
package shape

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Root is the path that selects the document itself.
const Root = "@this"

// Parse wraps raw JSON bytes. Invalid JSON yields a non-existent result.
func Parse(raw []byte) gjson.Result {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// First returns the first path that resolves to a non-null value.
func First(doc gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() && r.Type != gjson.Null {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// FirstString returns the first path holding a non-empty scalar, rendered as
// a string. Objects and arrays are skipped.
func FirstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := doc.Get(p)
		if !r.Exists() || r.IsObject() || r.IsArray() {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" && r.Type != gjson.False {
			return s
		}
	}
	return ""
}

// FirstArray returns the first path holding a JSON array.
func FirstArray(doc gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		if r := doc.Get(p); r.IsArray() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// FirstObject returns the first path holding a JSON object.
func FirstObject(doc gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		if r := doc.Get(p); r.IsObject() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// Int returns the first path holding a number, or 0.
func Int(doc gjson.Result, paths ...string) int {
	for _, p := range paths {
		if r := doc.Get(p); r.Type == gjson.Number {
			return int(r.Int())
		}
	}
	return 0
}
