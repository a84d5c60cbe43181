// Package kv implements the flat "key=value;key=value" format used for
// environment and context variables on run configurations.
//
// Values cannot contain ';' or '=': the format has no escaping.
package kv

import (
	"sort"
	"strings"
)

const (
	pairSep = ";"
	kvSep   = "="
)

// Decode parses s into a map. Pairs that contain no '=' or more than one '='
// are dropped, as are pairs with an empty key.
func Decode(s string) map[string]string {
	out := make(map[string]string)
	for pair := range strings.SplitSeq(s, pairSep) {
		if strings.Count(pair, kvSep) != 1 {
			continue
		}
		k, v, _ := strings.Cut(pair, kvSep)
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Encode is the inverse of Decode. Keys are emitted in sorted order so the
// output is stable.
func Encode(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(kvSep)
		b.WriteString(m[k])
		b.WriteString(pairSep)
	}
	return strings.TrimSuffix(b.String(), pairSep)
}
