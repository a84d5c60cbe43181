// Package runconfig resolves the configuration a backend runs with from a
// stored run configuration, an optional named preset and the run identity.
package runconfig

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
)

// Keys always present in a resolved Config.
const (
	KeyEnv      = "env"
	KeyContext  = "context"
	KeyUID      = "uid"
	KeyUserID   = "user_id"
	KeyBasilEnv = "basil_env"
	KeyDelay    = "delay"
)

// Config is a resolved backend configuration. Values are scalars or nested
// string-keyed maps.
type Config map[string]any

// String returns the value at key rendered as a string. Missing keys, nil and
// map values yield "".
func (c Config) String(key string) string {
	return scalarString(c[key])
}

// Has reports whether key holds a non-empty scalar.
func (c Config) Has(key string) bool {
	return c.String(key) != ""
}

// StringOr returns the value at key, or def when it is empty.
func (c Config) StringOr(key, def string) string {
	if v := c.String(key); v != "" {
		return v
	}
	return def
}

// Int64 parses the value at key as an integer.
func (c Config) Int64(key string) (int64, error) {
	return strconv.ParseInt(c.String(key), 10, 64)
}

// Map returns the nested map at key as string pairs.
func (c Config) Map(key string) map[string]string {
	out := make(map[string]string)
	nested, ok := c[key].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range nested {
		out[k] = scalarString(v)
	}
	return out
}

// Env returns the environment variables passed to the backend.
func (c Config) Env() map[string]string { return c.Map(KeyEnv) }

// Context returns the context variables passed to the backend.
func (c Config) Context() map[string]string { return c.Map(KeyContext) }

// EnvValue returns a single environment variable.
func (c Config) EnvValue(key string) string {
	nested, _ := c[KeyEnv].(map[string]any)
	return scalarString(nested[key])
}

// Keys returns the top-level keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		return append([]any(nil), t...)
	default:
		return v
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// truthy mirrors the override rule for scalars: empty strings, zero numbers,
// false and nil never overwrite.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	return out
}
