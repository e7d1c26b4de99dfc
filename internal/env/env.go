// Package env composes child-process environments: the daemon's OS
// environment as base, global overrides from config, then per-instance
// overrides, with simple ${VAR} expansion against the composed map.
package env

import (
	"os"
	"strings"
)

// Merge returns the final "K=V" environment slice. Later layers win.
func Merge(global, perInstance []string) []string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		put(m, kv)
	}
	for _, kv := range global {
		put(m, kv)
	}
	for _, kv := range perInstance {
		put(m, kv)
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func put(m map[string]string, kv string) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return
	}
	m[kv[:i]] = kv[i+1:]
}

// expand substitutes ${VAR} references once, without recursion.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
