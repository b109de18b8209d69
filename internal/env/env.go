// Package env composes the environment handed to supervised processes from
// the OS environment, manager-wide globals, and per-process overrides.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

type Env struct {
	Var Var // global overrides (K->V)
	env Var // cached base from the OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base layer.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set records a global override.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global override.
func (e *Env) Unset(k string) {
	delete(e.Var, k)
}

// WithSet returns a copy of e with k set, leaving e untouched.
func (e *Env) WithSet(k, v string) *Env {
	n := &Env{Var: make(Var, len(e.Var)+1), env: e.env}
	for key, val := range e.Var {
		n.Var[key] = val
	}
	n.Var[k] = v
	return n
}

// Merge composes the final "K=V" list: base OS env (cached or live), then
// global overrides, then perProc overrides. ${VAR} references are expanded
// once against the composed map, no recursion.
func (e *Env) Merge(perProc []string) []string {
	base := e.env
	if base == nil {
		base = make(Var)
		for _, kv := range os.Environ() {
			if k, v, ok := splitKV(kv); ok {
				base[k] = v
			}
		}
	}
	m := make(Var, len(base)+len(e.Var)+len(perProc))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = v
	}
	for _, kv := range perProc {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand substitutes ${VAR} using m; unknown names expand to empty.
func expand(v string, m Var) string {
	if !strings.Contains(v, "${") {
		return v
	}
	return os.Expand(v, func(name string) string { return m[name] })
}
