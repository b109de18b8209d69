package env

import (
	"strings"
	"testing"
)

func find(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	t.Setenv("WARDEN_ENV_BASE", "from-os")
	t.Setenv("WARDEN_ENV_OVERRIDE", "from-os")

	e := New()
	e.FromOS()
	e.Set("WARDEN_ENV_OVERRIDE", "from-global")
	e.Set("WARDEN_ENV_GLOBAL", "g")

	out := e.Merge([]string{"WARDEN_ENV_OVERRIDE=from-proc", "WARDEN_ENV_PROC=p"})

	if v, _ := find(out, "WARDEN_ENV_BASE"); v != "from-os" {
		t.Fatalf("base layer lost: %q", v)
	}
	if v, _ := find(out, "WARDEN_ENV_GLOBAL"); v != "g" {
		t.Fatalf("global layer lost: %q", v)
	}
	if v, _ := find(out, "WARDEN_ENV_OVERRIDE"); v != "from-proc" {
		t.Fatalf("per-process override should win: %q", v)
	}
	if v, _ := find(out, "WARDEN_ENV_PROC"); v != "p" {
		t.Fatalf("per-process entry lost: %q", v)
	}
}

func TestMergeOutputSorted(t *testing.T) {
	e := New()
	e.Set("B", "2")
	e.Set("A", "1")
	out := e.Merge(nil)
	for i := 1; i < len(out); i++ {
		if out[i-1] > out[i] {
			t.Fatalf("output not sorted: %q before %q", out[i-1], out[i])
		}
	}
}

func TestMergeExpandsReferences(t *testing.T) {
	e := New()
	e.Set("BASE_DIR", "/srv/app")
	out := e.Merge([]string{"LOG_DIR=${BASE_DIR}/logs", "MISSING=${NO_SUCH_VAR}!"})
	if v, _ := find(out, "LOG_DIR"); v != "/srv/app/logs" {
		t.Fatalf("expansion failed: %q", v)
	}
	if v, _ := find(out, "MISSING"); v != "!" {
		t.Fatalf("unknown vars should expand empty: %q", v)
	}
}

func TestSetUnset(t *testing.T) {
	e := New()
	e.Set("K", "v")
	if e.Var["K"] != "v" {
		t.Fatalf("set failed")
	}
	e.Unset("K")
	if _, ok := e.Var["K"]; ok {
		t.Fatalf("unset failed")
	}
}

func TestWithSetDoesNotMutate(t *testing.T) {
	e := New()
	e.Set("A", "1")
	n := e.WithSet("B", "2")
	if _, ok := e.Var["B"]; ok {
		t.Fatalf("WithSet mutated the original")
	}
	if n.Var["A"] != "1" || n.Var["B"] != "2" {
		t.Fatalf("WithSet copy wrong: %#v", n.Var)
	}
}

func TestMergeSkipsMalformedEntries(t *testing.T) {
	e := New()
	out := e.Merge([]string{"NOEQUALS", "=empty-key", "GOOD=yes"})
	if _, ok := find(out, "NOEQUALS"); ok {
		t.Fatalf("malformed entry kept")
	}
	if v, _ := find(out, "GOOD"); v != "yes" {
		t.Fatalf("good entry lost: %q", v)
	}
}
